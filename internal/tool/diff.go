package tool

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// diffSummary is a line diff between two versions of a file.
type diffSummary struct {
	Text      string
	Additions int
	Deletions int
}

func (d diffSummary) String() string {
	if d.Text == "" {
		return "(no changes)"
	}
	return fmt.Sprintf("+%d -%d\n%s", d.Additions, d.Deletions, d.Text)
}

// lineDiff computes a patch-style diff between before and after, headed by
// path relative to baseDir.
func lineDiff(path, before, after, baseDir string) diffSummary {
	if before == after {
		return diffSummary{}
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var sum diffSummary
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			sum.Additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			sum.Deletions += countLines(d.Text)
		}
	}

	patchText := dmp.PatchToText(dmp.PatchMake(before, diffs))
	if patchText == "" {
		return sum
	}
	var sb strings.Builder
	if rel := relativePath(path, baseDir); rel != "" {
		sb.WriteString(fmt.Sprintf("--- %s\n+++ %s\n", rel, rel))
	}
	sb.WriteString(patchText)
	sum.Text = sb.String()
	return sum
}

func relativePath(path, baseDir string) string {
	if path == "" || baseDir == "" {
		return path
	}
	if rel, err := filepath.Rel(baseDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}
