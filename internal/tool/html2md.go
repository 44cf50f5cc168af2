package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/mark3labs/mcp-go/mcp"
)

const html2mdDescription = `Converts an HTML page to Markdown.

Usage notes:
  - source is either a fully-formed http:// or https:// URL or a path to a local HTML file
  - Scripts, styles and embedded objects are removed before conversion
  - Responses larger than 5MB are rejected
  - The page title, when present, is returned as the first heading`

const maxResponseSize = 5 * 1024 * 1024 // 5MB

// HTML2MDInput is the input of html2md.
type HTML2MDInput struct {
	Source string `json:"source"`
}

func (f *filesystem) html2md(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params HTML2MDInput
	if err := bind(req, &params); err != nil {
		return failure(err)
	}
	if params.Source == "" {
		return failure(fmt.Errorf("source is required"))
	}

	var (
		html string
		err  error
	)
	if strings.HasPrefix(params.Source, "http://") || strings.HasPrefix(params.Source, "https://") {
		html, err = f.fetch(ctx, params.Source)
	} else {
		var data []byte
		data, err = os.ReadFile(f.resolve(params.Source))
		html = string(data)
	}
	if err != nil {
		return failure(err)
	}

	out, err := convertHTMLToMarkdown(html)
	if err != nil {
		return failure(fmt.Errorf("failed to convert HTML to markdown: %w", err))
	}
	return mcp.NewToolResultText(out), nil
}

func (f *filesystem) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; octomind)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("request failed with status code: %d", resp.StatusCode)
	}
	if resp.ContentLength > maxResponseSize {
		return "", fmt.Errorf("response too large (exceeds 5MB limit)")
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > maxResponseSize {
		return "", fmt.Errorf("response too large (exceeds 5MB limit)")
	}
	return string(body), nil
}

// convertHTMLToMarkdown strips non-content elements with goquery, then
// converts the remaining document.
func convertHTMLToMarkdown(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, iframe, object, embed").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("head").Remove()

	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("meta", "link")

	markdown := converter.Convert(doc.Selection)
	markdown = strings.TrimSpace(markdown)
	if title != "" && !strings.HasPrefix(markdown, "# ") {
		markdown = "# " + title + "\n\n" + markdown
	}
	return markdown, nil
}
