// Package memory keeps long-term facts extracted when a session is finalized.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Muvon/octomind-sub000/internal/storage"
)

var factsPath = []string{"memory", "facts"}

// Fact is one remembered statement.
type Fact struct {
	ID      string `json:"id"`
	Session string `json:"session"`
	Text    string `json:"text"`
	Created int64  `json:"created"`
}

// Store is an append-only fact log.
type Store struct {
	storage *storage.Storage
}

// NewStore creates a store on top of s.
func NewStore(s *storage.Storage) *Store {
	return &Store{storage: s}
}

// Add records facts learned in a session. Blank and duplicate facts are skipped.
func (m *Store) Add(ctx context.Context, session string, facts []string) ([]Fact, error) {
	existing, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[normalize(f.Text)] = true
	}

	now := time.Now().UnixMilli()
	var added []Fact
	var records []any
	for _, text := range facts {
		text = strings.TrimSpace(text)
		key := normalize(text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		f := Fact{ID: ulid.Make().String(), Session: session, Text: text, Created: now}
		added = append(added, f)
		records = append(records, f)
	}
	if len(records) == 0 {
		return nil, nil
	}
	if err := m.storage.Append(ctx, factsPath, records...); err != nil {
		return nil, err
	}
	return added, nil
}

// List returns every fact in insertion order.
func (m *Store) List(ctx context.Context) ([]Fact, error) {
	var out []Fact
	err := m.storage.Read(ctx, factsPath, func(line json.RawMessage) error {
		var f Fact
		if err := json.Unmarshal(line, &f); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return out, err
}

// Recent renders the latest n facts as a bullet list for prompt templates.
func (m *Store) Recent(ctx context.Context, n int) (string, error) {
	facts, err := m.List(ctx)
	if err != nil {
		return "", err
	}
	if n > 0 && len(facts) > n {
		facts = facts[len(facts)-n:]
	}
	var sb strings.Builder
	for _, f := range facts {
		sb.WriteString("- ")
		sb.WriteString(f.Text)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
