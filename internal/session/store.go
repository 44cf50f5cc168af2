package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Muvon/octomind-sub000/internal/storage"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

const logVersion = 1

// Record types of the session log.
const (
	recordSession = "session"
	recordMessage = "message"
	recordState   = "state"
)

// record is one line of the session log.
type record struct {
	Type    string         `json:"type"`
	Session *header        `json:"session,omitempty"`
	Message *types.Message `json:"message,omitempty"`
	State   *state         `json:"state,omitempty"`
}

type header struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	Created int64  `json:"created"`
}

// state is appended after every turn. The last one in the log wins.
type state struct {
	Role        string      `json:"role"`
	Model       string      `json:"model"`
	Usage       types.Usage `json:"usage"`
	Checkpoints []int       `json:"checkpoints,omitempty"`
	Messages    int         `json:"messages"`
	Updated     int64       `json:"updated"`
}

// Store persists sessions as JSONL logs under sessions/<name>.jsonl.
type Store struct {
	storage *storage.Storage
}

// NewStore creates a session store on top of s.
func NewStore(s *storage.Storage) *Store {
	return &Store{storage: s}
}

func logPath(name string) []string { return []string{"sessions", name} }

// Load reads a session log. A torn tail left by an interrupted append is
// dropped: an unparsable last line is ignored and the view falls back to the
// last state record that matches the messages before it. Such a view is
// marked torn so the next commit rewrites the log.
func (st *Store) Load(ctx context.Context, name string) (*View, error) {
	v := &View{Name: name}
	var (
		hdr      bool
		last     *state
		kept     int
		badLine  error
		extraMsg bool
	)
	err := st.storage.Read(ctx, logPath(name), func(line json.RawMessage) error {
		if badLine != nil {
			return badLine
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			badLine = err
			return nil
		}
		switch rec.Type {
		case recordSession:
			if rec.Session == nil {
				return errors.New("session record without body")
			}
			hdr = true
			v.Created = rec.Session.Created
		case recordMessage:
			if rec.Message == nil {
				return errors.New("message record without body")
			}
			v.Messages = append(v.Messages, rec.Message)
		case recordState:
			if rec.State == nil || rec.State.Messages != len(v.Messages) {
				return fmt.Errorf("state record expects %d messages, log has %d", stateCount(rec.State), len(v.Messages))
			}
			last = rec.State
			kept = len(v.Messages)
		default:
			return fmt.Errorf("unknown record type %q", rec.Type)
		}
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", name, err)
	}
	if !hdr {
		return nil, fmt.Errorf("load session %s: missing session header", name)
	}
	if kept < len(v.Messages) {
		extraMsg = true
		v.Messages = v.Messages[:kept]
	}
	if last != nil {
		v.Role = last.Role
		v.Model = last.Model
		v.Usage = last.Usage
		v.Checkpoints = last.Checkpoints
		v.Updated = last.Updated
	}
	v.torn = badLine != nil || extraMsg
	v.Tokens = TotalTokens(v.Messages)
	return v, nil
}

func stateCount(s *state) int {
	if s == nil {
		return 0
	}
	return s.Messages
}

// Append writes msgs and a state record for v to an existing log.
func (st *Store) Append(ctx context.Context, v *View, msgs []*types.Message) error {
	records := make([]any, 0, len(msgs)+1)
	for _, m := range msgs {
		records = append(records, record{Type: recordMessage, Message: m})
	}
	records = append(records, stateRecord(v))
	return st.storage.Append(ctx, logPath(v.Name), records...)
}

// Rewrite atomically replaces the log with the full contents of v.
func (st *Store) Rewrite(ctx context.Context, v *View) error {
	records := make([]any, 0, len(v.Messages)+2)
	records = append(records, record{Type: recordSession, Session: &header{Version: logVersion, Name: v.Name, Created: v.Created}})
	for _, m := range v.Messages {
		records = append(records, record{Type: recordMessage, Message: m})
	}
	records = append(records, stateRecord(v))
	return st.storage.Rewrite(ctx, logPath(v.Name), records...)
}

// Archive compresses the current log next to it before a history rewrite and
// returns the archive path.
func (st *Store) Archive(ctx context.Context, name string) (string, error) {
	tag := time.Now().UTC().Format("20060102T150405") + "-" + ulid.Make().String()
	return st.storage.Archive(ctx, logPath(name), tag)
}

// Exists reports whether a log exists for name.
func (st *Store) Exists(ctx context.Context, name string) bool {
	return st.storage.Exists(ctx, logPath(name))
}

// Delete removes the log of name.
func (st *Store) Delete(ctx context.Context, name string) error {
	return st.storage.Delete(ctx, logPath(name))
}

// List returns the names of all persisted sessions, sorted.
func (st *Store) List(ctx context.Context) ([]string, error) {
	return st.storage.List(ctx, []string{"sessions"})
}

func stateRecord(v *View) record {
	return record{Type: recordState, State: &state{
		Role:        v.Role,
		Model:       v.Model,
		Usage:       v.Usage,
		Checkpoints: v.Checkpoints,
		Messages:    len(v.Messages),
		Updated:     v.Updated,
	}}
}
