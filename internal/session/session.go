package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Muvon/octomind-sub000/pkg/types"
)

var (
	// ErrBusy is returned when a session already has a turn in flight.
	ErrBusy = errors.New("session is busy")
	// ErrNotFound is returned for sessions that do not exist.
	ErrNotFound = errors.New("session not found")
	// ErrTurnTimeout is returned when a turn exceeds its time budget.
	ErrTurnTimeout = errors.New("turn timed out")
	// ErrInvalidName is returned for names that cannot name a log file.
	ErrInvalidName = errors.New("invalid session name")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateName checks that name can be used as a session log file name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w %q: use letters, digits, '.', '_' or '-'", ErrInvalidName, name)
	}
	return nil
}

// View is a point-in-time snapshot of a session. Views are immutable; a new
// one is published for every change.
type View struct {
	Name        string           `json:"name"`
	Role        string           `json:"role"`
	Model       string           `json:"model"`
	Messages    []*types.Message `json:"messages"`
	Checkpoints []int            `json:"checkpoints,omitempty"`
	Usage       types.Usage      `json:"usage"`
	Tokens      int              `json:"tokens"`
	Created     int64            `json:"created"`
	Updated     int64            `json:"updated"`

	// torn is set by Store.Load when it dropped an interrupted tail.
	torn bool
}

// with returns a copy of v holding msgs and checkpoints, with token totals
// recomputed.
func (v *View) with(msgs []*types.Message, checkpoints []int) *View {
	c := *v
	c.Messages = msgs
	c.Checkpoints = checkpoints
	c.Tokens = TotalTokens(msgs)
	c.torn = false
	return &c
}

// Session is one named conversation.
type Session struct {
	name string
	view atomic.Pointer[View]

	mu     sync.Mutex
	busy   bool
	cancel context.CancelFunc

	// dirty is set when the log on disk may lag the view, so the next
	// persist rewrites it. Touched only by the writer.
	dirty bool
}

func newSession(v *View) *Session {
	s := &Session{name: v.Name}
	s.view.Store(v)
	return s
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Snapshot returns the current view without blocking the writer.
func (s *Session) Snapshot() *View { return s.view.Load() }

// acquire takes the write side for a turn. The returned context is
// cancelled by Abort.
func (s *Session) acquire(ctx context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, nil, fmt.Errorf("%w: %s", ErrBusy, s.name)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.busy = true
	s.cancel = cancel
	release := func() {
		s.mu.Lock()
		s.busy = false
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}
	return ctx, release, nil
}

// Busy reports whether a turn is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// abort cancels the turn in flight, if any.
func (s *Session) abort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// publish makes v the current view.
func (s *Session) publish(v *View) {
	v.Updated = time.Now().UnixMilli()
	s.view.Store(v)
}

// stamp fills in the fields a message gets when it enters a session.
func stamp(m *types.Message) *types.Message {
	if m.ID == "" {
		m.ID = ulid.Make().String()
	}
	if m.Timestamp == 0 {
		m.Timestamp = time.Now().UnixMilli()
	}
	m.Tokens = EstimateTokens(m)
	return m
}
