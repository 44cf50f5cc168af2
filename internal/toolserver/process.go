package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/Muvon/octomind-sub000/internal/logging"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// ProcessOptions tunes supervision of a stdin-pipe server.
type ProcessOptions struct {
	// InitialBackoff is the delay before the first restart after a crash.
	InitialBackoff time.Duration
	// MaxBackoff caps the restart delay.
	MaxBackoff time.Duration
	// Stderr receives the child's stderr. Defaults to debug logging.
	Stderr io.Writer
	// OnHealth is called on every state transition.
	OnHealth func(Health)
}

func (o *ProcessOptions) setDefaults() {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 250 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
}

// Process is a supervised child process speaking the envelope protocol on
// its stdin and stdout. The child is started on first use and restarted on
// the next call after it exits; restarts after a crash are delayed with
// exponential backoff.
type Process struct {
	def     types.ServerDefinition
	framing types.Framing
	opts    ProcessOptions
	health  *healthTracker
	log     zerolog.Logger

	startSem chan struct{}

	mu      sync.Mutex
	cur     *child
	bo      *backoff.ExponentialBackOff
	crashed bool
	closed  bool
}

type child struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	writeSem chan struct{}
	done     chan struct{}
	killed   atomic.Bool

	mu      sync.Mutex
	pending map[string]chan types.ResultEnvelope
}

// NewProcess creates a supervised process for def. Nothing is started yet.
func NewProcess(def types.ServerDefinition, opts ProcessOptions) *Process {
	opts.setDefaults()
	framing := def.Framing
	if framing == "" {
		framing = types.FramingNewline
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.InitialBackoff
	bo.MaxInterval = opts.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	p := &Process{
		def:      def,
		framing:  framing,
		opts:     opts,
		log:      logging.Component("toolserver").With().Str("server", def.Name).Logger(),
		startSem: make(chan struct{}, 1),
		bo:       bo,
	}
	p.health = newHealthTracker(StateExited, opts.OnHealth)
	return p
}

// Start spawns the child if it is not running.
func (p *Process) Start(ctx context.Context) error {
	_, err := p.ensure(ctx)
	return err
}

// Restart kills the running child, if any, and starts a fresh one.
func (p *Process) Restart(ctx context.Context) error {
	if c := p.current(); c != nil {
		p.kill(c, errors.New("restart requested"))
	}
	p.mu.Lock()
	p.crashed = false
	p.bo.Reset()
	p.mu.Unlock()
	_, err := p.ensure(ctx)
	return err
}

// Health returns the current state.
func (p *Process) Health() Health { return p.health.get() }

// Pid returns the pid of the running child or 0.
func (p *Process) Pid() int {
	c := p.current()
	if c == nil || !c.alive() || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Close kills the child and prevents restarts.
func (p *Process) Close() error {
	p.mu.Lock()
	p.closed = true
	c := p.cur
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	p.kill(c, ErrClosed)
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("server %s did not exit", p.def.Name)
	}
	return nil
}

// Call sends env and waits for the response with the same call_id.
func (p *Process) Call(ctx context.Context, env types.CallEnvelope) (types.ResultEnvelope, error) {
	c, err := p.ensure(ctx)
	if err != nil {
		return types.ResultEnvelope{}, err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return types.ResultEnvelope{}, err
	}

	ch, err := c.register(env.CallID)
	if err != nil {
		return types.ResultEnvelope{}, err
	}
	defer c.unregister(env.CallID)

	if err := p.write(ctx, c, encodeFrame(p.framing, payload)); err != nil {
		return types.ResultEnvelope{}, err
	}

	select {
	case res := <-ch:
		p.succeeded()
		return res, nil
	case <-c.done:
		select {
		case res := <-ch:
			return res, nil
		default:
		}
		return types.ResultEnvelope{}, ErrServerExited
	case <-ctx.Done():
		return types.ResultEnvelope{}, ctx.Err()
	}
}

// write sends one frame. Cancellation before the frame is fully written
// leaves the stream unusable, so the child is killed.
func (p *Process) write(ctx context.Context, c *child, frame []byte) error {
	select {
	case c.writeSem <- struct{}{}:
	case <-c.done:
		return ErrServerExited
	case <-ctx.Done():
		return ctx.Err()
	}

	errCh := make(chan error, 1)
	go func() {
		defer func() { <-c.writeSem }()
		_, err := c.stdin.Write(frame)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			p.kill(c, err)
			return fmt.Errorf("%w: %v", ErrServerExited, err)
		}
		return nil
	case <-ctx.Done():
		p.log.Warn().Str("reason", ctx.Err().Error()).Msg("Cancelled during write, killing server")
		p.kill(c, fmt.Errorf("cancelled mid-write: %w", ctx.Err()))
		return ctx.Err()
	}
}

func (p *Process) current() *child {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

func (p *Process) ensure(ctx context.Context) (*child, error) {
	if c := p.current(); c != nil && c.alive() {
		return c, nil
	}
	select {
	case p.startSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.startSem }()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.cur != nil && p.cur.alive() {
		c := p.cur
		p.mu.Unlock()
		return c, nil
	}
	restart := p.cur != nil
	var delay time.Duration
	if p.crashed {
		delay = p.bo.NextBackOff()
	}
	p.mu.Unlock()

	if delay > 0 {
		p.log.Info().Dur("delay", delay).Msg("Restarting crashed server")
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	c, err := p.spawn()
	if err != nil {
		p.mu.Lock()
		p.crashed = true
		p.mu.Unlock()
		p.health.set(StateExited, err)
		return nil, err
	}
	if restart {
		p.health.restarted()
	}
	return c, nil
}

func (p *Process) spawn() (*child, error) {
	cmd := exec.Command(p.def.Command, p.def.Args...)
	cmd.Dir = p.def.Dir
	cmd.Env = append(os.Environ(), envList(p.def.Env)...)
	cmd.WaitDelay = time.Second
	if p.opts.Stderr != nil {
		cmd.Stderr = p.opts.Stderr
	} else {
		cmd.Stderr = logWriter{log: p.log}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", p.def.Command, err)
	}

	c := &child{
		cmd:      cmd,
		stdin:    stdin,
		writeSem: make(chan struct{}, 1),
		done:     make(chan struct{}),
		pending:  make(map[string]chan types.ResultEnvelope),
	}
	p.mu.Lock()
	p.cur = c
	p.mu.Unlock()

	p.log.Debug().Int("pid", cmd.Process.Pid).Msg("Server started")
	p.health.set(StateRunning, nil)
	go p.readLoop(c, stdout)
	return c, nil
}

// readLoop demultiplexes responses by call_id until the child's stdout
// closes, then reaps the child.
func (p *Process) readLoop(c *child, stdout io.Reader) {
	fr := newFrameReader(stdout, p.framing)
	for {
		payload, err := fr.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.killed.Load() {
				p.log.Warn().Err(err).Msg("Unreadable response stream")
				p.kill(c, err)
			}
			break
		}
		var res types.ResultEnvelope
		if err := json.Unmarshal(payload, &res); err != nil || res.CallID == "" {
			p.log.Warn().Str("frame", truncate(string(payload), 200)).Msg("Malformed response frame")
			p.health.set(StateUnhealthy, errors.New("malformed response frame"))
			continue
		}
		if !c.deliver(res) {
			p.log.Debug().Str("call_id", res.CallID).Msg("Response for unknown call dropped")
		}
	}

	waitErr := c.cmd.Wait()
	close(c.done)

	p.mu.Lock()
	isCurrent := p.cur == c
	if isCurrent && !c.killed.Load() {
		p.crashed = true
	}
	p.mu.Unlock()

	// A killed child already reported its exit with the kill reason.
	if isCurrent && !c.killed.Load() {
		reason := waitErr
		if reason == nil {
			reason = errors.New("exited")
		}
		p.log.Warn().Err(reason).Msg("Server exited")
		p.health.set(StateExited, reason)
	}
}

func (p *Process) kill(c *child, reason error) {
	if c.killed.Swap(true) {
		return
	}
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	if p.current() == c {
		p.health.set(StateExited, reason)
	}
}

func (p *Process) succeeded() {
	p.mu.Lock()
	if p.crashed {
		p.crashed = false
		p.bo.Reset()
	}
	p.mu.Unlock()
	if p.health.get().State == StateUnhealthy {
		p.health.set(StateRunning, nil)
	}
}

func (c *child) alive() bool {
	if c.killed.Load() {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *child) register(id string) (chan types.ResultEnvelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.pending[id]; dup {
		return nil, fmt.Errorf("call %s already in flight", id)
	}
	ch := make(chan types.ResultEnvelope, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *child) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *child) deliver(res types.ResultEnvelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[res.CallID]
	if !ok {
		return false
	}
	delete(c.pending, res.CallID)
	ch <- res
	return true
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

type logWriter struct {
	log zerolog.Logger
}

func (w logWriter) Write(b []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		if line != "" {
			w.log.Debug().Str("stream", "stderr").Msg(line)
		}
	}
	return len(b), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
