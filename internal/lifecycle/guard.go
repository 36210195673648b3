// Package lifecycle forces a durable flush before the process is
// suspended or terminated.
//
// A Guard subscribes to a Host's suspend and terminate notifications.
// On either it opens a protected window (the host promises not to
// suspend the process while the window is open), flushes synchronously
// and closes the window, whatever the outcome.
//
//	Idle ──signal──▶ FlushPending ──token──▶ Flushing ──done──▶ Idle
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Trigger after Close.
var ErrClosed = errors.New("lifecycle guard closed")

// State is the guard's position in its state machine.
type State int32

const (
	Idle State = iota
	FlushPending
	Flushing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FlushPending:
		return "flush-pending"
	case Flushing:
		return "flushing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Signal is a lifecycle notification from the host.
type Signal int

const (
	Suspend Signal = iota + 1
	Terminate
)

func (s Signal) String() string {
	switch s {
	case Suspend:
		return "suspend"
	case Terminate:
		return "terminate"
	default:
		return fmt.Sprintf("Signal(%d)", int(s))
	}
}

// Token identifies one protected window. The zero Token is never issued.
type Token uint64

// Host is the environment that may suspend or terminate the process.
type Host interface {
	// OnWillSuspend registers handler to run before the process is
	// suspended. The returned func removes it.
	OnWillSuspend(handler func()) (cancel func())

	// OnWillTerminate registers handler to run before the process exits.
	OnWillTerminate(handler func()) (cancel func())

	// BeginProtectedWindow asks the host to hold off suspension. If the
	// host gives up waiting it calls onExpire, at most once.
	BeginProtectedWindow(onExpire func()) Token

	// EndProtectedWindow releases the window. Unknown tokens are ignored.
	EndProtectedWindow(Token)
}

// Flusher pushes everything pending to durable storage.
type Flusher interface {
	FlushAndWait(ctx context.Context) error
}

// Result describes one forced flush.
type Result struct {
	Signal   Signal
	Token    Token
	Err      error
	Expired  bool
	Duration time.Duration
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the guard logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithObserver is called after every forced flush, before Trigger
// returns.
func WithObserver(fn func(Result)) Option {
	return func(g *Guard) { g.observer = fn }
}

// Guard forces flushes on host lifecycle signals.
type Guard struct {
	host     Host
	flusher  Flusher
	logger   *slog.Logger
	observer func(Result)

	state   atomic.Int32
	flushes atomic.Int64

	// mu serializes signals so at most one token is outstanding.
	mu     sync.Mutex
	closed bool

	cancelSuspend   func()
	cancelTerminate func()
}

// NewGuard subscribes to host and flushes through flusher on every
// suspend or terminate notification until Close.
func NewGuard(host Host, flusher Flusher, opts ...Option) *Guard {
	g := &Guard{
		host:    host,
		flusher: flusher,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.cancelSuspend = host.OnWillSuspend(func() { g.handle(Suspend) })
	g.cancelTerminate = host.OnWillTerminate(func() { g.handle(Terminate) })
	return g
}

// State returns the current state.
func (g *Guard) State() State {
	return State(g.state.Load())
}

// Flushes returns how many forced flushes have completed.
func (g *Guard) Flushes() int64 {
	return g.flushes.Load()
}

func (g *Guard) handle(sig Signal) {
	if err := g.Trigger(sig); err != nil && !errors.Is(err, ErrClosed) {
		g.logger.Error("forced flush failed", "signal", sig, "error", err)
	}
}

// Trigger runs one forced flush as if the host had sent sig, blocking
// until it finishes. A second signal waits for the first. If the
// protected window expires before the flush ends, the flush still runs
// to completion and its error is dropped.
func (g *Guard) Trigger(sig Signal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}

	start := time.Now()
	g.state.Store(int32(FlushPending))

	var expired atomic.Bool
	tok := g.host.BeginProtectedWindow(func() {
		expired.Store(true)
		g.logger.Warn("protected window expired, flush continues", "signal", sig)
	})
	g.state.Store(int32(Flushing))
	g.logger.Info("forced flush", "signal", sig, "token", uint64(tok))

	err := g.flusher.FlushAndWait(context.Background())

	g.host.EndProtectedWindow(tok)
	g.state.Store(int32(Idle))
	g.flushes.Add(1)

	res := Result{
		Signal:   sig,
		Token:    tok,
		Err:      err,
		Expired:  expired.Load(),
		Duration: time.Since(start),
	}
	if res.Expired {
		if err != nil {
			g.logger.Debug("dropping flush error after window expiry", "error", err)
		}
		err = nil
	}
	if g.observer != nil {
		g.observer(res)
	}

	g.logger.Info("forced flush done",
		"signal", sig,
		"duration", res.Duration,
		"expired", res.Expired,
		"ok", res.Err == nil)
	return err
}

// Close removes both host subscriptions. A flush in progress finishes
// first. Idempotent.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.cancelSuspend()
	g.cancelTerminate()
}
