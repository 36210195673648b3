package lifecycle

import (
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"time"
)

// DefaultProtectedWindow is how long a SignalHost holds off suspension.
const DefaultProtectedWindow = 5 * time.Second

// HostOption configures a SignalHost.
type HostOption func(*SignalHost)

// WithProtectedWindow sets how long a protected window lasts before it
// expires. Zero or negative means windows never expire.
func WithProtectedWindow(d time.Duration) HostOption {
	return func(h *SignalHost) { h.window = d }
}

// WithHostLogger sets the host logger.
func WithHostLogger(l *slog.Logger) HostOption {
	return func(h *SignalHost) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithAfterSuspend replaces what the host does once suspend handlers
// have run. The default stops the process (SIGSTOP on unix).
func WithAfterSuspend(fn func()) HostOption {
	return func(h *SignalHost) { h.afterSuspend = fn }
}

// WithAfterTerminate replaces what the host does once terminate handlers
// have run. The default re-raises the signal with default handling.
func WithAfterTerminate(fn func(os.Signal)) HostOption {
	return func(h *SignalHost) { h.afterTerminate = fn }
}

// SignalHost is a Host driven by operating-system signals. Terminate
// signals are SIGTERM and SIGINT; suspend signals are SIGTSTP and
// SIGUSR1 where the platform has them.
type SignalHost struct {
	window         time.Duration
	logger         *slog.Logger
	afterSuspend   func()
	afterTerminate func(os.Signal)

	mu        sync.Mutex
	nextSub   int
	suspend   map[int]func()
	terminate map[int]func()
	nextToken Token
	windows   map[Token]*time.Timer

	sigs      chan os.Signal
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ Host = (*SignalHost)(nil)

// NewSignalHost starts listening for lifecycle signals. Close stops it.
func NewSignalHost(opts ...HostOption) *SignalHost {
	h := &SignalHost{
		window:         DefaultProtectedWindow,
		logger:         slog.Default(),
		afterSuspend:   stopSelf,
		afterTerminate: raise,
		suspend:        make(map[int]func()),
		terminate:      make(map[int]func()),
		windows:        make(map[Token]*time.Timer),
		sigs:           make(chan os.Signal, 4),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	signal.Notify(h.sigs, append(append([]os.Signal{}, suspendSignals...), terminateSignals...)...)
	go h.run()
	return h
}

func (h *SignalHost) run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			return
		case sig := <-h.sigs:
			h.dispatch(sig)
		}
	}
}

func (h *SignalHost) dispatch(sig os.Signal) {
	if isSuspend(sig) {
		h.logger.Info("suspend signal", "signal", sig)
		h.Suspend()
		if h.afterSuspend != nil {
			h.afterSuspend()
		}
		return
	}
	h.logger.Info("terminate signal", "signal", sig)
	h.Terminate()
	if h.afterTerminate != nil {
		h.afterTerminate(sig)
	}
}

// Suspend runs every suspend handler in registration order.
func (h *SignalHost) Suspend() {
	for _, fn := range h.handlers(h.suspend) {
		fn()
	}
}

// Terminate runs every terminate handler in registration order.
func (h *SignalHost) Terminate() {
	for _, fn := range h.handlers(h.terminate) {
		fn()
	}
}

func (h *SignalHost) handlers(m map[int]func()) []func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(), 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

func (h *SignalHost) subscribe(m map[int]func(), fn func()) func() {
	h.mu.Lock()
	h.nextSub++
	id := h.nextSub
	m[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(m, id)
			h.mu.Unlock()
		})
	}
}

// OnWillSuspend implements Host.
func (h *SignalHost) OnWillSuspend(handler func()) func() {
	return h.subscribe(h.suspend, handler)
}

// OnWillTerminate implements Host.
func (h *SignalHost) OnWillTerminate(handler func()) func() {
	return h.subscribe(h.terminate, handler)
}

// BeginProtectedWindow implements Host. The window expires after the
// configured duration.
func (h *SignalHost) BeginProtectedWindow(onExpire func()) Token {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextToken++
	tok := h.nextToken
	if h.window > 0 {
		h.windows[tok] = time.AfterFunc(h.window, func() {
			h.mu.Lock()
			_, open := h.windows[tok]
			delete(h.windows, tok)
			h.mu.Unlock()
			if open && onExpire != nil {
				onExpire()
			}
		})
	} else {
		h.windows[tok] = nil
	}
	return tok
}

// EndProtectedWindow implements Host.
func (h *SignalHost) EndProtectedWindow(tok Token) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.windows[tok]; ok {
		if t != nil {
			t.Stop()
		}
		delete(h.windows, tok)
	}
}

// OpenWindows returns how many protected windows are open.
func (h *SignalHost) OpenWindows() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.windows)
}

// Close stops signal delivery and drops open windows without expiring
// them. Idempotent.
func (h *SignalHost) Close() {
	h.closeOnce.Do(func() {
		signal.Stop(h.sigs)
		close(h.stop)
		<-h.done

		h.mu.Lock()
		for tok, t := range h.windows {
			if t != nil {
				t.Stop()
			}
			delete(h.windows, tok)
		}
		h.mu.Unlock()
	})
}

func isSuspend(sig os.Signal) bool {
	return slices.Contains(suspendSignals, sig)
}
