// Package testutil holds test doubles shared across packages.
package testutil

import (
	"slices"
	"sync"

	"github.com/roach88/strata/internal/lifecycle"
)

// FakeHost is a lifecycle.Host driven by the test. Suspend and Terminate
// run the registered handlers on the calling goroutine.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeHost struct {
	mu        sync.Mutex
	nextSub   int
	suspend   map[int]func()
	terminate map[int]func()

	next    lifecycle.Token
	open    map[lifecycle.Token]func()
	began   int
	maxOpen int

	expireOnBegin bool
}

var _ lifecycle.Host = (*FakeHost)(nil)

// NewFakeHost returns a host with no subscribers.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		suspend:   make(map[int]func()),
		terminate: make(map[int]func()),
		open:      make(map[lifecycle.Token]func()),
	}
}

// ExpireOnBegin makes every later protected window expire as soon as it
// is granted.
func (h *FakeHost) ExpireOnBegin() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expireOnBegin = true
}

func (h *FakeHost) subscribe(m map[int]func(), fn func()) func() {
	h.mu.Lock()
	h.nextSub++
	id := h.nextSub
	m[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(m, id)
		h.mu.Unlock()
	}
}

// OnWillSuspend implements lifecycle.Host.
func (h *FakeHost) OnWillSuspend(handler func()) func() {
	return h.subscribe(h.suspend, handler)
}

// OnWillTerminate implements lifecycle.Host.
func (h *FakeHost) OnWillTerminate(handler func()) func() {
	return h.subscribe(h.terminate, handler)
}

// BeginProtectedWindow implements lifecycle.Host.
func (h *FakeHost) BeginProtectedWindow(onExpire func()) lifecycle.Token {
	h.mu.Lock()
	h.next++
	tok := h.next
	h.open[tok] = onExpire
	h.began++
	h.maxOpen = max(h.maxOpen, len(h.open))
	expire := h.expireOnBegin
	h.mu.Unlock()

	if expire {
		h.Expire(tok)
	}
	return tok
}

// EndProtectedWindow implements lifecycle.Host.
func (h *FakeHost) EndProtectedWindow(tok lifecycle.Token) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.open, tok)
}

// Expire forcibly ends the window tok, calling its expiry callback.
// Reports whether tok was open.
func (h *FakeHost) Expire(tok lifecycle.Token) bool {
	h.mu.Lock()
	onExpire, ok := h.open[tok]
	delete(h.open, tok)
	h.mu.Unlock()
	if ok && onExpire != nil {
		onExpire()
	}
	return ok
}

// Suspend runs the suspend handlers.
func (h *FakeHost) Suspend() {
	for _, fn := range h.handlers(h.suspend) {
		fn()
	}
}

// Terminate runs the terminate handlers.
func (h *FakeHost) Terminate() {
	for _, fn := range h.handlers(h.terminate) {
		fn()
	}
}

func (h *FakeHost) handlers(m map[int]func()) []func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]func(), len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// Subscribers returns the number of live suspend plus terminate handlers.
func (h *FakeHost) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.suspend) + len(h.terminate)
}

// Open returns the number of protected windows currently open.
func (h *FakeHost) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.open)
}

// Began returns how many protected windows were ever granted.
func (h *FakeHost) Began() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.began
}

// MaxOpen returns the most windows that were ever open at once.
func (h *FakeHost) MaxOpen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxOpen
}
