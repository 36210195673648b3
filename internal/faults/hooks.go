package faults

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Event is one failure published on the error channel.
type Event struct {
	Err        error
	Code       Code
	Op         string
	Role       string
	WriteID    string
	OccurredAt time.Time
}

// NewEvent builds an Event from err, copying code, op and role from the
// first *Error in its chain.
func NewEvent(err error, writeID string) Event {
	ev := Event{Err: err, WriteID: writeID, OccurredAt: time.Now()}
	var fe *Error
	if errors.As(err, &fe) {
		ev.Code = fe.Code
		ev.Op = fe.Op
		ev.Role = fe.Role
	}
	return ev
}

// Hook receives failures from the error channel.
type Hook interface {
	Notify(ctx context.Context, ev Event) error
}

// HookFunc allows plain functions to satisfy Hook.
type HookFunc func(ctx context.Context, ev Event) error

// Notify dispatches to the underlying function.
func (fn HookFunc) Notify(ctx context.Context, ev Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, ev)
}

// Hooks fans an event out to zero or more hooks.
type Hooks []Hook

// Notify forwards ev to every hook and joins their errors.
func (h Hooks) Notify(ctx context.Context, ev Event) error {
	if len(h) == 0 {
		return nil
	}
	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogHook logs every event at error level.
func LogHook(logger *slog.Logger) Hook {
	if logger == nil {
		logger = slog.Default()
	}
	return HookFunc(func(ctx context.Context, ev Event) error {
		logger.ErrorContext(ctx, "persistence error",
			"code", ev.Code,
			"op", ev.Op,
			"role", ev.Role,
			"write", ev.WriteID,
			"error", ev.Err)
		return nil
	})
}

// Channel is the error channel: an observer list that every pipeline
// failure is published to before the caller's completion runs.
//
// Safe for concurrent use.
type Channel struct {
	mu     sync.Mutex
	next   int
	hooks  map[int]Hook
	order  []int
	logger *slog.Logger
}

// NewChannel returns a channel with the given hooks subscribed.
func NewChannel(logger *slog.Logger, hooks ...Hook) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Channel{hooks: make(map[int]Hook), logger: logger}
	for _, h := range hooks {
		c.Subscribe(h)
	}
	return c
}

// Subscribe adds h and returns a function that removes it. The cancel
// function is idempotent.
func (c *Channel) Subscribe(h Hook) (cancel func()) {
	if h == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.next
	c.next++
	c.hooks[id] = h
	c.order = append(c.order, id)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.hooks, id)
			for i, v := range c.order {
				if v == id {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Len returns the number of subscribed hooks.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hooks)
}

// Publish delivers err to every hook in subscription order. Hook errors
// are logged, never returned.
func (c *Channel) Publish(ctx context.Context, err error, writeID string) {
	if err == nil {
		return
	}
	c.mu.Lock()
	hooks := make(Hooks, 0, len(c.order))
	for _, id := range c.order {
		hooks = append(hooks, c.hooks[id])
	}
	c.mu.Unlock()

	if herr := hooks.Notify(ctx, NewEvent(err, writeID)); herr != nil {
		c.logger.Warn("error hook failed", "error", herr)
	}
}
