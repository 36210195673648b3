// Package tier implements the context hierarchy of the pipeline.
//
// A Context is an isolated view of the dataset with a set of pending
// changes and a parent. Root sits on the store; Main is Root's child and
// serves reads; Scratch contexts are Main's children and run write
// closures. Saving a context pushes its pending changes into its parent
// only. Propagating further is the orchestrator's job.
//
// Every Context is bound to one executor. Mutate, Save, HasPendingChanges
// and Reset must be called with a context.Context carrying that binding;
// anything else is a programming error and fails with ErrNotBound.
package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/strata/internal/dataset"
	"github.com/roach88/strata/internal/executor"
	"github.com/roach88/strata/internal/faults"
	"github.com/roach88/strata/internal/ids"
	"github.com/roach88/strata/internal/schema"
	"github.com/roach88/strata/internal/store"
)

// Role names a tier.
type Role string

const (
	RoleRoot    Role = "root"
	RoleMain    Role = "main"
	RoleScratch Role = "scratch"
)

// ErrNotBound is returned when a context is used off its executor.
var ErrNotBound = errors.New("context used outside its bound executor")

// Committer durably commits a changeset. *store.Store implements it.
type Committer interface {
	Commit(ctx context.Context, cs *dataset.Changeset) (store.CommitInfo, error)
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the context logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithIDGenerator sets the generator for ids of records created in
// mutation closures.
func WithIDGenerator(g ids.Generator) Option {
	return func(c *Context) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithCommitHook is called on Root after every durable commit.
func WithCommitHook(fn func(store.CommitInfo)) Option {
	return func(c *Context) {
		c.onCommit = fn
	}
}

// Context is one tier of the hierarchy.
type Context struct {
	role      Role
	exec      executor.Executor
	parent    *Context
	committer Committer
	schema    *schema.Schema
	ids       ids.Generator
	logger    *slog.Logger
	onCommit  func(store.CommitInfo)

	// view is the published state: parent's last-saved state plus this
	// context's pending changes. Readable from any goroutine.
	view atomic.Pointer[dataset.Snapshot]

	// pending is confined to exec.
	pending *dataset.Changeset
}

// NewRoot creates the root context over committer, starting from base.
// Changes received by Root are validated against s.
func NewRoot(exec executor.Executor, committer Committer, base *dataset.Snapshot, s *schema.Schema, opts ...Option) *Context {
	c := newContext(RoleRoot, exec, nil, opts...)
	c.committer = committer
	c.schema = s
	if base != nil {
		c.view.Store(base)
	}
	return c
}

// NewChild creates a context whose parent is parent and whose initial
// view is parent's current view. Children inherit the parent's schema.
func NewChild(role Role, exec executor.Executor, parent *Context, opts ...Option) *Context {
	c := newContext(role, exec, parent, opts...)
	c.schema = parent.schema
	if c.ids == nil {
		c.ids = parent.ids
	}
	c.view.Store(parent.View())
	return c
}

func newContext(role Role, exec executor.Executor, parent *Context, opts ...Option) *Context {
	c := &Context{
		role:    role,
		exec:    exec,
		parent:  parent,
		logger:  slog.Default(),
		pending: dataset.NewChangeset(),
	}
	c.view.Store(dataset.EmptySnapshot())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Role returns the tier this context plays.
func (c *Context) Role() Role {
	return c.role
}

// Executor returns the executor the context is bound to.
func (c *Context) Executor() executor.Executor {
	return c.exec
}

// Parent returns the parent context, nil for Root.
func (c *Context) Parent() *Context {
	return c.parent
}

// View returns the last published snapshot. Safe from any goroutine.
func (c *Context) View() *dataset.Snapshot {
	return c.view.Load()
}

// PerformAndWait runs fn on the context's executor.
func (c *Context) PerformAndWait(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.exec.PerformAndWait(ctx, fn)
}

func (c *Context) checkBound(ctx context.Context, op string) error {
	if !c.exec.Bound(ctx) {
		return fmt.Errorf("%s %s: %w", c.role, op, ErrNotBound)
	}
	return nil
}

// Mutate runs fn against a record layer over this context's view. The
// writes become pending only if fn returns nil; a failing or panicking
// fn leaves the context untouched and is reported as a save error.
func (c *Context) Mutate(ctx context.Context, fn func(*dataset.Tx) error) (err error) {
	if err := c.checkBound(ctx, "mutate"); err != nil {
		return err
	}

	base := c.view.Load()
	if c.parent != nil {
		base = c.parent.View().Apply(c.pending)
	}
	tx := dataset.NewTx(base, c.ids)

	defer func() {
		if r := recover(); r != nil {
			err = faults.Save(string(c.role), "mutate", fmt.Errorf("panic in mutation: %v", r))
		}
	}()
	if err := fn(tx); err != nil {
		return faults.Save(string(c.role), "mutate", err)
	}

	changes := tx.Changes()
	c.pending.Merge(changes)
	c.view.Store(base.Apply(changes))
	return nil
}

// HasPendingChanges reports whether Save would do anything.
func (c *Context) HasPendingChanges(ctx context.Context) (bool, error) {
	if err := c.checkBound(ctx, "pending"); err != nil {
		return false, err
	}
	return !c.pending.Empty(), nil
}

// Save pushes pending changes into the parent (children) or commits them
// to the store (Root). Nothing pending is a no-op. On failure nothing is
// applied upstream and the pending changes are kept.
func (c *Context) Save(ctx context.Context) error {
	if err := c.checkBound(ctx, "save"); err != nil {
		return err
	}
	if c.pending.Empty() {
		return nil
	}

	cs := c.pending
	upserts, deletes := cs.Counts()

	if c.parent == nil {
		info, err := c.committer.Commit(ctx, cs)
		if err != nil {
			return faults.Save(string(c.role), "commit", err)
		}
		c.pending = dataset.NewChangeset()
		c.logger.Debug("context saved",
			"role", c.role,
			"seq", info.Seq,
			"upserts", upserts,
			"deletes", deletes)
		if c.onCommit != nil {
			c.onCommit(info)
		}
		return nil
	}

	parent := c.parent
	err := parent.exec.PerformAndWait(ctx, func(ctx context.Context) error {
		return parent.receive(ctx, cs)
	})
	if err != nil {
		return faults.Save(string(c.role), "save", err)
	}
	c.pending = dataset.NewChangeset()
	c.logger.Debug("context saved",
		"role", c.role,
		"parent", parent.role,
		"upserts", upserts,
		"deletes", deletes)
	return nil
}

// receive validates a child's changes and applies them. Runs on c.exec.
func (c *Context) receive(ctx context.Context, cs *dataset.Changeset) error {
	if err := c.checkBound(ctx, "receive"); err != nil {
		return err
	}
	for _, rec := range cs.Upserts() {
		if err := c.schema.Validate(rec.Entity, rec.Fields); err != nil {
			return fmt.Errorf("validate %s: %w", rec.Key, err)
		}
	}
	c.pending.Merge(cs)
	c.view.Store(c.view.Load().Apply(cs))
	return nil
}

// Reset drops pending changes and replaces the view with base.
func (c *Context) Reset(ctx context.Context, base *dataset.Snapshot) error {
	if err := c.checkBound(ctx, "reset"); err != nil {
		return err
	}
	if base == nil {
		base = dataset.EmptySnapshot()
	}
	c.pending = dataset.NewChangeset()
	c.view.Store(base)
	return nil
}
