// Package dal is the public entry point of the persistence pipeline.
//
// A Service owns the context hierarchy over one store:
//
//	Scratch ──save──▶ Main ──save──▶ Root ──commit──▶ Store
//
// Reads run against Main on Main's queue. Writes run a closure in a
// scratch context, save it into Main before returning (WriteSync) and
// then cascade Main→Root→Store in the background. Completions and error
// notifications are delivered on a single notification queue.
package dal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/strata/internal/dataset"
	"github.com/roach88/strata/internal/executor"
	"github.com/roach88/strata/internal/faults"
	"github.com/roach88/strata/internal/ids"
	"github.com/roach88/strata/internal/lifecycle"
	"github.com/roach88/strata/internal/store"
	"github.com/roach88/strata/internal/tier"
)

// ErrClosed is returned for operations on a closed Service.
var ErrClosed = errors.New("service is closed")

// Option configures a Service.
type Option func(*options)

type options struct {
	policy      ScratchPolicy
	async       bool
	onOpen      func(error)
	hooks       []faults.Hook
	logger      *slog.Logger
	writeIDs    ids.Generator
	recordIDs   ids.Generator
	commitIDs   ids.Generator
	onCommit    func(store.CommitInfo)
	host        lifecycle.Host
	guardOpts   []lifecycle.Option
	defaultHook bool
}

// WithScratchPolicy selects the scratch policy. Default ScratchPerWrite.
func WithScratchPolicy(p ScratchPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithAsyncOpen opens the store off the calling goroutine. Open returns
// at once; operations wait until the store is ready. done is called once
// with the open result; an open failure is also published on the error
// channel and fails every later operation.
func WithAsyncOpen(done func(error)) Option {
	return func(o *options) {
		o.async = true
		o.onOpen = done
	}
}

// WithErrorHook subscribes h to the error channel for the Service's life.
func WithErrorHook(h faults.Hook) Option {
	return func(o *options) { o.hooks = append(o.hooks, h) }
}

// WithoutDefaultErrorLog drops the default hook that logs every error.
func WithoutDefaultErrorLog() Option {
	return func(o *options) { o.defaultHook = false }
}

// WithLogger sets the logger for the Service and everything it owns.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithIDGenerator sets the generator for write ids used in logs and
// error events.
func WithIDGenerator(g ids.Generator) Option {
	return func(o *options) { o.writeIDs = g }
}

// WithRecordIDGenerator sets the generator for ids of created records.
func WithRecordIDGenerator(g ids.Generator) Option {
	return func(o *options) { o.recordIDs = g }
}

// WithCommitIDGenerator sets the generator for store commit ids.
func WithCommitIDGenerator(g ids.Generator) Option {
	return func(o *options) { o.commitIDs = g }
}

// WithCommitHook is called after every durable commit, on Root's queue.
func WithCommitHook(fn func(store.CommitInfo)) Option {
	return func(o *options) { o.onCommit = fn }
}

// WithLifecycle attaches a lifecycle guard on host for the Service's
// life. The guard forces a flush on suspend and terminate signals and is
// torn down by Close.
func WithLifecycle(host lifecycle.Host, opts ...lifecycle.Option) Option {
	return func(o *options) {
		o.host = host
		o.guardOpts = opts
	}
}

// Service is the operation chain over one store.
//
// Safe for concurrent use.
type Service struct {
	desc   store.Descriptor
	opts   options
	logger *slog.Logger
	errs   *faults.Channel

	rootQ    *executor.Queue
	mainQ    *executor.Queue
	notifyQ  *executor.Queue
	scratchQ *executor.Queue // shared policy only

	ready   chan struct{}
	openErr error

	// Set once before ready is closed.
	store *store.Store
	root  *tier.Context
	main  *tier.Context
	guard *lifecycle.Guard

	// scratch is the shared scratch context, confined to scratchQ.
	scratch *tier.Context

	// gate is held shared by writes until their Scratch→Main save ends
	// and exclusively by FlushAndWait and Nuke to drain them.
	gate sync.RWMutex

	// cascadeMu serializes Main→Root→Store cascades and nukes.
	cascadeMu sync.Mutex

	lifeMu   sync.RWMutex
	closed   bool
	inflight sync.WaitGroup

	// flushed is closed by Close once its final flush has ended;
	// finalErr is that flush's result.
	flushed  chan struct{}
	finalErr error
}

// Open builds the pipeline over the store described by desc.
//
// Without WithAsyncOpen a store-open failure is returned directly. With
// it, Open only fails on programming errors and the open result is
// delivered to the WithAsyncOpen callback.
func Open(ctx context.Context, desc store.Descriptor, opts ...Option) (*Service, error) {
	o := options{
		policy:      ScratchPerWrite,
		logger:      slog.Default(),
		writeIDs:    ids.UUIDv7Generator{},
		defaultHook: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		desc:    desc,
		opts:    o,
		logger:  o.logger,
		ready:   make(chan struct{}),
		flushed: make(chan struct{}),
	}

	var hooks []faults.Hook
	if o.defaultHook {
		hooks = append(hooks, faults.LogHook(o.logger))
	}
	s.errs = faults.NewChannel(o.logger, append(hooks, o.hooks...)...)

	qopt := executor.WithLogger(o.logger)
	s.rootQ = executor.NewQueue("root", qopt)
	s.mainQ = executor.NewQueue("main", qopt)
	s.notifyQ = executor.NewQueue("notify", qopt)
	if o.policy == SharedScratch {
		s.scratchQ = executor.NewQueue("scratch", qopt)
	}

	if !o.async {
		if err := s.init(ctx); err != nil {
			s.stopQueues()
			return nil, err
		}
		s.startGuard()
		close(s.ready)
		return s, nil
	}

	openCtx := context.WithoutCancel(ctx)
	go func() {
		err := s.init(openCtx)
		if err != nil {
			s.openErr = err
			s.errs.Publish(openCtx, err, "")
		} else {
			s.startGuard()
		}
		close(s.ready)
		if o.onOpen != nil {
			o.onOpen(err)
		}
	}()
	return s, nil
}

// init opens the store and builds Root, Main and the shared scratch.
func (s *Service) init(ctx context.Context) error {
	storeOpts := []store.Option{store.WithLogger(s.logger)}
	if s.opts.commitIDs != nil {
		storeOpts = append(storeOpts, store.WithIDGenerator(s.opts.commitIDs))
	}
	st, err := store.Open(ctx, s.desc, storeOpts...)
	if err != nil {
		return err
	}

	snap, err := st.Load(ctx)
	if err != nil {
		st.Close()
		return faults.StoreOpen("load", err)
	}

	tierOpts := []tier.Option{tier.WithLogger(s.logger)}
	if s.opts.recordIDs != nil {
		tierOpts = append(tierOpts, tier.WithIDGenerator(s.opts.recordIDs))
	}
	rootOpts := tierOpts
	if s.opts.onCommit != nil {
		rootOpts = append(append([]tier.Option{}, tierOpts...), tier.WithCommitHook(s.opts.onCommit))
	}

	s.store = st
	s.root = tier.NewRoot(s.rootQ, st, snap, s.desc.Schema, rootOpts...)
	s.main = tier.NewChild(tier.RoleMain, s.mainQ, s.root, tierOpts...)
	if s.opts.policy == SharedScratch {
		s.scratch = s.newScratch(s.scratchQ)
	}

	s.logger.Info("pipeline ready",
		"location", st.Location(),
		"policy", s.opts.policy,
		"records", snap.Len())
	return nil
}

func (s *Service) newScratch(exec executor.Executor) *tier.Context {
	return tier.NewChild(tier.RoleScratch, exec, s.main, tier.WithLogger(s.logger))
}

func (s *Service) startGuard() {
	if s.opts.host == nil {
		return
	}
	guardOpts := append([]lifecycle.Option{lifecycle.WithLogger(s.logger)}, s.opts.guardOpts...)
	s.guard = lifecycle.NewGuard(s.opts.host, s, guardOpts...)
}

// awaitReady blocks until the store is open and reports the open error.
func (s *Service) awaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.openErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready returns a channel closed once the store open has finished.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// OpenErr returns the async open error, if any, once Ready is closed.
func (s *Service) OpenErr() error {
	select {
	case <-s.ready:
		return s.openErr
	default:
		return nil
	}
}

// Policy returns the configured scratch policy.
func (s *Service) Policy() ScratchPolicy {
	return s.opts.policy
}

// Location returns the store location, or "" before the store is open.
func (s *Service) Location() string {
	select {
	case <-s.ready:
		if s.store != nil {
			return s.store.Location()
		}
	default:
	}
	return ""
}

// Guard returns the lifecycle guard, nil without WithLifecycle.
func (s *Service) Guard() *lifecycle.Guard {
	return s.guard
}

// Subscribe adds h to the error channel and returns its cancel func.
func (s *Service) Subscribe(h faults.Hook) (cancel func()) {
	return s.errs.Subscribe(h)
}

// Log returns the store's commit log, newest first.
func (s *Service) Log(ctx context.Context, limit int) ([]store.CommitInfo, error) {
	if err := s.awaitReady(ctx); err != nil {
		return nil, err
	}
	return s.store.Commits(ctx, limit)
}

// Durable loads what the store holds right now, bypassing the contexts.
func (s *Service) Durable(ctx context.Context) (*dataset.Snapshot, error) {
	if err := s.awaitReady(ctx); err != nil {
		return nil, err
	}
	return s.store.Load(ctx)
}

// track registers in-flight work so Close can wait for it.
func (s *Service) track() (done func(), err error) {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.inflight.Add(1)
	return s.inflight.Done, nil
}

// Close waits for in-flight writes and cascades, runs a final flush,
// stops the lifecycle guard and the queues and closes the store.
// FlushAndWait calls made while Close runs wait for the final flush.
// Idempotent.
func (s *Service) Close(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return nil
	}
	s.closed = true
	s.lifeMu.Unlock()

	<-s.ready
	s.inflight.Wait()

	var errs []error
	if s.openErr == nil {
		if err := s.flush(ctx); err != nil {
			s.finalErr = fmt.Errorf("final flush: %w", err)
			errs = append(errs, s.finalErr)
		}
	} else {
		s.finalErr = s.openErr
	}
	close(s.flushed)

	// A signal handled from here on sees the flush already done, so the
	// guard can wait for it.
	if s.guard != nil {
		s.guard.Close()
	}

	s.stopQueues()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info("pipeline closed")
	return errors.Join(errs...)
}

func (s *Service) stopQueues() {
	if s.scratchQ != nil {
		s.scratchQ.Close()
	}
	s.mainQ.Close()
	s.rootQ.Close()
	s.notifyQ.Close()
}
