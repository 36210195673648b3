package dal

import (
	"context"
	"fmt"

	"github.com/roach88/strata/internal/dataset"
	"github.com/roach88/strata/internal/executor"
)

// pendingWrite is one submitted write on its way through the pipeline.
type pendingWrite struct {
	id         string
	mode       writeMode
	changes    func(*dataset.Tx) error
	completion func(error)
}

// Read runs statements against Main's current state on Main's queue and
// returns the Service for chaining. It observes every write whose
// WriteSync returned before Read was called. A failure (closed service,
// failed async open, panicking statements) goes to the error channel.
func (s *Service) Read(ctx context.Context, statements func(dataset.Reader)) *Service {
	if err := s.TryRead(ctx, statements); err != nil {
		s.errs.Publish(ctx, err, "")
	}
	return s
}

// TryRead is Read with the failure returned instead of published.
func (s *Service) TryRead(ctx context.Context, statements func(dataset.Reader)) error {
	done, err := s.track()
	if err != nil {
		return err
	}
	defer done()

	if err := s.awaitReady(ctx); err != nil {
		return err
	}
	err = s.mainQ.PerformAndWait(ctx, func(context.Context) error {
		statements(s.main.View())
		return nil
	})
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}

// Snapshot returns Main's current state. Same visibility as Read.
func (s *Service) Snapshot(ctx context.Context) (*dataset.Snapshot, error) {
	var snap *dataset.Snapshot
	err := s.TryRead(ctx, func(r dataset.Reader) {
		snap = r.(*dataset.Snapshot)
	})
	return snap, err
}

// WriteSync runs changes in a scratch context and blocks until they are
// saved into Main, so a following Read sees them. The Main→Root→Store
// cascade continues in the background; completion, if non-nil, is called
// on the notification queue once it ends, with nil on durable success.
// Any failure along the way is published on the error channel before
// completion sees it.
//
// changes must not call back into s; under SharedScratch that deadlocks.
func (s *Service) WriteSync(ctx context.Context, changes func(*dataset.Tx) error, completion func(error)) *Service {
	w := s.newWrite(modeSync, changes, completion)
	done, err := s.track()
	if err != nil {
		s.finish(ctx, w, err)
		return s
	}
	defer done()

	s.write(ctx, w)
	return s
}

// WriteAsync is WriteSync without blocking the caller. The scratch
// phase runs on its own goroutine; completion reports the full cascade.
// It returns nothing: the write is not ordered with whatever the caller
// does next, so chaining a Read after it would promise an order that does
// not exist. Wait for completion before relying on the write.
func (s *Service) WriteAsync(ctx context.Context, changes func(*dataset.Tx) error, completion func(error)) {
	w := s.newWrite(modeAsync, changes, completion)
	done, err := s.track()
	if err != nil {
		s.finish(ctx, w, err)
		return
	}

	bg := executor.Detach(ctx)
	go func() {
		defer done()
		s.write(bg, w)
	}()
}

// Write is WriteSync that also waits for the cascade and returns its
// result.
func (s *Service) Write(ctx context.Context, changes func(*dataset.Tx) error) error {
	result := make(chan error, 1)
	s.WriteSync(ctx, changes, func(err error) { result <- err })
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) newWrite(mode writeMode, changes func(*dataset.Tx) error, completion func(error)) *pendingWrite {
	return &pendingWrite{
		id:         s.opts.writeIDs.Generate(),
		mode:       mode,
		changes:    changes,
		completion: completion,
	}
}

// write runs w through Scratch→Main and then starts the cascade.
func (s *Service) write(ctx context.Context, w *pendingWrite) {
	if err := s.awaitReady(ctx); err != nil {
		s.finish(ctx, w, err)
		return
	}

	s.gate.RLock()
	err := s.applyToMain(ctx, w)
	s.gate.RUnlock()
	if err != nil {
		s.finish(ctx, w, err)
		return
	}

	s.logger.Debug("write reached main", "write", w.id, "mode", w.mode)

	done, err := s.track()
	if err != nil {
		// Close is underway; its final flush carries this write.
		s.finish(ctx, w, s.flush(executor.Detach(ctx)))
		return
	}
	bg := executor.Detach(ctx)
	go func() {
		defer done()
		s.finish(bg, w, s.cascade(bg))
	}()
}

// applyToMain runs the closure in a scratch context and saves it into
// Main.
func (s *Service) applyToMain(ctx context.Context, w *pendingWrite) error {
	if s.opts.policy == SharedScratch {
		return s.scratchQ.PerformAndWait(ctx, func(ctx context.Context) error {
			if err := s.scratch.Mutate(ctx, w.changes); err != nil {
				return err
			}
			if err := s.scratch.Save(ctx); err != nil {
				// Start over from Main so later writes don't inherit the
				// rejected changes.
				s.scratch = s.newScratch(s.scratchQ)
				return err
			}
			return nil
		})
	}

	exec := executor.NewInline("scratch-" + w.id)
	sc := s.newScratch(exec)
	bctx := exec.Bind(ctx)
	if err := sc.Mutate(bctx, w.changes); err != nil {
		return err
	}
	return sc.Save(bctx)
}

// finish publishes a failure and delivers the completion, in that order,
// on the notification queue.
func (s *Service) finish(ctx context.Context, w *pendingWrite, err error) {
	if err == nil {
		s.logger.Debug("write durable", "write", w.id)
	}
	deliver := func(ctx context.Context) {
		if err != nil {
			s.errs.Publish(ctx, err, w.id)
		}
		if w.completion != nil {
			w.completion(err)
		}
	}
	if qerr := s.notifyQ.Perform(ctx, deliver); qerr != nil {
		deliver(executor.Detach(ctx))
	}
}
