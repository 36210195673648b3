package dal

import (
	"context"
	"fmt"

	"github.com/roach88/strata/internal/executor"
	"github.com/roach88/strata/internal/faults"
)

// cascade pushes Main's pending changes into Root and commits Root to
// the store. When neither has anything pending it does nothing. A failed
// step keeps its pending changes, so the next cascade retries them.
func (s *Service) cascade(ctx context.Context) error {
	s.cascadeMu.Lock()
	defer s.cascadeMu.Unlock()

	var mainDirty, rootDirty bool
	err := s.mainQ.PerformAndWait(ctx, func(ctx context.Context) (err error) {
		mainDirty, err = s.main.HasPendingChanges(ctx)
		return err
	})
	if err != nil {
		return err
	}
	err = s.rootQ.PerformAndWait(ctx, func(ctx context.Context) (err error) {
		rootDirty, err = s.root.HasPendingChanges(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if !mainDirty && !rootDirty {
		return nil
	}

	if mainDirty {
		if err := s.mainQ.PerformAndWait(ctx, s.main.Save); err != nil {
			return err
		}
	}
	return s.rootQ.PerformAndWait(ctx, s.root.Save)
}

// flush waits for writes already in their scratch phase to reach Main,
// then runs a cascade.
func (s *Service) flush(ctx context.Context) error {
	s.gate.Lock()
	// Barrier only: every write that held the gate has reached Main.
	s.gate.Unlock()
	return s.cascade(ctx)
}

// FlushAndWait drains in-flight writes into Main and blocks until
// everything in Main and Root is durable. With nothing pending it
// returns nil without touching the store. A failure is also published on
// the error channel.
//
// Once Close has begun, FlushAndWait waits for Close's final flush and
// returns its result instead of flushing itself.
func (s *Service) FlushAndWait(ctx context.Context) error {
	done, err := s.track()
	if err != nil {
		return s.awaitFinalFlush(ctx)
	}
	defer done()

	if err := s.awaitReady(ctx); err != nil {
		return err
	}
	if err := s.flush(ctx); err != nil {
		err = fmt.Errorf("flush: %w", err)
		s.errs.Publish(ctx, err, "")
		return err
	}
	return nil
}

func (s *Service) awaitFinalFlush(ctx context.Context) error {
	select {
	case <-s.flushed:
		return s.finalErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush is FlushAndWait in the background. completion, if non-nil, is
// called on the notification queue.
func (s *Service) Flush(ctx context.Context, completion func(error)) *Service {
	w := s.newWrite(modeAsync, nil, completion)
	done, err := s.track()
	if err != nil {
		s.finish(ctx, w, err)
		return s
	}

	bg := executor.Detach(ctx)
	go func() {
		defer done()
		err := s.awaitReady(bg)
		if err == nil {
			err = s.flush(bg)
		}
		s.finish(bg, w, err)
	}()
	return s
}

// Nuke discards every pending change and every stored record. Writes in
// their scratch phase finish first; writes issued during the nuke wait
// for it. Afterwards reads see an empty dataset and writes proceed
// normally.
func (s *Service) Nuke(ctx context.Context) error {
	done, err := s.track()
	if err != nil {
		return err
	}
	defer done()

	if err := s.awaitReady(ctx); err != nil {
		return err
	}

	s.gate.Lock()
	defer s.gate.Unlock()
	s.cascadeMu.Lock()
	defer s.cascadeMu.Unlock()

	err = s.rootQ.PerformAndWait(ctx, func(ctx context.Context) error {
		if err := s.store.Reset(ctx); err != nil {
			return err
		}
		return s.root.Reset(ctx, nil)
	})
	if err == nil {
		err = s.mainQ.PerformAndWait(ctx, func(ctx context.Context) error {
			return s.main.Reset(ctx, nil)
		})
	}
	if err == nil && s.opts.policy == SharedScratch {
		err = s.scratchQ.PerformAndWait(ctx, func(context.Context) error {
			s.scratch = s.newScratch(s.scratchQ)
			return nil
		})
	}
	if err != nil {
		if !faults.IsStoreReset(err) {
			err = faults.StoreReset("nuke", err)
		}
		s.errs.Publish(ctx, err, "")
		return err
	}

	s.logger.Info("pipeline nuked", "location", s.store.Location())
	return nil
}
