package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/lifecycle"
	"github.com/roach88/strata/internal/testutil"
)

// stubFlusher counts flushes and optionally blocks until released.
type stubFlusher struct {
	calls   atomic.Int32
	err     error
	started chan struct{}
	release chan struct{}
	during  func()
}

func (f *stubFlusher) FlushAndWait(context.Context) error {
	f.calls.Add(1)
	if f.during != nil {
		f.during()
	}
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.err
}

func TestGuard_SuspendFlushesAndReleasesToken(t *testing.T) {
	host := testutil.NewFakeHost()
	flusher := &stubFlusher{}
	var states []lifecycle.State
	var g *lifecycle.Guard
	flusher.during = func() {
		states = append(states, g.State())
		assert.Equal(t, 1, host.Open(), "token held during flush")
	}
	g = lifecycle.NewGuard(host, flusher)
	defer g.Close()

	host.Suspend()

	assert.Equal(t, int32(1), flusher.calls.Load())
	assert.Equal(t, []lifecycle.State{lifecycle.Flushing}, states)
	assert.Equal(t, lifecycle.Idle, g.State())
	assert.Zero(t, host.Open(), "token released after flush")
	assert.Equal(t, int64(1), g.Flushes())
}

func TestGuard_TerminateFlushes(t *testing.T) {
	host := testutil.NewFakeHost()
	flusher := &stubFlusher{}
	g := lifecycle.NewGuard(host, flusher)
	defer g.Close()

	host.Terminate()
	assert.Equal(t, int32(1), flusher.calls.Load())
	assert.Zero(t, host.Open())
}

func TestGuard_TokenReleasedOnFailure(t *testing.T) {
	host := testutil.NewFakeHost()
	boom := errors.New("disk gone")
	flusher := &stubFlusher{err: boom}

	var results []lifecycle.Result
	g := lifecycle.NewGuard(host, flusher, lifecycle.WithObserver(func(r lifecycle.Result) {
		results = append(results, r)
	}))
	defer g.Close()

	err := g.Trigger(lifecycle.Suspend)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, host.Open())
	assert.Equal(t, lifecycle.Idle, g.State())

	require.Len(t, results, 1)
	assert.Equal(t, lifecycle.Suspend, results[0].Signal)
	assert.ErrorIs(t, results[0].Err, boom)
	assert.False(t, results[0].Expired)
}

func TestGuard_ExpiryDoesNotCancelFlushAndDropsError(t *testing.T) {
	host := testutil.NewFakeHost()
	host.ExpireOnBegin()
	flusher := &stubFlusher{err: errors.New("late failure")}

	var result lifecycle.Result
	g := lifecycle.NewGuard(host, flusher, lifecycle.WithObserver(func(r lifecycle.Result) {
		result = r
	}))
	defer g.Close()

	err := g.Trigger(lifecycle.Terminate)
	assert.NoError(t, err, "error after expiry is dropped")
	assert.Equal(t, int32(1), flusher.calls.Load(), "flush still ran")
	assert.True(t, result.Expired)
	assert.Error(t, result.Err)
}

func TestGuard_SignalsSerializeOneTokenAtATime(t *testing.T) {
	host := testutil.NewFakeHost()
	flusher := &stubFlusher{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	g := lifecycle.NewGuard(host, flusher)
	defer g.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); host.Suspend() }()
	go func() { defer wg.Done(); host.Terminate() }()

	select {
	case <-flusher.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first flush never started")
	}
	assert.Equal(t, 1, host.Open())
	flusher.release <- struct{}{}

	select {
	case <-flusher.started:
	case <-time.After(5 * time.Second):
		t.Fatal("second flush never started")
	}
	flusher.release <- struct{}{}
	wg.Wait()

	assert.Equal(t, 2, host.Began())
	assert.Equal(t, 1, host.MaxOpen(), "never two tokens outstanding")
	assert.Zero(t, host.Open())
}

func TestGuard_CloseUnsubscribes(t *testing.T) {
	host := testutil.NewFakeHost()
	flusher := &stubFlusher{}
	g := lifecycle.NewGuard(host, flusher)
	assert.Equal(t, 2, host.Subscribers())

	g.Close()
	g.Close()
	assert.Zero(t, host.Subscribers())

	host.Suspend()
	assert.Zero(t, flusher.calls.Load())
	assert.ErrorIs(t, g.Trigger(lifecycle.Suspend), lifecycle.ErrClosed)
}

func TestSignalHost_ProtectedWindowExpires(t *testing.T) {
	host := lifecycle.NewSignalHost(lifecycle.WithProtectedWindow(10 * time.Millisecond))
	defer host.Close()

	expired := make(chan struct{})
	tok := host.BeginProtectedWindow(func() { close(expired) })
	assert.NotZero(t, tok)

	select {
	case <-expired:
	case <-time.After(5 * time.Second):
		t.Fatal("window never expired")
	}
	assert.Zero(t, host.OpenWindows())
	host.EndProtectedWindow(tok)
}

func TestSignalHost_EndStopsExpiry(t *testing.T) {
	host := lifecycle.NewSignalHost(lifecycle.WithProtectedWindow(20 * time.Millisecond))
	defer host.Close()

	var fired atomic.Bool
	tok := host.BeginProtectedWindow(func() { fired.Store(true) })
	assert.Equal(t, 1, host.OpenWindows())
	host.EndProtectedWindow(tok)
	assert.Zero(t, host.OpenWindows())

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestSignalHost_DrivesGuard(t *testing.T) {
	host := lifecycle.NewSignalHost(lifecycle.WithProtectedWindow(0))
	defer host.Close()

	flusher := &stubFlusher{}
	g := lifecycle.NewGuard(host, flusher)

	host.Suspend()
	host.Terminate()
	assert.Equal(t, int32(2), flusher.calls.Load())
	assert.Zero(t, host.OpenWindows())

	g.Close()
	host.Suspend()
	assert.Equal(t, int32(2), flusher.calls.Load())
}

func TestStateAndSignalStrings(t *testing.T) {
	assert.Equal(t, "idle", lifecycle.Idle.String())
	assert.Equal(t, "flush-pending", lifecycle.FlushPending.String())
	assert.Equal(t, "flushing", lifecycle.Flushing.String())
	assert.Equal(t, "suspend", lifecycle.Suspend.String())
	assert.Equal(t, "terminate", lifecycle.Terminate.String())
}
