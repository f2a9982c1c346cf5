package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/cmerrors"
	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector/core"
)

// fakeConn is a minimal in-memory core.Connection for pool tests.
type fakeConn struct {
	id       string
	systemID string
	pingErr  error
	closed   atomic.Bool
	version  *core.VersionInfo
}

func (f *fakeConn) ID() string              { return f.id }
func (f *fakeConn) SystemID() string        { return f.systemID }
func (f *fakeConn) Protocol() core.Protocol { return core.ProtocolDatabase }

func (f *fakeConn) Open(ctx context.Context) error { return nil }
func (f *fakeConn) Close(ctx context.Context) error {
	f.closed.Store(true)
	return nil
}
func (f *fakeConn) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeConn) Query(ctx context.Context, stmt *core.Statement) (*core.RawResult, error) {
	return &core.RawResult{}, nil
}
func (f *fakeConn) Call(ctx context.Context, req *core.RestRequest) (*core.RawResult, error) {
	return &core.RawResult{}, nil
}

func (f *fakeConn) Version() *core.VersionInfo         { return f.version }
func (f *fakeConn) BindVersion(info *core.VersionInfo) { f.version = info }

func testPoolConfig(maxSize int) config.PoolConfig {
	return config.PoolConfig{
		MinSize:             0,
		MaxSize:             maxSize,
		AcquireTimeout:      100 * time.Millisecond,
		IdleTimeout:         time.Hour,
		HealthCheckInterval: time.Hour,
	}
}

func countingFactory(systemID string, created *atomic.Int32) Factory {
	return func(ctx context.Context) (core.Connection, error) {
		n := created.Add(1)
		return &fakeConn{id: fmt.Sprintf("conn-%d", n), systemID: systemID}, nil
	}
}

func TestAcquireCreatesLazily(t *testing.T) {
	var created atomic.Int32
	p := New("cm-test", testPoolConfig(4), countingFactory("cm-test", &created), zap.NewNop())
	defer p.Close()

	assert.Equal(t, int32(0), created.Load())

	slot, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), created.Load())

	m := p.Metrics()
	assert.Equal(t, 1, m.Total)
	assert.Equal(t, 1, m.InUse)
	assert.Equal(t, 0, m.Available)

	p.Release(context.Background(), slot, true)
	m = p.Metrics()
	assert.Equal(t, 1, m.Total)
	assert.Equal(t, 0, m.InUse)
	assert.Equal(t, 1, m.Available)
}

func TestReleaseRecyclesConnection(t *testing.T) {
	var created atomic.Int32
	p := New("cm-test", testPoolConfig(4), countingFactory("cm-test", &created), zap.NewNop())
	defer p.Close()

	ctx := context.Background()
	slot, err := p.Acquire(ctx)
	require.NoError(t, err)
	first := slot.Connection().ID()
	p.Release(ctx, slot, true)

	slot, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, slot.Connection().ID())
	assert.Equal(t, int32(1), created.Load())
	p.Release(ctx, slot, true)
}

func TestUnhealthyReleaseDestroys(t *testing.T) {
	var created atomic.Int32
	p := New("cm-test", testPoolConfig(4), countingFactory("cm-test", &created), zap.NewNop())
	defer p.Close()

	ctx := context.Background()
	slot, err := p.Acquire(ctx)
	require.NoError(t, err)
	conn := slot.Connection().(*fakeConn)
	p.Release(ctx, slot, false)

	assert.True(t, conn.closed.Load())
	assert.Equal(t, 0, p.Metrics().Total)

	slot, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), created.Load())
	p.Release(ctx, slot, true)
}

func TestMaxSizeIsNeverExceeded(t *testing.T) {
	var created atomic.Int32
	p := New("cm-test", config.PoolConfig{
		MaxSize:             2,
		AcquireTimeout:      2 * time.Second,
		IdleTimeout:         time.Hour,
		HealthCheckInterval: time.Hour,
	}, countingFactory("cm-test", &created), zap.NewNop())
	defer p.Close()

	ctx := context.Background()
	var inUse, peak int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := p.Acquire(ctx)
			if err != nil {
				return
			}
			n := atomic.AddInt32(&inUse, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inUse, -1)
			p.Release(ctx, slot, true)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.LessOrEqual(t, created.Load(), int32(2))
	assert.LessOrEqual(t, p.Metrics().Total, 2)
}

func TestThirdCallerBlocksUntilRelease(t *testing.T) {
	var created atomic.Int32
	p := New("cm-test", config.PoolConfig{
		MaxSize:             2,
		AcquireTimeout:      2 * time.Second,
		IdleTimeout:         time.Hour,
		HealthCheckInterval: time.Hour,
	}, countingFactory("cm-test", &created), zap.NewNop())
	defer p.Close()

	ctx := context.Background()
	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan *Slot, 1)
	go func() {
		slot, err := p.Acquire(ctx)
		if err == nil {
			acquired <- slot
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third caller acquired while pool was exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(ctx, a, true)

	select {
	case slot := <-acquired:
		p.Release(ctx, slot, true)
	case <-time.After(time.Second):
		t.Fatal("third caller was not woken by release")
	}

	p.Release(ctx, b, true)
}

func TestAcquireTimeoutReturnsTypedError(t *testing.T) {
	var created atomic.Int32
	p := New("cm-test", config.PoolConfig{
		MaxSize:             1,
		AcquireTimeout:      50 * time.Millisecond,
		IdleTimeout:         time.Hour,
		HealthCheckInterval: time.Hour,
	}, countingFactory("cm-test", &created), zap.NewNop())
	defer p.Close()

	ctx := context.Background()
	slot, err := p.Acquire(ctx)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypePool))
	assert.Less(t, time.Since(start), time.Second)

	p.Release(ctx, slot, true)
}

// Races Release against a waiter's acquire timeout. A handoff that lands
// after the waiter abandons its channel must still be drained by the
// abandoner, not stranded; any leak shows up as lost capacity below.
func TestReleaseTimeoutChurnKeepsCapacity(t *testing.T) {
	var created atomic.Int32
	p := New("cm-test", config.PoolConfig{
		MaxSize:             1,
		AcquireTimeout:      2 * time.Millisecond,
		IdleTimeout:         time.Hour,
		HealthCheckInterval: time.Hour,
	}, countingFactory("cm-test", &created), zap.NewNop())
	defer p.Close()

	ctx := context.Background()
	for i := 0; i < 400; i++ {
		slot, err := p.Acquire(ctx)
		require.NoError(t, err, "capacity lost after %d rounds", i)

		done := make(chan struct{})
		go func() {
			if s, err := p.Acquire(ctx); err == nil {
				p.Release(ctx, s, true)
			}
			close(done)
		}()

		// Vary the release point around the waiter's timeout so some rounds
		// hand off cleanly and some collide with the abandon path.
		time.Sleep(time.Duration(i%4) * time.Millisecond)
		p.Release(ctx, slot, true)
		<-done
	}

	slot, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(ctx, slot, true)

	m := p.Metrics()
	assert.Equal(t, 1, m.Total)
	assert.Equal(t, 1, m.Available)
	assert.Equal(t, 0, m.Pending)
}

func TestFactoryFailureFreesCapacity(t *testing.T) {
	fail := atomic.Bool{}
	fail.Store(true)
	var created atomic.Int32

	factory := func(ctx context.Context) (core.Connection, error) {
		if fail.Load() {
			return nil, cmerrors.New(cmerrors.ErrorTypeConnection, "backend unreachable")
		}
		n := created.Add(1)
		return &fakeConn{id: fmt.Sprintf("conn-%d", n), systemID: "cm-test"}, nil
	}

	p := New("cm-test", testPoolConfig(1), factory, zap.NewNop())
	defer p.Close()

	ctx := context.Background()
	_, err := p.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, p.Metrics().Total)

	fail.Store(false)
	slot, err := p.Acquire(ctx)
	require.NoError(t, err)
	p.Release(ctx, slot, true)
}

func TestCloseDrainsIdleAndRejectsAcquire(t *testing.T) {
	var created atomic.Int32
	p := New("cm-test", testPoolConfig(2), countingFactory("cm-test", &created), zap.NewNop())

	ctx := context.Background()
	slot, err := p.Acquire(ctx)
	require.NoError(t, err)
	conn := slot.Connection().(*fakeConn)
	p.Release(ctx, slot, true)

	p.Close()
	assert.True(t, conn.closed.Load())

	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, cmerrors.IsType(err, cmerrors.ErrorTypePool))
}

func TestRegistrySharesPoolPerSystem(t *testing.T) {
	var created atomic.Int32
	r := NewRegistry(zap.NewNop())
	defer r.Close()

	factory := countingFactory("cm-a", &created)
	a := r.GetOrCreate("cm-a", testPoolConfig(2), factory)
	b := r.GetOrCreate("cm-a", testPoolConfig(2), factory)
	c := r.GetOrCreate("cm-b", testPoolConfig(2), factory)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Same(t, a, r.Get("cm-a"))
	assert.Nil(t, r.Get("cm-missing"))

	r.Remove("cm-a")
	assert.Nil(t, r.Get("cm-a"))
}
