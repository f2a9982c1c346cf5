// Package pool manages a bounded set of live connections per target system.
//
// The pool is the only component that opens network sessions; factories and
// extractors never dial. Acquisition and bookkeeping hold the pool lock, but
// connection I/O (opening, pinging, queries) always happens outside it so one
// slow backend call cannot block unrelated acquisitions.
package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/contentops/cmconnect/pkg/cmerrors"
	"github.com/contentops/cmconnect/pkg/config"
	"github.com/contentops/cmconnect/pkg/connector/core"
)

// Factory creates and opens a new connection to the pool's target system.
type Factory func(ctx context.Context) (core.Connection, error)

// Slot wraps a connection with pool bookkeeping. A slot is owned either by
// the pool (idle) or by exactly one caller (checked out), never both.
type Slot struct {
	conn      core.Connection
	createdAt time.Time
	lastUsed  time.Time
	useCount  int64
	healthy   bool
}

// Connection returns the connection held by the slot.
func (s *Slot) Connection() core.Connection {
	return s.conn
}

// Age returns how long ago the slot was created.
func (s *Slot) Age() time.Duration {
	return time.Since(s.createdAt)
}

// Pool is a bounded connection pool for one target system.
type Pool struct {
	systemID string
	cfg      config.PoolConfig
	factory  Factory
	logger   *zap.Logger

	mu      sync.Mutex
	idle    []*Slot
	total   int
	pending int
	waiters []chan *Slot
	closed  bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a pool for the given system. Background eviction and health
// checking start immediately; no connection is opened until first Acquire.
func New(systemID string, cfg config.PoolConfig, factory Factory, logger *zap.Logger) *Pool {
	p := &Pool{
		systemID: systemID,
		cfg:      cfg,
		factory:  factory,
		logger:   logger.With(zap.String("component", "connection_pool"), zap.String("system_id", systemID)),
		stopCh:   make(chan struct{}),
	}

	go p.evictLoop()
	go p.healthLoop()

	return p
}

// Acquire returns a healthy slot, creating one if the pool is below MaxSize
// and no idle slot is available. At capacity it blocks up to AcquireTimeout,
// then fails with a typed pool error rather than blocking silently.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, cmerrors.New(cmerrors.ErrorTypePool, "pool is closed").WithSystem(p.systemID)
		}

		if n := len(p.idle); n > 0 {
			slot := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			p.checkout(slot)
			return slot, nil
		}

		if p.total < p.cfg.MaxSize {
			p.total++
			p.mu.Unlock()
			return p.grow(ctx)
		}

		waiter := make(chan *Slot, 1)
		p.waiters = append(p.waiters, waiter)
		p.pending++
		p.mu.Unlock()

		slot, err := p.wait(ctx, waiter)
		if err != nil {
			return nil, err
		}
		if slot != nil {
			p.checkout(slot)
			return slot, nil
		}
		// nil handoff: capacity was freed, retry the create path
	}
}

// Release returns a checked-out slot to the pool. A just-completed
// lightweight probe decides whether the slot is recycled or destroyed; a
// replacement for a destroyed slot is created lazily on the next Acquire.
func (p *Pool) Release(ctx context.Context, slot *Slot, healthy bool) {
	if slot == nil {
		return
	}

	if healthy {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		healthy = slot.conn.Ping(probeCtx) == nil
		cancel()
	}

	if !healthy {
		p.logger.Debug("destroying unhealthy connection",
			zap.String("connection_id", slot.conn.ID()),
			zap.Int64("use_count", slot.useCount))
		p.destroy(slot)
		return
	}

	slot.lastUsed = time.Now()
	slot.healthy = true

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.destroy(slot)
		return
	}
	if waiter := p.popWaiter(); waiter != nil {
		// Buffered send under the lock. An abandoning waiter removes itself
		// from the queue under the same lock before draining its channel, so
		// a slot handed off here is always drained, never stranded.
		waiter <- slot
		p.mu.Unlock()
		return
	}
	p.idle = append(p.idle, slot)
	p.mu.Unlock()
}

// Metrics returns a snapshot of pool occupancy.
func (p *Pool) Metrics() core.PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	return core.PoolMetrics{
		Total:     p.total,
		Available: len(p.idle),
		InUse:     p.total - len(p.idle),
		Pending:   p.pending,
	}
}

// Close destroys all idle connections and stops the background loops.
// Checked-out slots are destroyed as they are released.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	for _, w := range p.waiters {
		w <- nil
	}
	p.waiters = nil
	p.mu.Unlock()

	for _, slot := range idle {
		p.destroy(slot)
	}

	p.logger.Info("connection pool closed")
}

// grow opens a new connection outside the lock; the slot's capacity was
// already reserved by the caller.
func (p *Pool) grow(ctx context.Context) (*Slot, error) {
	conn, err := p.factory(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		if waiter := p.popWaiter(); waiter != nil {
			waiter <- nil
		}
		p.mu.Unlock()
		return nil, err
	}

	slot := &Slot{
		conn:      conn,
		createdAt: time.Now(),
		healthy:   true,
	}
	p.checkout(slot)

	p.logger.Debug("created connection",
		zap.String("connection_id", conn.ID()))

	return slot, nil
}

func (p *Pool) wait(ctx context.Context, waiter chan *Slot) (*Slot, error) {
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case slot := <-waiter:
		p.mu.Lock()
		p.pending--
		p.mu.Unlock()
		return slot, nil

	case <-timer.C:
		if slot := p.abandonWaiter(waiter); slot != nil {
			return slot, nil
		}
		return nil, cmerrors.Newf(cmerrors.ErrorTypePool, "acquire timed out after %s", p.cfg.AcquireTimeout).
			WithSystem(p.systemID)

	case <-ctx.Done():
		if slot := p.abandonWaiter(waiter); slot != nil {
			return slot, nil
		}
		return nil, cmerrors.Wrap(ctx.Err(), cmerrors.ErrorTypeTimeout, "acquire cancelled").
			WithSystem(p.systemID)
	}
}

// abandonWaiter removes the waiter from the queue, draining a slot that
// raced in while we were timing out. Returns the drained slot, if any.
func (p *Pool) abandonWaiter(waiter chan *Slot) *Slot {
	p.mu.Lock()
	for i, w := range p.waiters {
		if w == waiter {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.pending--
	p.mu.Unlock()

	select {
	case slot := <-waiter:
		return slot
	default:
		return nil
	}
}

func (p *Pool) popWaiter() chan *Slot {
	if len(p.waiters) == 0 {
		return nil
	}
	waiter := p.waiters[0]
	p.waiters = p.waiters[1:]
	return waiter
}

func (p *Pool) checkout(slot *Slot) {
	slot.lastUsed = time.Now()
	slot.useCount++
}

// destroy closes the connection and frees its capacity, waking one waiter so
// it can create a replacement.
func (p *Pool) destroy(slot *Slot) {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = slot.conn.Close(closeCtx)
	cancel()

	p.mu.Lock()
	p.total--
	if waiter := p.popWaiter(); waiter != nil {
		waiter <- nil
	}
	p.mu.Unlock()
}

// evictLoop closes idle connections past IdleTimeout, down to MinSize.
func (p *Pool) evictLoop() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}

	interval := p.cfg.IdleTimeout / 2
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.evictIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) evictIdle() {
	now := time.Now()
	var evicted []*Slot

	p.mu.Lock()
	kept := p.idle[:0]
	for _, slot := range p.idle {
		if p.total-len(evicted) > p.cfg.MinSize && now.Sub(slot.lastUsed) > p.cfg.IdleTimeout {
			evicted = append(evicted, slot)
		} else {
			kept = append(kept, slot)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, slot := range evicted {
		p.destroy(slot)
	}

	if len(evicted) > 0 {
		p.logger.Info("evicted idle connections", zap.Int("evicted", len(evicted)))
	}
}

// healthLoop probes idle connections every HealthCheckInterval. Unhealthy
// slots are destroyed here; checked-out slots are never touched mid-use.
func (p *Pool) healthLoop() {
	if p.cfg.HealthCheckInterval <= 0 {
		return
	}

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.checkIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) checkIdle() {
	p.mu.Lock()
	snapshot := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, slot := range snapshot {
		probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := slot.conn.Ping(probeCtx)
		cancel()

		if err != nil {
			p.logger.Warn("health check failed, destroying connection",
				zap.String("connection_id", slot.conn.ID()),
				zap.Error(err))
			p.destroy(slot)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.destroy(slot)
			continue
		}
		if waiter := p.popWaiter(); waiter != nil {
			waiter <- slot
			p.mu.Unlock()
			continue
		}
		p.idle = append(p.idle, slot)
		p.mu.Unlock()
	}
}
