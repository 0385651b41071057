package detections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultPoolSize   = 4
	HealthCheckPeriod = 60 * time.Second
	maxRecordedErrors = 10
)

var ErrPoolClosed = errors.New("session pool is closed")

// sessionRunner is the part of an onnxruntime session the pool needs.
type sessionRunner interface {
	Run() error
	Destroy() error
}

type destroyer interface {
	Destroy() error
}

// ModelSession is one inference session with its bound input and output buffers.
// A session serves a single forward pass at a time.
type ModelSession struct {
	runner  sessionRunner
	input   []float32
	output  []float32
	tensors []destroyer
}

func NewModelSession(runner sessionRunner, input, output []float32, tensors ...destroyer) *ModelSession {
	return &ModelSession{
		runner:  runner,
		input:   input,
		output:  output,
		tensors: tensors,
	}
}

func (m *ModelSession) Destroy() {
	if m.runner != nil {
		m.runner.Destroy()
	}
	for _, t := range m.tensors {
		t.Destroy()
	}
}

type SessionFactory func() (*ModelSession, error)

type PoolOptions struct {
	Size              int
	HealthCheckPeriod time.Duration
}

type SessionPool struct {
	sessions   chan *ModelSession
	size       int
	live       int
	factory    SessionFactory
	mu         sync.Mutex
	closed     bool
	done       chan struct{}
	metrics    *poolMetrics
	lastErrors []error
}

type poolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	totalDiscarded  int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolMetrics is a snapshot of the pool counters.
type PoolMetrics struct {
	Size            int           `json:"pool_size"`
	Available       int           `json:"sessions_available"`
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	TotalDiscarded  int64         `json:"total_discarded"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
	LastErrors      []string      `json:"last_errors,omitempty"`
}

// NewSessionPool creates opts.Size sessions up front. Any failure destroys what was
// created and is returned.
func NewSessionPool(factory SessionFactory, opts PoolOptions) (*SessionPool, error) {
	size := opts.Size
	if size <= 0 {
		size = DefaultPoolSize
	}
	period := opts.HealthCheckPeriod
	if period <= 0 {
		period = HealthCheckPeriod
	}

	pool := &SessionPool{
		sessions: make(chan *ModelSession, size),
		size:     size,
		factory:  factory,
		done:     make(chan struct{}),
		metrics:  &poolMetrics{},
	}

	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.live++
		pool.sessions <- session
	}

	go pool.healthCheck(period)

	return pool, nil
}

// Acquire blocks until a session is free or ctx is done.
func (p *SessionPool) Acquire(ctx context.Context) (*ModelSession, error) {
	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (p *SessionPool) Release(session *ModelSession) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		session.Destroy()
		return
	}
	p.sessions <- session
}

// Discard destroys a session that failed mid-run. The health check replaces it.
func (p *SessionPool) Discard(session *ModelSession, cause error) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalDiscarded++
	p.metrics.mu.Unlock()

	session.Destroy()

	p.mu.Lock()
	p.live--
	p.mu.Unlock()

	if cause != nil {
		p.recordError(cause)
	}
}

func (p *SessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.done)
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
	}
}

func (p *SessionPool) healthCheck(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

func (p *SessionPool) replenish() {
	p.mu.Lock()
	missing := p.size - p.live
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		session, err := p.factory()
		if err != nil {
			p.recordError(err)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			session.Destroy()
			return
		}
		p.live++
		p.sessions <- session
		p.mu.Unlock()
	}
}

func (p *SessionPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > maxRecordedErrors {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *SessionPool) GetMetrics() PoolMetrics {
	p.mu.Lock()
	available := len(p.sessions)
	lastErrors := make([]string, 0, len(p.lastErrors))
	for _, err := range p.lastErrors {
		lastErrors = append(lastErrors, err.Error())
	}
	p.mu.Unlock()

	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return PoolMetrics{
		Size:            p.size,
		Available:       available,
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		TotalDiscarded:  p.metrics.totalDiscarded,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTime:        p.metrics.waitTime,
		LastErrors:      lastErrors,
	}
}
