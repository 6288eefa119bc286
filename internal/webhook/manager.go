package webhook

import (
	"context"
	"errors"
	"sync"
	"time"

	"tabletop-sync/internal/eventfeed"

	"github.com/rs/zerolog/log"
)

var errCircuitOpen = errors.New("circuit_open")

type breakerState struct {
	consecutiveFailures int
	openUntil           time.Time
}

// Manager pushes session events to webhook targets from a small worker pool.
// Failed deliveries are retried with exponential backoff unless a newer state
// version has reached the endpoint meanwhile, and an endpoint that keeps
// failing is skipped for a while.
type Manager struct {
	cfg    Config
	client *httpClient

	dispatchCh chan delivery
	retryQ     *retryQueue
	done       chan struct{}

	mu           sync.Mutex
	started      bool
	breakerByKey map[string]breakerState
}

func NewManager(cfg Config) *Manager {
	if cfg.DispatchBuffer <= 0 {
		cfg.DispatchBuffer = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CircuitOpenDuration <= 0 {
		cfg.CircuitOpenDuration = 30 * time.Second
	}
	m := &Manager{
		cfg:          cfg,
		client:       newHTTPClient(cfg.RequestTimeout),
		dispatchCh:   make(chan delivery, cfg.DispatchBuffer),
		done:         make(chan struct{}),
		breakerByKey: map[string]breakerState{},
	}
	m.retryQ = newRetryQueue(m.dispatchCh, m.done)
	return m
}

// Start runs the workers until ctx is done. It is a no-op without targets.
func (m *Manager) Start(ctx context.Context) {
	if !m.cfg.Enabled() {
		return
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	for i := 0; i < m.cfg.Workers; i++ {
		go m.worker(ctx)
	}
	go func() {
		<-ctx.Done()
		close(m.done)
	}()
	log.Info().Int("targets", len(m.cfg.Targets)).Int("workers", m.cfg.Workers).Msg("webhook push started")
}

// OnEvent queues ev for every matching target. It never blocks; events are
// dropped when the queue is full.
func (m *Manager) OnEvent(ev eventfeed.Event) {
	for _, t := range matchTargets(m.cfg.Targets, ev) {
		select {
		case m.dispatchCh <- delivery{Target: t, Event: ev}:
			metricQueuedTotal.Add(1)
		default:
			metricDroppedTotal.Add(1)
			log.Warn().Str("session_id", ev.SessionID).Str("event", ev.Event).Str("endpoint", t.Endpoint).Msg("webhook queue full; event dropped")
		}
	}
	metricQueueLen.Set(int64(len(m.dispatchCh)))
}

func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-m.dispatchCh:
			metricQueueLen.Set(int64(len(m.dispatchCh)))
			m.process(ctx, d)
		}
	}
}

func (m *Manager) process(ctx context.Context, d delivery) {
	if err := m.beforeSend(d.key(), time.Now()); err != nil {
		metricCircuitOpenTotal.Add(1)
		m.retryOrDrop(d, err)
		return
	}
	if err := m.client.post(ctx, d.Target, d.Event); err != nil {
		metricFailedTotal.Add(1)
		m.afterFailure(d.key(), time.Now())
		m.retryOrDrop(d, err)
		return
	}
	metricSentTotal.Add(1)
	m.afterSuccess(d.key())
	m.retryQ.Delivered(d)
}

func (m *Manager) retryOrDrop(d delivery, err error) bool {
	if d.Attempt >= m.cfg.RetryMax {
		metricRetryDroppedTotal.Add(1)
		log.Warn().Err(err).
			Str("session_id", d.Event.SessionID).
			Str("event_id", d.Event.EventID).
			Str("endpoint", d.Target.Endpoint).
			Msg("webhook delivery dropped")
		return false
	}
	d.Attempt++
	metricRetryTotal.Add(1)
	delay := m.cfg.RetryBase * time.Duration(1<<(d.Attempt-1))
	m.retryQ.Enqueue(d, delay)
	return true
}

func (m *Manager) beforeSend(key string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.breakerByKey[key]
	if !state.openUntil.IsZero() && now.Before(state.openUntil) {
		return errCircuitOpen
	}
	return nil
}

func (m *Manager) afterFailure(key string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.breakerByKey[key]
	state.consecutiveFailures++
	if state.consecutiveFailures >= m.cfg.FailureThreshold {
		state.openUntil = now.Add(m.cfg.CircuitOpenDuration)
		state.consecutiveFailures = 0
	}
	m.breakerByKey[key] = state
}

func (m *Manager) afterSuccess(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerByKey[key] = breakerState{}
}
