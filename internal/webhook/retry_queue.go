package webhook

import (
	"sync"
	"time"

	"tabletop-sync/internal/broadcast"
	"tabletop-sync/internal/gamestate"
)

// streamKey is one endpoint's view of one session.
type streamKey struct {
	endpoint  string
	sessionID string
}

// retryQueue holds failed deliveries until their backoff elapses. A state
// delivery is dropped on the way back in when the endpoint has since accepted
// a newer version of the same session.
type retryQueue struct {
	out  chan<- delivery
	done <-chan struct{}

	mu        sync.Mutex
	pending   int
	delivered map[streamKey]uint64
}

func newRetryQueue(out chan<- delivery, done <-chan struct{}) *retryQueue {
	return &retryQueue{out: out, done: done, delivered: map[streamKey]uint64{}}
}

func (q *retryQueue) Enqueue(d delivery, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	if q.superseded(d) {
		metricRetrySupersededTotal.Add(1)
		return
	}
	q.mu.Lock()
	q.pending++
	metricRetryPending.Set(int64(q.pending))
	q.mu.Unlock()

	time.AfterFunc(delay, func() {
		q.mu.Lock()
		q.pending--
		metricRetryPending.Set(int64(q.pending))
		q.mu.Unlock()
		if q.superseded(d) {
			metricRetrySupersededTotal.Add(1)
			return
		}
		select {
		case <-q.done:
		case q.out <- d:
			metricQueueLen.Set(int64(len(q.out)))
		}
	})
}

// Delivered records a successful delivery. session_ended forgets the
// session for that endpoint.
func (q *retryQueue) Delivered(d delivery) {
	key := streamKey{endpoint: d.Target.Endpoint, sessionID: d.Event.SessionID}
	q.mu.Lock()
	defer q.mu.Unlock()
	if d.Event.Event == broadcast.EventSessionEnded {
		delete(q.delivered, key)
		return
	}
	if v, ok := stateVersion(d); ok && v > q.delivered[key] {
		q.delivered[key] = v
	}
}

func (q *retryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *retryQueue) superseded(d delivery) bool {
	v, ok := stateVersion(d)
	if !ok {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delivered[streamKey{endpoint: d.Target.Endpoint, sessionID: d.Event.SessionID}] >= v
}

// stateVersion is the version a state event carries. Other events have none
// and are always retried.
func stateVersion(d delivery) (uint64, bool) {
	switch d.Event.Event {
	case broadcast.EventStateUpdated, broadcast.EventStateResynced:
	default:
		return 0, false
	}
	v, err := gamestate.ParseVersion(d.Event.Version)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}
