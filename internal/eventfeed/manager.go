package eventfeed

import "sync"

// Manager owns one Timeline per live session and records hub events into
// them.
type Manager struct {
	size  int
	sinks []func(Event)

	mu        sync.Mutex
	timelines map[string]*Timeline
}

func NewManager(size int) *Manager {
	return &Manager{size: size, timelines: map[string]*Timeline{}}
}

// AddSink registers fn to receive every recorded event. It must be called
// before the manager is shared and fn must not block.
func (m *Manager) AddSink(fn func(Event)) {
	m.sinks = append(m.sinks, fn)
}

// OnSessionEvent implements broadcast.Observer.
func (m *Manager) OnSessionEvent(sessionID, event string, data any) {
	ev := m.Timeline(sessionID).Record(event, data)
	if ev.EventID == "" {
		return
	}
	for _, fn := range m.sinks {
		fn(ev)
	}
}

// Timeline returns the session's timeline, creating it on first use.
func (m *Manager) Timeline(sessionID string) *Timeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.timelines[sessionID]
	if t == nil {
		t = NewTimeline(sessionID, m.size)
		m.timelines[sessionID] = t
	}
	return t
}

// Close ends every open stream of the session and drops its history.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	t := m.timelines[sessionID]
	delete(m.timelines, sessionID)
	m.mu.Unlock()
	if t != nil {
		t.End()
	}
}
