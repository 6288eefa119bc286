package eventfeed

import (
	"strconv"
	"sync"
	"time"

	"tabletop-sync/internal/broadcast"
	"tabletop-sync/internal/gamestate"
)

// Event is one entry of a session's observable timeline. Version and Hash
// are the session state the event was recorded against.
type Event struct {
	EventID   string `json:"event_id"`
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	Version   string `json:"version,omitempty"`
	Hash      string `json:"hash,omitempty"`
	ServerTS  int64  `json:"server_ts"`
	Data      any    `json:"data,omitempty"`

	seq uint64
}

// Timeline is the recent history of one session. State events advance its
// version, a resync compacts the updates it supersedes and session_ended
// closes it for good. Slow subscribers miss events rather than block
// recording.
type Timeline struct {
	sessionID string
	max       int

	mu       sync.Mutex
	seq      uint64
	version  string
	hash     string
	events   []Event
	watchers map[chan Event]struct{}
	ended    bool
}

func NewTimeline(sessionID string, max int) *Timeline {
	if max <= 0 {
		max = 500
	}
	return &Timeline{
		sessionID: sessionID,
		max:       max,
		version:   gamestate.InitialVersion,
		watchers:  map[chan Event]struct{}{},
	}
}

// Record appends an event and fans it out. It returns the zero Event once
// the session has ended.
func (t *Timeline) Record(event string, data any) Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		return Event{}
	}
	if version, hash, ok := stateOf(event, data); ok && !behind(version, t.version) {
		t.version = gamestate.FormatVersion(mustParse(version))
		t.hash = hash
	}
	t.seq++
	ev := Event{
		EventID:   strconv.FormatUint(t.seq, 10),
		Event:     event,
		SessionID: t.sessionID,
		Version:   t.version,
		Hash:      t.hash,
		ServerTS:  time.Now().UnixMilli(),
		Data:      data,
		seq:       t.seq,
	}
	if event == broadcast.EventStateResynced {
		t.compactLocked()
	}
	t.events = append(t.events, ev)
	if len(t.events) > t.max {
		t.events = t.events[len(t.events)-t.max:]
	}
	for ch := range t.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
	if event == broadcast.EventSessionEnded {
		t.endLocked()
	}
	return ev
}

// compactLocked drops state updates a full snapshot supersedes. Other events
// keep their place so replay still shows who joined and when.
func (t *Timeline) compactLocked() {
	kept := t.events[:0]
	for _, ev := range t.events {
		if ev.Event == broadcast.EventStateUpdated || ev.Event == broadcast.EventStateResynced {
			continue
		}
		kept = append(kept, ev)
	}
	t.events = kept
}

// State is the last version and hash the timeline has seen.
func (t *Timeline) State() (version, hash string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version, t.hash
}

func (t *Timeline) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// ReplayAfter returns retained events newer than lastEventID. An empty or
// unparsable id replays everything retained.
func (t *Timeline) ReplayAfter(lastEventID string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, err := strconv.ParseUint(lastEventID, 10, 64)
	if err != nil {
		last = 0
	}
	var out []Event
	for _, ev := range t.events {
		if ev.seq > last {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe returns a channel of future events. It is closed when the
// session ends, or immediately if it already has.
func (t *Timeline) Subscribe() chan Event {
	ch := make(chan Event, 32)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended {
		close(ch)
		return ch
	}
	t.watchers[ch] = struct{}{}
	return ch
}

func (t *Timeline) Unsubscribe(ch chan Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.watchers[ch]; ok {
		delete(t.watchers, ch)
		close(ch)
	}
}

// End closes the timeline without recording session_ended.
func (t *Timeline) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endLocked()
}

func (t *Timeline) endLocked() {
	if t.ended {
		return
	}
	t.ended = true
	for ch := range t.watchers {
		close(ch)
		delete(t.watchers, ch)
	}
}

// stateOf pulls the version and hash out of hub state events.
func stateOf(event string, data any) (string, string, bool) {
	if event != broadcast.EventStateUpdated && event != broadcast.EventStateResynced {
		return "", "", false
	}
	m, ok := data.(map[string]any)
	if !ok {
		return "", "", false
	}
	version, _ := m["version"].(string)
	hash, _ := m["hash"].(string)
	if _, err := gamestate.ParseVersion(version); err != nil {
		return "", "", false
	}
	return version, hash, true
}

func behind(version, current string) bool {
	return mustParse(version) < mustParse(current)
}

func mustParse(v string) uint64 {
	n, _ := gamestate.ParseVersion(v)
	return n
}
