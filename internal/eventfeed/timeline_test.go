package eventfeed

import "testing"

func TestTimelineOrderAndReplay(t *testing.T) {
	tl := NewTimeline("s1", 10)
	ev1 := tl.Record("a", map[string]any{"n": 1})
	ev2 := tl.Record("b", map[string]any{"n": 2})
	ev3 := tl.Record("c", map[string]any{"n": 3})

	if ev1.EventID != "1" || ev2.EventID != "2" || ev3.EventID != "3" {
		t.Fatalf("unexpected event ids: %s %s %s", ev1.EventID, ev2.EventID, ev3.EventID)
	}
	if ev1.SessionID != "s1" || ev1.Version != "0" {
		t.Fatalf("unexpected first event: %+v", ev1)
	}

	replay := tl.ReplayAfter("1")
	if len(replay) != 2 {
		t.Fatalf("expected 2 replay events, got %d", len(replay))
	}
	if replay[0].EventID != "2" || replay[1].EventID != "3" {
		t.Fatalf("unexpected replay order: %+v", replay)
	}
	if all := tl.ReplayAfter("not-a-number"); len(all) != 3 {
		t.Fatalf("expected full replay for bad id, got %d", len(all))
	}
}

func TestTimelineTrimsToMax(t *testing.T) {
	tl := NewTimeline("s1", 2)
	for i := 0; i < 5; i++ {
		tl.Record("tick", i)
	}
	replay := tl.ReplayAfter("")
	if len(replay) != 2 {
		t.Fatalf("expected 2 retained events, got %d", len(replay))
	}
	if replay[0].EventID != "4" || replay[1].EventID != "5" {
		t.Fatalf("unexpected retained ids: %+v", replay)
	}
}

func TestTimelineStampsStateVersion(t *testing.T) {
	tl := NewTimeline("s1", 10)
	tl.Record("state_updated", map[string]any{"version": "1", "hash": "h1"})
	joined := tl.Record("participant_joined", map[string]any{"participant_id": "p1"})
	if joined.Version != "1" || joined.Hash != "h1" {
		t.Fatalf("join not stamped with current state: %+v", joined)
	}

	// a lower version never moves the timeline back
	tl.Record("state_resynced", map[string]any{"version": "0", "hash": "old"})
	if v, h := tl.State(); v != "1" || h != "h1" {
		t.Fatalf("State() = %q %q after stale resync", v, h)
	}

	tl.Record("state_updated", map[string]any{"version": "not-a-version"})
	if v, _ := tl.State(); v != "1" {
		t.Fatalf("State() version = %q after malformed update", v)
	}
}

func TestResyncCompactsSupersededUpdates(t *testing.T) {
	tl := NewTimeline("s1", 10)
	tl.Record("participant_joined", nil)
	tl.Record("state_updated", map[string]any{"version": "1", "hash": "h1"})
	tl.Record("state_updated", map[string]any{"version": "2", "hash": "h2"})
	tl.Record("authority_lost", nil)
	tl.Record("state_resynced", map[string]any{"version": "2", "hash": "h2"})

	var names []string
	for _, ev := range tl.ReplayAfter("") {
		names = append(names, ev.Event)
	}
	want := []string{"participant_joined", "authority_lost", "state_resynced"}
	if len(names) != len(want) {
		t.Fatalf("events = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("events = %v, want %v", names, want)
		}
	}
	// ids keep counting so Last-Event-ID resumes correctly
	if got := tl.ReplayAfter("4"); len(got) != 1 || got[0].EventID != "5" {
		t.Fatalf("ReplayAfter(4) = %+v", got)
	}
}

func TestSessionEndedClosesTimeline(t *testing.T) {
	tl := NewTimeline("s1", 4)
	ch := tl.Subscribe()
	tl.Record("a", nil)
	if ev := <-ch; ev.Event != "a" {
		t.Fatalf("unexpected event %q", ev.Event)
	}
	tl.Record("session_ended", nil)
	if ev := <-ch; ev.Event != "session_ended" {
		t.Fatalf("subscribers must see session_ended, got %q", ev.Event)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if !tl.Ended() {
		t.Fatal("timeline not ended")
	}
	if ev := tl.Record("b", nil); ev.EventID != "" {
		t.Fatal("record after session_ended must be a no-op")
	}
	late := tl.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("subscribe after end must return a closed channel")
	}
	if got := tl.ReplayAfter(""); len(got) != 2 {
		t.Fatalf("history stays readable after end, got %d events", len(got))
	}
}

func TestManagerRecordsAndCloses(t *testing.T) {
	m := NewManager(8)
	m.OnSessionEvent("s1", "participant_joined", map[string]any{"participant_id": "p1"})
	m.OnSessionEvent("s2", "state_updated", map[string]any{"version": "3", "hash": "h3"})

	if got := m.Timeline("s1").ReplayAfter(""); len(got) != 1 || got[0].SessionID != "s1" {
		t.Fatalf("unexpected s1 events: %+v", got)
	}
	ch := m.Timeline("s1").Subscribe()
	m.Close("s1")
	if _, ok := <-ch; ok {
		t.Fatal("expected stream closed")
	}
	if got := m.Timeline("s1").ReplayAfter(""); len(got) != 0 {
		t.Fatalf("expected fresh timeline after close, got %d events", len(got))
	}
	if v, _ := m.Timeline("s2").State(); v != "3" {
		t.Fatalf("other sessions unaffected, s2 version = %q", v)
	}
}

func TestManagerForwardsToSinks(t *testing.T) {
	m := NewManager(8)
	var got []Event
	m.AddSink(func(ev Event) { got = append(got, ev) })

	m.OnSessionEvent("s1", "state_updated", map[string]any{"version": "1"})
	m.OnSessionEvent("s1", "state_updated", map[string]any{"version": "2"})
	m.OnSessionEvent("s1", "session_ended", nil)
	m.OnSessionEvent("s1", "participant_left", nil)

	if len(got) != 3 {
		t.Fatalf("sink got %d events, want 3", len(got))
	}
	if got[1].EventID != "2" || got[1].Version != "2" {
		t.Fatalf("unexpected forwarded event: %+v", got[1])
	}
}
