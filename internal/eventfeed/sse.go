package eventfeed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var pingInterval = 15 * time.Second

func WriteSSE(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if ev.EventID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.EventID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

// SetSSEHeaders applies headers that keep event streams stable across proxies.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Content-Type-Options", "nosniff")
}

// Stream replays events after lastEventID and then follows the timeline
// until the request ends or the session ends. Callers must have checked that
// w supports flushing.
func Stream(w http.ResponseWriter, r *http.Request, tl *Timeline) {
	flusher := w.(http.Flusher)
	SetSSEHeaders(w)

	// Subscribe before replaying so nothing appended in between is lost.
	ch := tl.Subscribe()
	defer tl.Unsubscribe(ch)

	var sent uint64
	for _, ev := range tl.ReplayAfter(r.Header.Get("Last-Event-ID")) {
		if err := WriteSSE(w, ev); err != nil {
			return
		}
		sent = ev.seq
	}
	flusher.Flush()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.seq <= sent {
				continue
			}
			if err := WriteSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			version, hash := tl.State()
			ping := Event{
				Event:     "ping",
				SessionID: tl.sessionID,
				Version:   version,
				Hash:      hash,
				ServerTS:  time.Now().UnixMilli(),
			}
			if err := WriteSSE(w, ping); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
