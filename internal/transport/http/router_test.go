package httptransport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tabletop-sync/internal/app/campaign"
	"tabletop-sync/internal/app/identity"
	appsession "tabletop-sync/internal/app/session"
	"tabletop-sync/internal/authority"
	"tabletop-sync/internal/broadcast"
	"tabletop-sync/internal/eventfeed"
	"tabletop-sync/internal/router"
	"tabletop-sync/internal/session"
	"tabletop-sync/internal/ws"
)

const testAdminKey = "admin-secret"

func newTestRouter(t *testing.T, jwtSecret string) http.Handler {
	t.Helper()
	dir := session.NewDirectory(nil)
	reg := authority.New(20 * time.Second)
	feeds := eventfeed.NewManager(50)
	hub := broadcast.NewHub(dir, reg, feeds)
	rt := router.New(dir, reg)
	return NewRouter(Deps{
		Sessions:    appsession.NewService(dir, reg, rt, hub, feeds),
		Campaigns:   campaign.NewService(nil),
		Tokens:      identity.NewService(ws.NewIdentity(jwtSecret), time.Hour),
		Feeds:       feeds,
		AdminAPIKey: testAdminKey,
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if admin {
		req.Header.Set("X-Admin-Key", testAdminKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestHealthWithoutDatabase(t *testing.T) {
	h := newTestRouter(t, "")
	rec := do(t, h, http.MethodGet, "/healthz", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"db":"disabled"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := newTestRouter(t, "")
	start := map[string]any{"session_id": "s1", "campaign_id": "camp", "gm_id": "gm", "participants": []string{"p1"}}

	if rec := do(t, h, http.MethodPost, "/api/sessions", start, false); rec.Code != http.StatusUnauthorized {
		t.Fatalf("create without admin key status = %d, want 401", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/api/sessions", start, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodPost, "/api/sessions", start, true); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/sessions/s1", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
	var view appsession.View
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Version != "0" || view.AuthorityConnected || view.Status != session.StatusActive {
		t.Fatalf("unexpected view: %+v", view)
	}

	if rec := do(t, h, http.MethodPost, "/api/sessions/s1/participants", map[string]string{"participant_id": "p2"}, true); rec.Code != http.StatusOK {
		t.Fatalf("add participant status = %d, want 200", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/sessions/s1/pause", nil, true); rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d, want 200", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/sessions/s1/resume", nil, true); rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d, want 200", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/sessions/s1", nil, true); rec.Code != http.StatusOK {
		t.Fatalf("end status = %d, want 200", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/sessions/s1/pause", nil, true)
	if rec.Code != http.StatusGone || decodeError(t, rec) != "session_ended" {
		t.Fatalf("pause after end = %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodGet, "/api/sessions/s1/events", nil, false)
	if rec.Code != http.StatusGone {
		t.Fatalf("events after end status = %d, want 410", rec.Code)
	}
}

func TestSessionErrors(t *testing.T) {
	h := newTestRouter(t, "")
	rec := do(t, h, http.MethodGet, "/api/sessions/missing", nil, false)
	if rec.Code != http.StatusNotFound || decodeError(t, rec) != "session_not_found" {
		t.Fatalf("get missing = %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPost, "/api/sessions", map[string]any{"campaign_id": "camp"}, true)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec) != "invalid_request" {
		t.Fatalf("create without gm = %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader("{"))
	req.Header.Set("X-Admin-Key", testAdminKey)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest || decodeError(t, rr) != "invalid_json" {
		t.Fatalf("create bad json = %d %s", rr.Code, rr.Body.String())
	}
}

func TestDocumentsUnavailableWithoutStore(t *testing.T) {
	h := newTestRouter(t, "")
	rec := do(t, h, http.MethodGet, "/api/campaigns/camp/documents", nil, false)
	if rec.Code != http.StatusServiceUnavailable || decodeError(t, rec) != "document_store_unavailable" {
		t.Fatalf("documents = %d %s", rec.Code, rec.Body.String())
	}
}

func TestIssueToken(t *testing.T) {
	h := newTestRouter(t, "jwt-secret")
	rec := do(t, h, http.MethodPost, "/api/tokens", map[string]any{"participant_id": "p1", "ttl_seconds": 60}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("issue status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp identity.IssueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/ws?session_id=s1", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	pid, err := ws.NewIdentity("jwt-secret").Authenticate(req)
	if err != nil || pid != "p1" {
		t.Fatalf("Authenticate() = %q, %v", pid, err)
	}

	dev := newTestRouter(t, "")
	rec = do(t, dev, http.MethodPost, "/api/tokens", map[string]any{"participant_id": "p1"}, true)
	if rec.Code != http.StatusConflict || decodeError(t, rec) != "tokens_disabled" {
		t.Fatalf("issue without secret = %d %s", rec.Code, rec.Body.String())
	}
}

func TestProtocolSchemaServed(t *testing.T) {
	h := newTestRouter(t, "")
	rec := do(t, h, http.MethodGet, "/api/protocol/schema", nil, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("schema status = %d", rec.Code)
	}
	if !json.Valid(rec.Body.Bytes()) {
		t.Fatal("schema body is not JSON")
	}
}

func TestEventsStreamReplaysAndEnds(t *testing.T) {
	h := newTestRouter(t, "")
	srv := httptest.NewServer(h)
	defer srv.Close()

	start := map[string]any{"session_id": "s1", "campaign_id": "camp", "gm_id": "gm"}
	if rec := do(t, h, http.MethodPost, "/api/sessions", start, true); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	resp, err := http.Get(srv.URL + "/api/sessions/s1/events")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	waitLine := func(want string) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", want)
				}
				if line == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}
	waitLine("event: " + appsession.EventSessionStarted)

	if rec := do(t, h, http.MethodDelete, "/api/sessions/s1", nil, true); rec.Code != http.StatusOK {
		t.Fatalf("end status = %d", rec.Code)
	}
	waitLine("event: " + broadcast.EventSessionEnded)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after session end")
		}
	}
}
