package httptransport

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"tabletop-sync/internal/logging"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"
)

// redactedFields never reach the access log.
var redactedFields = map[string]struct{}{
	"token":  {},
	"secret": {},
}

// AccessLog writes one structured line per request into the process log sink.
func AccessLog() func(http.Handler) http.Handler {
	return httplog.RequestLogger(
		slog.New(slog.NewJSONHandler(logging.Writer(), &slog.HandlerOptions{})),
		&httplog.Options{
			Level:              slog.LevelInfo,
			Schema:             httplog.Schema{ResponseStatus: "status", ResponseDuration: "duration_ms"},
			LogRequestBody:     func(*http.Request) bool { return false },
			LogResponseBody:    func(*http.Request) bool { return false },
			LogRequestHeaders:  []string{},
			LogResponseHeaders: []string{},
			LogExtraAttrs:      requestAttrs,
		},
	)
}

func requestAttrs(req *http.Request, _ string, _ int) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("request_id", chimw.GetReqID(req.Context())),
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
	}
	rc := chi.RouteContext(req.Context())
	if rc == nil {
		return attrs
	}
	if pattern := rc.RoutePattern(); pattern != "" {
		attrs = append(attrs, slog.String("route", pattern))
	}
	for _, key := range []string{"session_id", "campaign_id"} {
		if v := rc.URLParam(key); v != "" {
			attrs = append(attrs, slog.String(key, v))
		}
	}
	return attrs
}

// AuditBodies attaches request and response bodies of admin calls to the
// access log line, capped at maxBytes and with credentials blanked.
func AuditBodies(maxBytes int) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 4096
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isStreamingRequest(r) {
				next.ServeHTTP(w, r)
				return
			}
			reqBody, _ := io.ReadAll(io.LimitReader(r.Body, int64(maxBytes)+1))
			rest := r.Body
			r.Body = struct {
				io.Reader
				io.Closer
			}{io.MultiReader(bytes.NewReader(reqBody), rest), rest}

			cw := &captureWriter{ResponseWriter: w, maxBytes: maxBytes}
			next.ServeHTTP(cw, r)

			truncatedReq := len(reqBody) > maxBytes
			if truncatedReq {
				reqBody = reqBody[:maxBytes]
			}
			httplog.SetAttrs(r.Context(),
				slog.Any("request_body", auditValue(reqBody, truncatedReq)),
				slog.Any("response_body", auditValue(cw.body.Bytes(), cw.truncated)),
				slog.Bool("request_body_truncated", truncatedReq),
				slog.Bool("response_body_truncated", cw.truncated),
			)
		})
	}
}

type captureWriter struct {
	http.ResponseWriter
	body      bytes.Buffer
	maxBytes  int
	truncated bool
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if remain := c.maxBytes - c.body.Len(); remain >= len(p) {
		c.body.Write(p)
	} else {
		if remain > 0 {
			c.body.Write(p[:remain])
		}
		c.truncated = true
	}
	return c.ResponseWriter.Write(p)
}

func (c *captureWriter) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// auditValue decodes b as JSON when possible so the log keeps structure.
// Truncated bodies are logged as plain text.
func auditValue(b []byte, truncated bool) any {
	if len(b) == 0 {
		return ""
	}
	if truncated {
		return string(b)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return string(b)
	}
	return redact(out)
}

func redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if _, ok := redactedFields[strings.ToLower(k)]; ok {
				t[k] = "[redacted]"
				continue
			}
			t[k] = redact(inner)
		}
	case []any:
		for i := range t {
			t[i] = redact(t[i])
		}
	}
	return v
}

func isStreamingRequest(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return true
	}
	path := r.URL.Path
	return strings.HasPrefix(path, "/api/sessions/") && strings.HasSuffix(path, "/events")
}

func WriteHTTPError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"error": code})
}
