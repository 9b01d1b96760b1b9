package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	commonerrors "github.com/AlibekovAA/crm-realtime/internal/common/errors"
	"github.com/AlibekovAA/crm-realtime/internal/common/logger"
	"github.com/AlibekovAA/crm-realtime/internal/observability/metrics"
)

func testLogger() *logger.Logger {
	return logger.NewWithWriter(io.Discard, "test", "ERROR")
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ErrorEnvelope {
	t.Helper()
	var env ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestRateLimiter_AllowPerKey(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("expected burst to be allowed")
	}
	if rl.Allow("a") {
		t.Error("expected third request to be limited")
	}
	if !rl.Allow("b") {
		t.Error("expected other key to have its own bucket")
	}
}

func TestRateLimiter_ZeroRateDisables(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 10; i++ {
		if !rl.Allow("a") {
			t.Fatalf("request %d limited with rate disabled", i)
		}
	}
	if rl.size() != 0 {
		t.Errorf("expected no limiters tracked, got %d", rl.size())
	}
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(1, 5)
	rl.getLimiter("idle")
	rl.Allow("busy")

	rl.evictIdle()

	if rl.size() != 1 {
		t.Errorf("expected only the busy limiter to remain, got %d", rl.size())
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	handler := rl.Middleware("publish")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/realtime/publish", nil)
	req.RemoteAddr = "10.0.0.1:5000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Code != CodeRateLimited {
		t.Errorf("expected code %s, got %s", CodeRateLimited, env.Code)
	}
}

func blockedCount(t *testing.T, path, limiterType string) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.RateLimitBlocked.WithLabelValues(path, limiterType).Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRateLimiter_MiddlewareLabelsNormalizedPath(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	handler := rl.Middleware("send")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	const label = "/api/realtime/connections/{id}/send"
	before := blockedCount(t, label, "send")

	paths := []string{
		"/api/realtime/connections/first-id/send",
		"/api/realtime/connections/second-id/send",
		"/api/realtime/connections/third-id/send",
	}
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "10.0.0.2:5000"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := blockedCount(t, label, "send") - before; got != 2 {
		t.Errorf("expected 2 blocked requests under %s, got %v", label, got)
	}
	if got := blockedCount(t, paths[1], "send"); got != 0 {
		t.Errorf("expected no series for the raw path, got %v", got)
	}
}

func TestErrorHandler_DomainError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/realtime/publish", nil)

	HandleError(rec, req, commonerrors.ErrInvalidAPIKey, testLogger())

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Code != "INVALID_API_KEY" || env.Message != "invalid api key" {
		t.Errorf("unexpected envelope %+v", env)
	}
}

func TestErrorHandler_UnhandledError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/realtime/stats", nil)

	HandleError(rec, req, errors.New("boom"), testLogger())

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Code != commonerrors.ErrInternalError.Code() {
		t.Errorf("expected internal error code, got %s", env.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestTraceIDMiddleware(t *testing.T) {
	var seen string
	handler := TraceIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = getTraceIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("expected trace id in request context")
	}
}

type sample struct {
	Channel string `validate:"required,max=5"`
	Event   string `validate:"max=3"`
}

func TestValidateStruct(t *testing.T) {
	if err := ValidateStruct(sample{Channel: "leads"}); err != nil {
		t.Fatalf("expected valid struct, got %v", err)
	}

	err := ValidateStruct(sample{Event: "UPDATE"})
	if !errors.Is(err, commonerrors.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	de, _ := commonerrors.AsDomainError(err)
	msg := de.Message()
	if !strings.Contains(msg, "channel is required") || !strings.Contains(msg, "event must be at most 3 characters") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestValidateUUID(t *testing.T) {
	if err := ValidateUUID("3f2b8c1e-9d4a-4e7b-8a6c-1b2d3e4f5a6b"); err != nil {
		t.Errorf("expected valid uuid, got %v", err)
	}
	if err := ValidateUUID(""); !errors.Is(err, commonerrors.ErrEmptyUUID) {
		t.Errorf("expected ErrEmptyUUID, got %v", err)
	}
	if err := ValidateUUID("not-a-uuid"); !errors.Is(err, commonerrors.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.10:4000"
	if got := GetClientIP(req); got != "192.168.1.10" {
		t.Errorf("expected remote host, got %s", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := GetClientIP(req); got != "203.0.113.5" {
		t.Errorf("expected first forwarded address, got %s", got)
	}
}

func TestDecodeJSON_RejectsTrailingData(t *testing.T) {
	var v struct {
		Channel string `json:"channel"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"channel":"a"}{"channel":"b"}`))
	if err := DecodeJSON(req, &v); err == nil {
		t.Fatal("expected trailing data to be rejected")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"channel":"a","extra":1}`))
	if err := DecodeJSON(req, &v); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestWriteDecodeError_TooLarge(t *testing.T) {
	handler := MaxRequestSizeMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if err := DecodeJSON(r, &v); err != nil {
			WriteDecodeError(w, r, err)
		}
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"channel":"leads"}`))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Code != CodeRequestTooLarge {
		t.Errorf("expected code %s, got %s", CodeRequestTooLarge, env.Code)
	}
}

func TestRequireMethod(t *testing.T) {
	handler := RequireMethod(http.MethodPost)(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != http.MethodPost {
		t.Errorf("expected Allow %s, got %q", http.MethodPost, got)
	}
}
