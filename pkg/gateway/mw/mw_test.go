package mw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/talentwire/voicebridge/pkg/core"
	"github.com/talentwire/voicebridge/pkg/gateway/auth"
	"github.com/talentwire/voicebridge/pkg/gateway/ratelimit"
)

func testIssuer(t *testing.T) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer([]byte("scoped-secret"), []byte("user-secret"), 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return issuer
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/interviews", nil))
	if seen == "" {
		t.Fatal("request id missing from context")
	}
	if got := rr.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("header=%q ctx=%q", got, seen)
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/interviews", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	h.ServeHTTP(rr, req)
	if seen != "req_fixed" {
		t.Fatalf("inbound id not honored: %q", seen)
	}
}

func TestAuth_ValidBearerStashesPrincipal(t *testing.T) {
	issuer := testIssuer(t)
	token, err := issuer.MintUser(auth.Principal{UserID: "user_1", Email: "dana@example.com", Role: "member"}, time.Hour)
	if err != nil {
		t.Fatalf("MintUser: %v", err)
	}

	var got *auth.Principal
	h := Auth(issuer, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.PrincipalFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/interviews", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.UserID != "user_1" {
		t.Fatalf("principal = %+v", got)
	}
}

func TestAuth_InvalidBearerRejected(t *testing.T) {
	h := Auth(testIssuer(t), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next should not run")
	}))
	h = RequestID(h)

	req := httptest.NewRequest(http.MethodPost, "/v1/interviews", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var env struct {
		Error     core.Error `json:"error"`
		RequestID string     `json:"request_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != core.ErrAuth {
		t.Fatalf("type=%q", env.Error.Type)
	}
	if env.RequestID == "" {
		t.Fatal("expected request_id in error envelope")
	}
}

func TestAuth_MissingBearerPassesThrough(t *testing.T) {
	called := false
	h := Auth(testIssuer(t), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := auth.PrincipalFrom(r.Context()); ok {
			t.Fatal("unexpected principal")
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/interviews", nil))
	if !called {
		t.Fatal("next not called")
	}
}

func TestAuth_WebSocketUpgradeBypassesHeaderCheck(t *testing.T) {
	h := Auth(testIssuer(t), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/interviews/live", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Authorization", "Bearer garbage")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestRecover_PanicReturnsCanonicalJSON(t *testing.T) {
	h := Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	h = RequestID(h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/interviews", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var env struct {
		Error core.Error `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != core.ErrInternal {
		t.Fatalf("type=%q", env.Error.Type)
	}
}

func TestRateLimit_DeniedSetsRetryAfter(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RPS: 1, Burst: 1})
	h := RateLimit(limiter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	h = RequestID(h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/interviews", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("first status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/interviews", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second status=%d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRateLimit_HealthEndpointsExempt(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{RPS: 1, Burst: 1})
	h := RateLimit(limiter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 10; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("healthz attempt %d status=%d", i, rr.Code)
		}
	}
}
