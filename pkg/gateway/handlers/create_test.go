package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/talentwire/voicebridge/pkg/core"
	"github.com/talentwire/voicebridge/pkg/gateway/auth"
	"github.com/talentwire/voicebridge/pkg/gateway/lifecycle"
)

func newCreateHandler(t *testing.T) (CreateHandler, *Controller) {
	t.Helper()
	ctrl, _, _ := newTestController(t)
	return CreateHandler{Controller: ctrl, Lifecycle: &lifecycle.Lifecycle{}}, ctrl
}

func authedRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	p := &auth.Principal{UserID: "user_1", Email: "dana@example.com", Role: "member"}
	return req.WithContext(auth.WithPrincipal(req.Context(), p))
}

func decodeErrorBody(t *testing.T, rr *httptest.ResponseRecorder) core.Error {
	t.Helper()
	var env struct {
		Error core.Error `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal error body %q: %v", rr.Body.String(), err)
	}
	return env.Error
}

func TestCreateHandler_RequiresPrincipal(t *testing.T) {
	h, _ := newCreateHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/interviews", strings.NewReader(`{"kind":"screening"}`)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestCreateHandler_Created(t *testing.T) {
	h, _ := newCreateHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/interviews",
		`{"kind":"screening","interviewer_name":"Dana Okafor"}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	var result CreateResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.SessionID == "" || result.ScopedToken == "" || result.SocketURL == "" {
		t.Fatalf("result = %+v", result)
	}
}

func TestCreateHandler_InvalidKindIs400(t *testing.T) {
	h, _ := newCreateHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/interviews",
		`{"kind":"karaoke","interviewer_name":"Dana"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ce := decodeErrorBody(t, rr); ce.Type != core.ErrInvalidRequest {
		t.Fatalf("type=%q", ce.Type)
	}
}

func TestCreateHandler_MissingProfileIs409(t *testing.T) {
	h, _ := newCreateHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/interviews",
		`{"kind":"candidate-assessment","company_id":"acme","interviewer_name":"Dana"}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ce := decodeErrorBody(t, rr); ce.Type != core.ErrPrecondition {
		t.Fatalf("type=%q", ce.Type)
	}
}

func TestCreateHandler_MalformedBodyIs400(t *testing.T) {
	h, _ := newCreateHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/interviews", `{"kind":`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestCreateHandler_MethodNotAllowed(t *testing.T) {
	h, _ := newCreateHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authedRequest(http.MethodGet, "/v1/interviews", ""))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestCreateHandler_DrainingIs503(t *testing.T) {
	h, _ := newCreateHandler(t)
	h.Lifecycle.SetDraining(true)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authedRequest(http.MethodPost, "/v1/interviews",
		`{"kind":"screening","interviewer_name":"Dana"}`))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}
