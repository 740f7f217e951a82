package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/talentwire/voicebridge/pkg/core"
	"github.com/talentwire/voicebridge/pkg/gateway/auth"
	"github.com/talentwire/voicebridge/pkg/gateway/lifecycle"
	"github.com/talentwire/voicebridge/pkg/gateway/mw"
)

const maxCreateBodyBytes = 64 << 10

// CreateHandler serves POST /v1/interviews. A verified user bearer is
// required; the principal is stashed by the auth middleware.
type CreateHandler struct {
	Controller *Controller
	Lifecycle  *lifecycle.Lifecycle
}

func (h CreateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodPost {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed",
		}, http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type: core.ErrRateLimit, Message: "gateway is draining", Code: "draining",
		}, http.StatusServiceUnavailable)
		return
	}
	if _, ok := auth.PrincipalFrom(r.Context()); !ok {
		writeCoreErrorJSON(w, reqID, core.NewAuthError("missing bearer token", "missing_credential"), http.StatusUnauthorized)
		return
	}

	var req CreateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid request body"), http.StatusBadRequest)
		return
	}

	result, err := h.Controller.CreateSession(r.Context(), req)
	if err != nil {
		ce := coreErrorFrom(err)
		writeCoreErrorJSON(w, reqID, ce, statusForType(ce.Type))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(result)
}
