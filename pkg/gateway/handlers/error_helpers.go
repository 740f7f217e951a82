package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/talentwire/voicebridge/pkg/core"
)

type errorEnvelope struct {
	Error     *core.Error `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

func coreErrorFrom(err error) *core.Error {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce
	}
	return core.NewInternalError("internal error", err)
}

func statusForType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuth:
		return http.StatusUnauthorized
	case core.ErrPrecondition:
		return http.StatusConflict
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeCoreErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: coreErr, RequestID: reqID})
}

// closeReasonFor maps a typed error to the WebSocket close code and the
// short reason carried in the close frame. Auth denials expose their Code so
// callers can distinguish a bad token from an ownership mismatch.
func closeReasonFor(err error) (int, string) {
	ce := coreErrorFrom(err)
	switch ce.Type {
	case core.ErrAuth:
		reason := "unauthorized"
		if ce.Code != "" {
			reason = ce.Code
		}
		return websocket.ClosePolicyViolation, reason
	case core.ErrNotFound:
		return websocket.ClosePolicyViolation, "session_not_found"
	case core.ErrRateLimit:
		return websocket.CloseTryAgainLater, "rate_limited"
	case core.ErrInvalidRequest:
		return websocket.ClosePolicyViolation, "bad_request"
	case core.ErrUpstream:
		return websocket.CloseInternalServerErr, "upstream_unavailable"
	default:
		return websocket.CloseInternalServerErr, "internal_error"
	}
}
