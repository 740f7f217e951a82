package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talentwire/voicebridge/pkg/core"
	"github.com/talentwire/voicebridge/pkg/core/interview"
	"github.com/talentwire/voicebridge/pkg/gateway/auth"
	"github.com/talentwire/voicebridge/pkg/gateway/lifecycle"
	"github.com/talentwire/voicebridge/pkg/gateway/live/protocol"
	"github.com/talentwire/voicebridge/pkg/gateway/live/session"
	"github.com/talentwire/voicebridge/pkg/gateway/live/sessions"
	"github.com/talentwire/voicebridge/pkg/gateway/live/upstream"
	"github.com/talentwire/voicebridge/pkg/gateway/mw"
	"github.com/talentwire/voicebridge/pkg/gateway/ratelimit"
	"github.com/talentwire/voicebridge/pkg/store"
)

const (
	closeWriteWait     = time.Second
	terminateTimeout   = 10 * time.Second
	connectFailMessage = "interview service unavailable"
)

// UpstreamSession is the slice of the connection manager the attach handler
// drives. The indirection lets tests swap in a scripted provider.
type UpstreamSession interface {
	Connect(ctx context.Context) error
	Events() <-chan upstream.Event
	SendAudio(pcm []byte)
	SendText(text string) error
	Transcript() []interview.Turn
	Reconnects() int64
	Close()
}

type UpstreamFactory func(cfg upstream.Config) (UpstreamSession, error)

// AttachHandler serves GET /v1/interviews/live: the WebSocket attach point.
// The gate runs before any protocol frame is exchanged; every denial closes
// the socket with a reason distinguishing the failure.
type AttachHandler struct {
	Controller *Controller
	Gate       *auth.Gate
	Tracker    *sessions.Tracker
	Lifecycle  *lifecycle.Lifecycle
	Limiter    *ratelimit.Limiter
	Logger     *slog.Logger

	// Upstream is the per-session manager template; Kind and SeedContext
	// are filled in from the session row.
	Upstream upstream.Config

	Session         session.Config
	MaxMessageBytes int64

	// NewUpstream defaults to the real connection manager.
	NewUpstream UpstreamFactory
}

func (h AttachHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodGet {
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

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("session_id is required", "session_id"), http.StatusBadRequest)
		return
	}

	sess, err := h.Controller.Store.GetSession(r.Context(), sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			writeCoreErrorJSON(w, reqID, core.NewNotFoundError("session not found"), http.StatusNotFound)
			return
		}
		writeCoreErrorJSON(w, reqID, core.NewInternalError("loading session", err), http.StatusInternalServerError)
		return
	}

	cred := auth.Credential{
		ScopedToken: r.URL.Query().Get("token"),
		UserToken:   userCredential(r),
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	if h.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.MaxMessageBytes)
	}

	principal, err := h.Gate.Authorize(r.Context(), sess, cred)
	if err != nil {
		h.denied(conn, sess, err)
		return
	}

	if h.Limiter != nil && principal.UserID != "" {
		dec := h.Limiter.AcquireSession(principal.UserID, time.Now())
		if !dec.Allowed {
			h.denied(conn, sess, core.NewRateLimitError("too many active sessions"))
			return
		}
		defer dec.Permit.Release()
	}

	// The conditional transition is the single-attach guard: a second
	// socket racing for the same session loses here.
	if err := h.Controller.Store.TransitionStatus(r.Context(), sess.ID, interview.StatusPending, interview.StatusInProgress); err != nil {
		reason := "not_joinable"
		if err == store.ErrNotFound {
			reason = "session_not_found"
		}
		h.closeWith(conn, websocket.ClosePolicyViolation, reason)
		return
	}

	upCfg := h.Upstream
	upCfg.Kind = sess.Kind
	upCfg.SeedContext = sess.SeedContext
	upCfg.Logger = h.Logger

	mgr, err := h.newUpstream(upCfg)
	if err != nil {
		h.connectFailed(conn, sess, err)
		return
	}
	defer mgr.Close()

	if err := mgr.Connect(r.Context()); err != nil {
		h.connectFailed(conn, sess, err)
		return
	}

	if err := mgr.SendText(upstream.OpeningUtterance(sess.Kind)); err != nil && h.Logger != nil {
		h.Logger.Warn("opening utterance failed", "session_id", sess.ID, "error", err)
	}

	relay, err := session.New(session.Dependencies{
		Conn:      conn,
		Upstream:  mgr,
		Logger:    h.Logger,
		SessionID: sess.ID,
		Config:    h.Session,
	})
	if err != nil {
		h.connectFailed(conn, sess, err)
		return
	}

	unregister := h.Tracker.Register(sess.ID, sessions.Handle{
		Cancel: relay.Cancel,
		Warn:   relay.Warn,
	})
	defer unregister()

	if m := h.Controller.Metrics; m != nil {
		m.ActiveSessions.Inc()
		defer m.ActiveSessions.Dec()
	}
	started := time.Now()

	term := relay.Run(r.Context())

	// Close before reading the transcript so the teardown flush is included.
	mgr.Close()
	turns := mgr.Transcript()

	if m := h.Controller.Metrics; m != nil {
		m.SessionDuration.Observe(time.Since(started).Seconds())
		in, out := relay.FrameCounts()
		m.RelayedFrames.WithLabelValues("inbound").Add(float64(in))
		m.RelayedFrames.WithLabelValues("outbound").Add(float64(out))
		m.UpstreamReconnects.Add(float64(mgr.Reconnects()))
	}

	// The client context is gone after a disconnect; persistence gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()
	if err := h.Controller.OnTerminate(ctx, sess, turns, term); err != nil && h.Logger != nil {
		h.Logger.Error("terminate handling failed", "session_id", sess.ID, "error", err)
	}
}

func (h AttachHandler) newUpstream(cfg upstream.Config) (UpstreamSession, error) {
	if h.NewUpstream != nil {
		return h.NewUpstream(cfg)
	}
	return upstream.New(cfg)
}

// denied closes the socket with a reason identifying the denial. No protocol
// frames are written first.
func (h AttachHandler) denied(conn *websocket.Conn, sess *interview.Session, err error) {
	code, reason := closeReasonFor(err)
	if m := h.Controller.Metrics; m != nil {
		m.AttachDenials.WithLabelValues(reason).Inc()
	}
	if h.Logger != nil {
		h.Logger.Info("attach denied", "session_id", sess.ID, "reason", reason)
	}
	h.closeWith(conn, code, reason)
}

// connectFailed sends exactly one system envelope, then closes. The session
// stays in_progress for operator visibility; nothing is persisted.
func (h AttachHandler) connectFailed(conn *websocket.Conn, sess *interview.Session, err error) {
	if h.Logger != nil {
		h.Logger.Error("upstream connect failed", "session_id", sess.ID, "error", err)
	}
	if frame, encErr := protocol.EncodeControl(protocol.EnvelopeSystem, connectFailMessage); encErr == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(closeWriteWait))
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	h.closeWith(conn, websocket.CloseInternalServerErr, "upstream_unavailable")
}

func (h AttachHandler) closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(closeWriteWait))
	_ = conn.Close()
}

func userCredential(r *http.Request) string {
	if token, ok := auth.ParseBearer(r); ok {
		return token
	}
	return r.URL.Query().Get("access_token")
}
