package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talentwire/voicebridge/pkg/core"
	"github.com/talentwire/voicebridge/pkg/core/interview"
	"github.com/talentwire/voicebridge/pkg/gateway/auth"
	"github.com/talentwire/voicebridge/pkg/gateway/live/session"
	"github.com/talentwire/voicebridge/pkg/gateway/metrics"
	"github.com/talentwire/voicebridge/pkg/jobs"
	"github.com/talentwire/voicebridge/pkg/store"
)

// Controller owns the session lifecycle: creation with preconditions, and
// the single terminate decision after a relay run. It is shared by the
// create and attach handlers.
type Controller struct {
	Store   store.Store
	Jobs    jobs.Sink
	Tokens  *auth.TokenIssuer
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	PublicBaseURL          string
	MaxDurationHintSeconds int

	Now func() time.Time
}

type CreateRequest struct {
	Kind             interview.Kind  `json:"kind"`
	CompanyID        string          `json:"company_id,omitempty"`
	InterviewerName  string          `json:"interviewer_name"`
	InterviewerEmail string          `json:"interviewer_email,omitempty"`
	InterviewerRole  string          `json:"interviewer_role,omitempty"`
	SeedContext      json.RawMessage `json:"seed_context,omitempty"`
}

type CreateResult struct {
	SessionID              string `json:"session_id"`
	SocketURL              string `json:"socket_url"`
	ScopedToken            string `json:"scoped_token"`
	MaxDurationHintSeconds int    `json:"max_duration_hint_seconds"`
}

// CreateSession validates the request, persists a pending session, and mints
// the scoped attach token. Candidate assessments require an aggregated
// culture profile for the company; without one no row is written.
func (c *Controller) CreateSession(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if !req.Kind.Valid() {
		return CreateResult{}, core.NewInvalidRequestErrorWithParam("unknown session kind", "kind")
	}
	if strings.TrimSpace(req.InterviewerName) == "" {
		return CreateResult{}, core.NewInvalidRequestErrorWithParam("interviewer_name is required", "interviewer_name")
	}

	seed := req.SeedContext
	if req.Kind.RequiresCultureProfile() {
		if strings.TrimSpace(req.CompanyID) == "" {
			return CreateResult{}, core.NewInvalidRequestErrorWithParam("company_id is required for this kind", "company_id")
		}
		profile, err := c.Store.GetCultureProfile(ctx, req.CompanyID)
		if errors.Is(err, store.ErrNotFound) {
			return CreateResult{}, core.NewPreconditionError("no culture profile exists for this company yet")
		}
		if err != nil {
			return CreateResult{}, core.NewInternalError("loading culture profile", err)
		}
		if len(seed) == 0 {
			seed = profile
		}
	}

	now := c.now()
	sess := &interview.Session{
		ID:               uuid.NewString(),
		CompanyID:        strings.TrimSpace(req.CompanyID),
		InterviewerName:  strings.TrimSpace(req.InterviewerName),
		InterviewerEmail: strings.TrimSpace(req.InterviewerEmail),
		InterviewerRole:  strings.TrimSpace(req.InterviewerRole),
		Kind:             req.Kind,
		Status:           interview.StatusPending,
		SeedContext:      seed,
		CreatedAt:        now,
	}
	if err := c.Store.CreateSession(ctx, sess); err != nil {
		return CreateResult{}, core.NewInternalError("persisting session", err)
	}

	token, err := c.Tokens.MintScoped(sess.ID)
	if err != nil {
		return CreateResult{}, core.NewInternalError("minting scoped token", err)
	}

	if c.Metrics != nil {
		c.Metrics.SessionsCreated.WithLabelValues(string(sess.Kind)).Inc()
	}
	if c.Logger != nil {
		c.Logger.Info("session created", "session_id", sess.ID, "kind", sess.Kind)
	}

	return CreateResult{
		SessionID:              sess.ID,
		SocketURL:              c.socketURL(sess.ID),
		ScopedToken:            token,
		MaxDurationHintSeconds: c.MaxDurationHintSeconds,
	}, nil
}

func (c *Controller) socketURL(sessionID string) string {
	return fmt.Sprintf("%s/v1/interviews/live?session_id=%s",
		strings.TrimRight(c.PublicBaseURL, "/"), sessionID)
}

// OnTerminate runs exactly once after the relay returns. The conditional
// status transition is the idempotence guard: a lost race surfaces as
// ErrConflict and the branch backs off without a second write or job.
func (c *Controller) OnTerminate(ctx context.Context, sess *interview.Session, turns []interview.Turn, term session.Termination) error {
	if c.Metrics != nil {
		c.Metrics.SessionsTerminated.WithLabelValues(string(sess.Kind), string(term.Reason)).Inc()
		for _, turn := range turns {
			c.Metrics.AssembledTurns.WithLabelValues(string(turn.Role)).Inc()
		}
	}
	if c.Logger != nil {
		c.Logger.Info("session terminated",
			"session_id", sess.ID,
			"reason", term.Reason,
			"turns", len(turns),
			"error", term.Err,
		)
	}

	if !term.Reason.NormalEnd() {
		// Explicit cancel: the speaker asked for the content to be
		// discarded from analysis, but the turns themselves are kept.
		if len(turns) > 0 {
			if err := c.Store.SaveTranscript(ctx, sess.ID, turns); err != nil {
				return fmt.Errorf("saving transcript: %w", err)
			}
		}
		err := c.Store.TransitionStatus(ctx, sess.ID, interview.StatusInProgress, interview.StatusCancelled)
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return err
	}

	if len(turns) == 0 {
		err := c.Store.TransitionStatus(ctx, sess.ID, interview.StatusInProgress, interview.StatusCompleted)
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return err
	}

	if err := c.Store.SaveTranscript(ctx, sess.ID, turns); err != nil {
		return fmt.Errorf("saving transcript: %w", err)
	}
	err := c.Store.TransitionStatus(ctx, sess.ID, interview.StatusInProgress, interview.StatusAnalyzing)
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	job := jobs.AnalysisJob{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		Kind:        sess.Kind,
		Transcript:  turns,
		SeedContext: sess.SeedContext,
	}
	if err := c.Jobs.Enqueue(ctx, job); err != nil {
		// The session stays analyzing; operators can replay from the log.
		if c.Logger != nil {
			c.Logger.Error("enqueue analysis job failed", "session_id", sess.ID, "error", err)
		}
		return fmt.Errorf("enqueueing analysis job: %w", err)
	}
	if c.Metrics != nil {
		c.Metrics.JobsEnqueued.Inc()
	}
	return nil
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}
