// Package store persists interview sessions and company culture profiles.
// The gateway and the analysis worker share the same interface; Postgres
// backs production and an in-memory implementation backs tests.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/talentwire/voicebridge/pkg/core/interview"
)

var (
	// ErrNotFound is returned when no row exists for the given id.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned by TransitionStatus when the session is not in
	// the expected current status. Callers rely on this for idempotent
	// termination handling.
	ErrConflict = errors.New("store: status conflict")
)

// SessionStore is the persistence surface the session bridge needs. Status
// moves only through TransitionStatus so a lost race (duplicate terminate,
// concurrent attach) surfaces as ErrConflict instead of a silent overwrite.
type SessionStore interface {
	CreateSession(ctx context.Context, s *interview.Session) error
	GetSession(ctx context.Context, id string) (*interview.Session, error)

	// TransitionStatus moves a session from one status to another. Moving
	// into a terminal status stamps completed_at.
	TransitionStatus(ctx context.Context, id string, from, to interview.Status) error

	SaveTranscript(ctx context.Context, id string, turns []interview.Turn) error

	// SaveAnalysis records the worker's output. A nil analysis is valid and
	// means the session completed without a usable result.
	SaveAnalysis(ctx context.Context, id string, analysis json.RawMessage) error
}

// ProfileStore reads and writes the aggregated culture profile that seeds
// candidate-assessment sessions.
type ProfileStore interface {
	GetCultureProfile(ctx context.Context, companyID string) (json.RawMessage, error)
	SaveCultureProfile(ctx context.Context, companyID string, profile json.RawMessage) error
}

// Store is the combined persistence collaborator.
type Store interface {
	SessionStore
	ProfileStore
}
