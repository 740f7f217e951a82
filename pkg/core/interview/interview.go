// Package interview holds the domain types shared by the gateway, the store,
// and the analysis worker: session kinds, statuses, and transcript turns.
package interview

import (
	"encoding/json"
	"time"
)

// Kind selects the behavioral script, the creation preconditions, and the
// transcript role labels for a session.
type Kind string

const (
	KindBaselineCulture     Kind = "baseline-culture"
	KindCandidateAssessment Kind = "candidate-assessment"
	KindScreening           Kind = "screening"
	KindCoachingPractice    Kind = "coaching-practice"
	KindLanguagePractice    Kind = "language-practice"
)

// Kinds lists every valid session kind.
func Kinds() []Kind {
	return []Kind{
		KindBaselineCulture,
		KindCandidateAssessment,
		KindScreening,
		KindCoachingPractice,
		KindLanguagePractice,
	}
}

// Valid reports whether k is a known session kind.
func (k Kind) Valid() bool {
	switch k {
	case KindBaselineCulture, KindCandidateAssessment, KindScreening,
		KindCoachingPractice, KindLanguagePractice:
		return true
	}
	return false
}

// PrivatePractice reports whether attaching to a session of this kind with a
// user credential requires the caller to own the session.
func (k Kind) PrivatePractice() bool {
	return k == KindCoachingPractice || k == KindLanguagePractice
}

// RequiresCultureProfile reports whether creating a session of this kind
// needs a previously aggregated culture profile for the company.
func (k Kind) RequiresCultureProfile() bool {
	return k == KindCandidateAssessment
}

// RoleLabels returns the display labels used when rendering a transcript of
// this kind. The mapping is presentation only.
func (k Kind) RoleLabels() (user, assistant string) {
	switch k {
	case KindCoachingPractice, KindLanguagePractice:
		return "Learner", "Coach"
	case KindBaselineCulture:
		return "Employee", "Interviewer"
	default:
		return "Candidate", "Interviewer"
	}
}

// Status is the lifecycle state of a session.
//
// pending -> in_progress -> { cancelled | analyzing -> completed }
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCancelled  Status = "cancelled"
	StatusAnalyzing  Status = "analyzing"
	StatusCompleted  Status = "completed"
)

// Terminal reports whether no further transition can leave this status.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Role tags the speaker of a transcript turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one uninterrupted utterance by either party, bounded by the
// provider's turn-complete signal.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Session is one voice interview session. It is owned by the lifecycle
// controller and mutated only through the store.
type Session struct {
	ID               string          `json:"id"`
	CompanyID        string          `json:"company_id,omitempty"`
	InterviewerName  string          `json:"interviewer_name"`
	InterviewerEmail string          `json:"interviewer_email,omitempty"`
	InterviewerRole  string          `json:"interviewer_role,omitempty"`
	Kind             Kind            `json:"kind"`
	Status           Status          `json:"status"`
	Transcript       []Turn          `json:"transcript,omitempty"`
	SeedContext      json.RawMessage `json:"seed_context,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}
