package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/talentwire/voicebridge/pkg/core/interview"
)

// Memory is an in-process Store for tests and local development. All values
// are deep-copied on the way in and out so callers never share session state.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*interview.Session
	profiles map[string]json.RawMessage
	analyses map[string]json.RawMessage
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*interview.Session),
		profiles: make(map[string]json.RawMessage),
		analyses: make(map[string]json.RawMessage),
		now:      time.Now,
	}
}

func (m *Memory) CreateSession(ctx context.Context, s *interview.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*interview.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

func (m *Memory) TransitionStatus(ctx context.Context, id string, from, to interview.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != from {
		return ErrConflict
	}
	s.Status = to
	if to.Terminal() {
		t := m.now()
		s.CompletedAt = &t
	}
	return nil
}

func (m *Memory) SaveTranscript(ctx context.Context, id string, turns []interview.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Transcript = append([]interview.Turn(nil), turns...)
	return nil
}

func (m *Memory) SaveAnalysis(ctx context.Context, id string, analysis json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	m.analyses[id] = append(json.RawMessage(nil), analysis...)
	return nil
}

// Analysis returns the stored analysis for a session, for test assertions.
func (m *Memory) Analysis(id string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[id]
	return a, ok
}

func (m *Memory) GetCultureProfile(ctx context.Context, companyID string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[companyID]
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), p...), nil
}

func (m *Memory) SaveCultureProfile(ctx context.Context, companyID string, profile json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[companyID] = append(json.RawMessage(nil), profile...)
	return nil
}

func copySession(s *interview.Session) *interview.Session {
	out := *s
	out.Transcript = append([]interview.Turn(nil), s.Transcript...)
	out.SeedContext = append(json.RawMessage(nil), s.SeedContext...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
