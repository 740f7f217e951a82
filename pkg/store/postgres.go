package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talentwire/voicebridge/pkg/core/interview"
)

// Postgres is the production Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool; the caller keeps ownership.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) CreateSession(ctx context.Context, s *interview.Session) error {
	transcript, err := marshalTranscript(s.Transcript)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO interview_sessions
			(id, company_id, interviewer_name, interviewer_email, interviewer_role,
			 kind, status, transcript, seed_context, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.CompanyID, s.InterviewerName, s.InterviewerEmail, s.InterviewerRole,
		string(s.Kind), string(s.Status), transcript, nullableJSON(s.SeedContext), s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*interview.Session, error) {
	var (
		s          interview.Session
		companyID  *string
		transcript []byte
		seed       []byte
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, company_id, interviewer_name, interviewer_email, interviewer_role,
		       kind, status, transcript, seed_context, created_at, completed_at
		FROM interview_sessions WHERE id = $1`, id).Scan(
		&s.ID, &companyID, &s.InterviewerName, &s.InterviewerEmail, &s.InterviewerRole,
		&s.Kind, &s.Status, &transcript, &seed, &s.CreatedAt, &s.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	if companyID != nil {
		s.CompanyID = *companyID
	}
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &s.Transcript); err != nil {
			return nil, fmt.Errorf("decode transcript: %w", err)
		}
	}
	s.SeedContext = seed
	return &s, nil
}

func (p *Postgres) TransitionStatus(ctx context.Context, id string, from, to interview.Status) error {
	var tag string
	if to.Terminal() {
		tag = `UPDATE interview_sessions SET status = $3, completed_at = now()
		       WHERE id = $1 AND status = $2`
	} else {
		tag = `UPDATE interview_sessions SET status = $3
		       WHERE id = $1 AND status = $2`
	}
	res, err := p.pool.Exec(ctx, tag, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("transition status: %w", err)
	}
	if res.RowsAffected() == 0 {
		// Either the row is missing or the status already moved on.
		if _, getErr := p.GetSession(ctx, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (p *Postgres) SaveTranscript(ctx context.Context, id string, turns []interview.Turn) error {
	transcript, err := marshalTranscript(turns)
	if err != nil {
		return err
	}
	res, err := p.pool.Exec(ctx,
		`UPDATE interview_sessions SET transcript = $2 WHERE id = $1`, id, transcript)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SaveAnalysis(ctx context.Context, id string, analysis json.RawMessage) error {
	res, err := p.pool.Exec(ctx,
		`UPDATE interview_sessions SET analysis = $2 WHERE id = $1`, id, nullableJSON(analysis))
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetCultureProfile(ctx context.Context, companyID string) (json.RawMessage, error) {
	var profile []byte
	err := p.pool.QueryRow(ctx,
		`SELECT profile FROM culture_profiles WHERE company_id = $1`, companyID).Scan(&profile)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select culture profile: %w", err)
	}
	return profile, nil
}

func (p *Postgres) SaveCultureProfile(ctx context.Context, companyID string, profile json.RawMessage) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO culture_profiles (company_id, profile, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (company_id) DO UPDATE SET profile = EXCLUDED.profile, updated_at = now()`,
		companyID, []byte(profile))
	if err != nil {
		return fmt.Errorf("upsert culture profile: %w", err)
	}
	return nil
}

func marshalTranscript(turns []interview.Turn) ([]byte, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	out, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return out, nil
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
