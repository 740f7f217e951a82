package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/talentwire/voicebridge/pkg/core"
	"github.com/talentwire/voicebridge/pkg/core/interview"
)

// ErrUserNotFound is returned by directories when no user exists for an id.
var ErrUserNotFound = errors.New("auth: user not found")

// Credential carries whatever the socket caller presented. Exactly the
// scoped-token path or the user path is taken, in that order.
type Credential struct {
	ScopedToken string
	UserToken   string
}

// Gate authorizes a caller against one session before any protocol frames
// are exchanged.
type Gate struct {
	Tokens    *TokenIssuer
	Directory Directory
	Logger    *slog.Logger
}

// Authorize validates the credential for the given session. Every denial is
// an auth_error whose Code distinguishes the reason for the close frame.
func (g *Gate) Authorize(ctx context.Context, session *interview.Session, cred Credential) (*Principal, error) {
	if token := strings.TrimSpace(cred.ScopedToken); token != "" {
		if err := g.Tokens.VerifyScoped(token, session.ID); err != nil {
			return nil, err
		}
		// A valid scoped token grants attach with no further checks; the
		// caller need not be a platform user.
		return &Principal{SessionID: session.ID}, nil
	}

	token := strings.TrimSpace(cred.UserToken)
	if token == "" {
		return nil, core.NewAuthError("no credential presented", "missing_credential")
	}

	claimed, err := g.Tokens.VerifyUser(token)
	if err != nil {
		return nil, err
	}

	user, err := g.Directory.GetUser(ctx, claimed.UserID)
	if err != nil {
		if g.Logger != nil && !errors.Is(err, ErrUserNotFound) {
			g.Logger.Warn("directory lookup failed", "user_id", claimed.UserID, "error", err)
		}
		return nil, core.NewAuthError("user not found", "user_not_found")
	}
	if !user.Active {
		return nil, core.NewAuthError("user is inactive", "user_inactive")
	}

	p := &Principal{
		UserID: user.ID,
		Email:  firstNonEmpty(user.Email, claimed.Email),
		Name:   firstNonEmpty(user.Name, claimed.Name),
		Role:   claimed.Role,
	}

	if session.Kind.PrivatePractice() && !p.Elevated() && !ownsSession(p, session) {
		return nil, core.NewAuthError("session belongs to another user", "ownership")
	}
	return p, nil
}

// ownsSession matches the caller against the session's recorded interviewer
// identity: email case-insensitively, or the full display name.
func ownsSession(p *Principal, session *interview.Session) bool {
	if p.Email != "" && strings.EqualFold(p.Email, session.InterviewerEmail) {
		return true
	}
	return p.Name != "" && p.Name == session.InterviewerName
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
