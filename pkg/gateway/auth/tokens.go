package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/talentwire/voicebridge/pkg/core"
)

// ScopeInterviewSession is the scope claim carried by session-bound tokens.
const ScopeInterviewSession = "interview_session"

type scopedClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

type userClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies the two HS256 credentials: scoped session
// tokens (its own secret, short TTL) and user bearer tokens (the platform's
// shared secret, verify only).
type TokenIssuer struct {
	scopedSecret []byte
	userSecret   []byte
	scopedTTL    time.Duration

	now func() time.Time
}

func NewTokenIssuer(scopedSecret, userSecret []byte, scopedTTL time.Duration) (*TokenIssuer, error) {
	if len(scopedSecret) == 0 {
		return nil, fmt.Errorf("scoped token secret is required")
	}
	if len(userSecret) == 0 {
		return nil, fmt.Errorf("user token secret is required")
	}
	if scopedTTL <= 0 {
		scopedTTL = 15 * time.Minute
	}
	return &TokenIssuer{
		scopedSecret: scopedSecret,
		userSecret:   userSecret,
		scopedTTL:    scopedTTL,
		now:          time.Now,
	}, nil
}

// MintScoped issues a token bound to exactly one session id.
func (t *TokenIssuer) MintScoped(sessionID string) (string, error) {
	now := t.now()
	claims := scopedClaims{
		Scope: ScopeInterviewSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.scopedTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.scopedSecret)
	if err != nil {
		return "", core.NewInternalError("sign scoped token", err)
	}
	return signed, nil
}

// VerifyScoped checks the token's signature, expiry, scope, and session
// binding. A token minted for session A never validates for session B.
func (t *TokenIssuer) VerifyScoped(token, sessionID string) error {
	claims := &scopedClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.scopedSecret, nil
	}); err != nil {
		return core.NewAuthError("invalid scoped token", "bad_token")
	}
	if claims.Scope != ScopeInterviewSession {
		return core.NewAuthError("token has wrong scope", "bad_token")
	}
	if claims.Subject != sessionID {
		return core.NewAuthError("token is bound to a different session", "session_mismatch")
	}
	return nil
}

// VerifyUser checks a platform user bearer token and returns the identity it
// carries. Directory lookup is the gate's concern, not this method's.
func (t *TokenIssuer) VerifyUser(token string) (*Principal, error) {
	claims := &userClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.userSecret, nil
	}); err != nil {
		return nil, core.NewAuthError("invalid user credential", "bad_token")
	}
	if claims.Subject == "" {
		return nil, core.NewAuthError("user credential has no subject", "bad_token")
	}
	return &Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.Name,
		Role:   claims.Role,
	}, nil
}

// MintUser signs a user bearer token. Production tokens come from the
// platform's auth service; this exists for the probe client and tests.
func (t *TokenIssuer) MintUser(p Principal, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := t.now()
	claims := userClaims{
		Email: p.Email,
		Name:  p.Name,
		Role:  p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.userSecret)
	if err != nil {
		return "", core.NewInternalError("sign user token", err)
	}
	return signed, nil
}
