package auth

import (
	"context"
	"strings"

	"github.com/workos/workos-go/v6/pkg/usermanagement"
)

// DirectoryUser is the directory's view of a platform user.
type DirectoryUser struct {
	ID     string
	Email  string
	Name   string
	Active bool
}

// Directory resolves a user id against the platform's user store. The gate
// uses it to confirm a user credential still belongs to a live account.
type Directory interface {
	GetUser(ctx context.Context, id string) (DirectoryUser, error)
}

// WorkOSDirectory looks users up in WorkOS user management.
type WorkOSDirectory struct {
	client *usermanagement.Client
}

func NewWorkOSDirectory(apiKey string) *WorkOSDirectory {
	return &WorkOSDirectory{client: usermanagement.NewClient(apiKey)}
}

func (d *WorkOSDirectory) GetUser(ctx context.Context, id string) (DirectoryUser, error) {
	u, err := d.client.GetUser(ctx, usermanagement.GetUserOpts{User: id})
	if err != nil {
		return DirectoryUser{}, err
	}
	return DirectoryUser{
		ID:     u.ID,
		Email:  u.Email,
		Name:   strings.TrimSpace(u.FirstName + " " + u.LastName),
		Active: u.EmailVerified,
	}, nil
}

// StaticDirectory serves a fixed user set; tests and keyless dev use it.
type StaticDirectory map[string]DirectoryUser

func (d StaticDirectory) GetUser(ctx context.Context, id string) (DirectoryUser, error) {
	u, ok := d[id]
	if !ok {
		return DirectoryUser{}, ErrUserNotFound
	}
	return u, nil
}

// ClaimsDirectory accepts every verified credential as-is. It backs the
// configuration where no WorkOS key is present and the JWT claims are the
// only identity source.
type ClaimsDirectory struct{}

func (ClaimsDirectory) GetUser(ctx context.Context, id string) (DirectoryUser, error) {
	return DirectoryUser{ID: id, Active: true}, nil
}
