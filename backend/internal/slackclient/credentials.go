package slackclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/picrelay/picrelay/shared/domain"
	internal_errors "github.com/picrelay/picrelay/shared/errors"
	"github.com/picrelay/picrelay/shared/paramstore"
)

// CredentialProvider resolves the Slack token to act with on behalf of a user.
type CredentialProvider interface {
	Token(ctx context.Context, userID domain.UserId) (string, error)
}

// DevCredentials uses one token for every caller.
type DevCredentials struct {
	store paramstore.Store
	name  string
}

func NewDevCredentials(store paramstore.Store, prefix string) *DevCredentials {
	return &DevCredentials{store: store, name: DevTokenName(prefix)}
}

func (c *DevCredentials) Token(ctx context.Context, _ domain.UserId) (string, error) {
	return lookup(ctx, c.store, c.name)
}

// UserCredentials looks up the token stored for each user at sign-in.
type UserCredentials struct {
	store  paramstore.Store
	prefix string
}

func NewUserCredentials(store paramstore.Store, prefix string) *UserCredentials {
	return &UserCredentials{store: store, prefix: prefix}
}

func (c *UserCredentials) Token(ctx context.Context, userID domain.UserId) (string, error) {
	if userID == "" {
		return "", internal_errors.NewValidation("user id is required")
	}
	return lookup(ctx, c.store, UserTokenName(c.prefix, userID))
}

func DevTokenName(prefix string) string {
	return paramstore.Join(prefix, "slack", "token")
}

func UserTokenName(prefix string, userID domain.UserId) string {
	return paramstore.Join(prefix, "users", userID, "token")
}

// NewCredentialProvider picks the implementation for the configured mode.
func NewCredentialProvider(mode string, store paramstore.Store, prefix string) (CredentialProvider, error) {
	switch mode {
	case "dev":
		return NewDevCredentials(store, prefix), nil
	case "user":
		return NewUserCredentials(store, prefix), nil
	default:
		return nil, fmt.Errorf("unknown credential mode %q", mode)
	}
}

func lookup(ctx context.Context, store paramstore.Store, name string) (string, error) {
	token, err := store.GetValue(ctx, name)
	if errors.Is(err, paramstore.ErrNotFound) || (err == nil && token == "") {
		return "", &internal_errors.ErrorWithStatusCode{Message: "No chat credential for this user", StatusCode: http.StatusUnauthorized}
	}
	if err != nil {
		return "", fmt.Errorf("credential lookup %s: %w", name, err)
	}
	return token, nil
}
