package auth

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/MarcoPoloResearchLab/readsync/internal/apperr"
	"github.com/MarcoPoloResearchLab/readsync/internal/keyspace"
	"github.com/MarcoPoloResearchLab/readsync/internal/users"
	"go.uber.org/zap"
)

const (
	// HeaderUser carries the username on protected requests.
	HeaderUser = "x-auth-user"
	// HeaderKey carries the account secret on protected requests.
	HeaderKey = "x-auth-key"
)

var errMissingSecretSource = errors.New("authenticator: secret source required")

// SecretSource returns the secret stored for a username.
type SecretSource interface {
	Secret(ctx context.Context, username string) (string, error)
}

// Credentials holds the values supplied with a request; nil means the header was absent.
type Credentials struct {
	Username *string
	Secret   *string
}

// AuthenticatorConfig describes the dependencies of an Authenticator.
type AuthenticatorConfig struct {
	Secrets SecretSource
	Logger  *zap.Logger
}

// Authenticator checks per-request credentials against stored account secrets.
type Authenticator struct {
	secrets SecretSource
	logger  *zap.Logger
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(cfg AuthenticatorConfig) (*Authenticator, error) {
	if cfg.Secrets == nil {
		return nil, errMissingSecretSource
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{secrets: cfg.Secrets, logger: logger}, nil
}

// Authenticate returns the username when the credentials match the stored secret.
// Every failure, including malformed credentials and store errors, is Unauthorized.
func (a *Authenticator) Authenticate(ctx context.Context, credentials Credentials) (string, error) {
	if credentials.Username == nil || credentials.Secret == nil {
		return "", apperr.Unauthorized()
	}
	username := *credentials.Username
	secret := *credentials.Secret
	if !keyspace.IsValidKeyField(username) || !keyspace.IsValidField(secret) {
		return "", apperr.Unauthorized()
	}

	stored, err := a.secrets.Secret(ctx, username)
	if err != nil {
		if !errors.Is(err, users.ErrAccountNotFound) {
			a.logger.Warn("credential lookup failed", zap.String("username", username), zap.Error(err))
		}
		return "", apperr.Unauthorized()
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) != 1 {
		return "", apperr.Unauthorized()
	}
	return username, nil
}
