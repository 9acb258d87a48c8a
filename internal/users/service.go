package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/readsync/internal/apperr"
	"github.com/MarcoPoloResearchLab/readsync/internal/keyspace"
	"github.com/MarcoPoloResearchLab/readsync/internal/kvstore"
	"go.uber.org/zap"
)

const (
	opCreateUser = "users.create_user"
	opExists     = "users.exists"
	opSecret     = "users.secret"

	fieldUsername = "username"
	fieldPassword = "password"

	reasonExistsFailed = "exists_failed"
	reasonSetFailed    = "set_failed"
	reasonNotApplied   = "not_applied"
	reasonGetFailed    = "get_failed"
)

var (
	// ErrMissingStore indicates that the service was built without a store.
	ErrMissingStore = errors.New("users: store is required")
	// ErrAccountNotFound indicates that no secret is stored for the username.
	ErrAccountNotFound = errors.New("users: account not found")
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Store  kvstore.Store
	Logger *zap.Logger
}

// Service creates accounts and reads their stored secrets.
type Service struct {
	store  kvstore.Store
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, ErrMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  cfg.Store,
		logger: logger,
	}, nil
}

// CreateUser registers username with password as its secret and returns the username.
// Concurrent creations for the same username produce exactly one success; the rest get UserExists.
func (s *Service) CreateUser(ctx context.Context, username, password string) (string, error) {
	if !keyspace.IsValidKeyField(username) {
		return "", apperr.InvalidField(fieldUsername)
	}
	if !keyspace.IsValidField(password) {
		return "", apperr.InvalidField(fieldPassword)
	}

	exists, err := s.Exists(ctx, username)
	if err != nil {
		return "", err
	}
	if exists {
		return "", apperr.UserExists(username)
	}

	accountKey := keyspace.AccountKey(username)
	created, err := s.store.SetIfAbsent(ctx, accountKey, password)
	if err != nil {
		s.logError(opCreateUser, reasonSetFailed, err, zap.String("username", username))
		return "", apperr.StoreFailure(code(opCreateUser, reasonSetFailed), err)
	}
	if !created {
		// Another request took the name between the existence check and the write.
		taken, err := s.Exists(ctx, username)
		if err != nil {
			return "", err
		}
		if taken {
			return "", apperr.UserExists(username)
		}
		s.logError(opCreateUser, reasonNotApplied, nil, zap.String("username", username))
		return "", apperr.Unknown(opCreateUser, "could not create user")
	}

	s.logger.Info("user created", zap.String("username", username))
	return username, nil
}

// Exists reports whether an account is registered for username.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	exists, err := s.store.Exists(ctx, keyspace.AccountKey(username))
	if err != nil {
		s.logError(opExists, reasonExistsFailed, err, zap.String("username", username))
		return false, apperr.StoreFailure(code(opExists, reasonExistsFailed), err)
	}
	return exists, nil
}

// Secret returns the stored secret for username, or ErrAccountNotFound.
func (s *Service) Secret(ctx context.Context, username string) (string, error) {
	secret, err := s.store.Get(ctx, keyspace.AccountKey(username))
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", apperr.StoreFailure(code(opSecret, reasonGetFailed), err)
	}
	return secret, nil
}

func code(operation, reason string) string {
	return fmt.Sprintf("%s.%s", operation, reason)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
}
