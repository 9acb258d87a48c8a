package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/readsync/internal/apperr"
	"github.com/MarcoPoloResearchLab/readsync/internal/keyspace"
	"github.com/MarcoPoloResearchLab/readsync/internal/kvstore"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("progress: store is required")
	noOpLogger      = zap.NewNop()
)

const (
	opServiceNew = "progress.service.new"
	opUpdate     = "progress.update"
	opGet        = "progress.get"

	reasonMissingStore = "missing_store"
	reasonWriteFailed  = "write_failed"
	reasonNotApplied   = "not_applied"
	reasonReadFailed   = "read_failed"
)

// ServiceConfig describes the dependencies required for progress storage.
type ServiceConfig struct {
	Store  kvstore.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service reads and replaces per-document progress records.
type Service struct {
	store  kvstore.Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the progress service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%s.%s: %w", opServiceNew, reasonMissingStore, errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:  cfg.Store,
		clock:  clock,
		logger: logger,
	}, nil
}

// Update validates draft, stamps it with the server time and replaces the stored record.
// Any timestamp supplied by the client is discarded.
func (s *Service) Update(ctx context.Context, username string, draft Record) (Record, error) {
	if err := draft.Validate(); err != nil {
		return Record{}, err
	}

	record := draft
	record.Timestamp = uint64(s.clock().Unix())

	applied, err := s.store.HashSet(ctx, keyspace.ProgressKey(username, record.Document), record.Fields())
	if err != nil {
		s.logError(opUpdate, reasonWriteFailed, err,
			zap.String("username", username),
			zap.String("document", record.Document))
		return Record{}, apperr.StoreFailure(opUpdate+"."+reasonWriteFailed, err)
	}
	if !applied {
		s.logError(opUpdate, reasonNotApplied, nil,
			zap.String("username", username),
			zap.String("document", record.Document))
		return Record{}, apperr.Unknown(opUpdate, "could not update progress")
	}

	return record, nil
}

// Get returns the stored record for document, or the zero record when none exists.
func (s *Service) Get(ctx context.Context, username, document string) (Record, error) {
	if !keyspace.IsValidKeyField(document) {
		return Record{}, apperr.InvalidField(FieldDocument)
	}

	fields, err := s.store.HashGetAll(ctx, keyspace.ProgressKey(username, document))
	if err != nil {
		s.logError(opGet, reasonReadFailed, err,
			zap.String("username", username),
			zap.String("document", document))
		return Record{}, apperr.StoreFailure(opGet+"."+reasonReadFailed, err)
	}
	if len(fields) == 0 {
		return ZeroRecord(), nil
	}
	return RecordFromFields(fields), nil
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
	s.logger.Error("progress service error", attrs...)
}
