package kvstore

import (
	"context"
	"sync"
)

// MemoryStore keeps strings and hashes in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	strings map[string]string
	hashes  map[string]map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.strings[key]; ok {
		return true, nil
	}
	_, ok := s.hashes[key]
	return ok, nil
}

func (s *MemoryStore) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.strings[key]; ok {
		return false, nil
	}
	if _, ok := s.hashes[key]; ok {
		return false, nil
	}
	s.strings[key] = value
	return true, nil
}

func (s *MemoryStore) HashSet(ctx context.Context, key string, fields map[string]string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(fields) == 0 {
		return false, ErrEmptyHash
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	hash, ok := s.hashes[key]
	if !ok {
		hash = make(map[string]string, len(fields))
		s.hashes[key] = hash
	}
	for field, value := range fields {
		hash[field] = value
	}
	return true, nil
}

func (s *MemoryStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash := s.hashes[key]
	copied := make(map[string]string, len(hash))
	for field, value := range hash {
		copied[field] = value
	}
	return copied, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}
