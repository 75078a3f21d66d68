package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iac-sandbox/stackd/internal/domain"
)

// Store is an in-memory implementation of the storage interface for testing.
type Store struct {
	mu sync.RWMutex

	apiKeys     map[string]*domain.APIKey
	deployments map[string]*domain.DeploymentRecord
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		apiKeys:     make(map[string]*domain.APIKey),
		deployments: make(map[string]*domain.DeploymentRecord),
	}
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// ============================================
// API Keys
// ============================================

func (s *Store) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.apiKeys {
		if existing.KeyHash == key.KeyHash {
			return domain.ErrAlreadyExists
		}
	}
	clone := *key
	s.apiKeys[key.ID] = &clone
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			clone := *key
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]*domain.APIKey, 0, len(s.apiKeys))
	for _, key := range s.apiKeys {
		clone := *key
		keys = append(keys, &clone)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apiKeys[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.apiKeys[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	key.LastUsedAt = &now
	return nil
}

func (s *Store) CountAPIKeys(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apiKeys), nil
}

// ============================================
// Deployment history
// ============================================

func (s *Store) CreateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[record.ID]; ok {
		return domain.ErrAlreadyExists
	}
	clone := *record
	s.deployments[record.ID] = &clone
	return nil
}

func (s *Store) UpdateDeployment(ctx context.Context, record *domain.DeploymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deployments[record.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *record
	s.deployments[record.ID] = &clone
	return nil
}

func (s *Store) GetDeployment(ctx context.Context, id string) (*domain.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.deployments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (s *Store) ListDeploymentsForStack(ctx context.Context, stackName string, limit, offset int) ([]*domain.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []*domain.DeploymentRecord
	for _, record := range s.deployments {
		if record.StackName == stackName {
			clone := *record
			records = append(records, &clone)
		}
	}
	return paginate(records, limit, offset), nil
}

func (s *Store) ListDeployments(ctx context.Context, limit, offset int) ([]*domain.DeploymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*domain.DeploymentRecord, 0, len(s.deployments))
	for _, record := range s.deployments {
		clone := *record
		records = append(records, &clone)
	}
	return paginate(records, limit, offset), nil
}

func (s *Store) DeleteDeploymentsForStack(ctx context.Context, stackName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, record := range s.deployments {
		if record.StackName == stackName {
			delete(s.deployments, id)
		}
	}
	return nil
}

func paginate(records []*domain.DeploymentRecord, limit, offset int) []*domain.DeploymentRecord {
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(records) {
		return []*domain.DeploymentRecord{}
	}
	records = records[offset:]
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}
