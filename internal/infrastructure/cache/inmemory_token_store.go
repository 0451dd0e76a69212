package cache

import (
	"context"
	"strings"
	"sync"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/domain/shared"
)

type tokenKey struct {
	processor string
	tenant    string
}

// InMemoryTokenStore implements TokenStore using an in-memory map.
// This is suitable for single-instance deployments and testing.
type InMemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[tokenKey]domain.GlobalSequenceTrackingToken
}

// NewInMemoryTokenStore creates a new in-memory token store
func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{tokens: make(map[tokenKey]domain.GlobalSequenceTrackingToken)}
}

// Load returns the stored token, or the initial token when none was stored
func (s *InMemoryTokenStore) Load(ctx context.Context, processorName, tenantID string) (domain.GlobalSequenceTrackingToken, bool, error) {
	if strings.TrimSpace(tenantID) == "" {
		return domain.InitialToken(), false, errTenantRequired("LoadToken")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[tokenKey{processorName, tenantID}]
	if !ok {
		return domain.InitialToken(), false, nil
	}
	return token, true, nil
}

// Save stores the token
func (s *InMemoryTokenStore) Save(ctx context.Context, processorName, tenantID string, token domain.GlobalSequenceTrackingToken) error {
	if strings.TrimSpace(tenantID) == "" {
		return errTenantRequired("SaveToken")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenKey{processorName, tenantID}] = token
	return nil
}

// Size returns the number of stored tokens (for testing/monitoring)
func (s *InMemoryTokenStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func errTenantRequired(op string) error {
	return domain.NewRepositoryError(domain.KindTenantContextMissing, op, shared.ErrTenantRequired)
}

// Ensure InMemoryTokenStore implements TokenStore
var _ domain.TokenStore = (*InMemoryTokenStore)(nil)
