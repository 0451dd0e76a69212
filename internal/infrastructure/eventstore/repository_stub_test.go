package eventstore_test

import (
	"context"
	"sync"

	domain "github.com/eaf/backend/internal/domain/eventstore"
)

// stubRepository is a domain.Repository whose behavior is set per test.
// Unset functions return empty results.
type stubRepository struct {
	mu    sync.Mutex
	calls []string

	appendGroupsErr error

	appendFn       func(events []domain.PersistedEvent, tenantID, aggregateID string, expected *int64) error
	getEventsFn    func(tenantID, aggregateID string, from int64) ([]domain.PersistedEvent, error)
	rangeFn        func(tenantID, aggregateID string, from, to int64) ([]domain.PersistedEvent, error)
	versionFn      func(tenantID, aggregateID string) (*int64, error)
	readFromFn     func(tenantID string, after int64, limit int) ([]domain.PersistedEvent, error)
	maxGlobalFn    func(tenantID string) (int64, error)
	saveSnapshotFn func(snapshot domain.AggregateSnapshot, tenantID, aggregateID string) error
	getSnapshotFn  func(tenantID, aggregateID string) (*domain.AggregateSnapshot, error)
}

func (s *stubRepository) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op)
}

func (s *stubRepository) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubRepository) AppendEvents(_ context.Context, events []domain.PersistedEvent, tenantID, aggregateID string, expected *int64) error {
	s.record("AppendEvents")
	if s.appendFn == nil {
		return nil
	}
	return s.appendFn(events, tenantID, aggregateID, expected)
}

// AppendEventGroups returns appendGroupsErr when set, otherwise hands each
// group to appendFn and stops at the first failure
func (s *stubRepository) AppendEventGroups(_ context.Context, tenantID string, groups []domain.AppendGroup) error {
	s.record("AppendEventGroups")
	if s.appendGroupsErr != nil {
		return s.appendGroupsErr
	}
	if s.appendFn == nil {
		return nil
	}
	for _, g := range groups {
		if err := s.appendFn(g.Events, tenantID, g.AggregateID, g.ExpectedVersion); err != nil {
			return &domain.AppendGroupError{AggregateID: g.AggregateID, Err: err}
		}
	}
	return nil
}

func (s *stubRepository) GetEvents(_ context.Context, tenantID, aggregateID string, from int64) ([]domain.PersistedEvent, error) {
	s.record("GetEvents")
	if s.getEventsFn == nil {
		return nil, nil
	}
	return s.getEventsFn(tenantID, aggregateID, from)
}

func (s *stubRepository) GetEventsInRange(_ context.Context, tenantID, aggregateID string, from, to int64) ([]domain.PersistedEvent, error) {
	s.record("GetEventsInRange")
	if s.rangeFn == nil {
		return nil, nil
	}
	return s.rangeFn(tenantID, aggregateID, from, to)
}

func (s *stubRepository) GetCurrentVersion(_ context.Context, tenantID, aggregateID string) (*int64, error) {
	s.record("GetCurrentVersion")
	if s.versionFn == nil {
		return nil, nil
	}
	return s.versionFn(tenantID, aggregateID)
}

func (s *stubRepository) ReadEventsFrom(_ context.Context, tenantID string, after int64, limit int) ([]domain.PersistedEvent, error) {
	s.record("ReadEventsFrom")
	if s.readFromFn == nil {
		return nil, nil
	}
	return s.readFromFn(tenantID, after, limit)
}

func (s *stubRepository) GetMaxGlobalSequence(_ context.Context, tenantID string) (int64, error) {
	s.record("GetMaxGlobalSequence")
	if s.maxGlobalFn == nil {
		return 0, nil
	}
	return s.maxGlobalFn(tenantID)
}

func (s *stubRepository) SaveSnapshot(_ context.Context, snapshot domain.AggregateSnapshot, tenantID, aggregateID string) error {
	s.record("SaveSnapshot")
	if s.saveSnapshotFn == nil {
		return nil
	}
	return s.saveSnapshotFn(snapshot, tenantID, aggregateID)
}

func (s *stubRepository) GetSnapshot(_ context.Context, tenantID, aggregateID string) (*domain.AggregateSnapshot, error) {
	s.record("GetSnapshot")
	if s.getSnapshotFn == nil {
		return nil, nil
	}
	return s.getSnapshotFn(tenantID, aggregateID)
}

var _ domain.Repository = (*stubRepository)(nil)
