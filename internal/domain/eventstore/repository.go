package eventstore

import "context"

// Repository is the persistence gateway of the event store.
// Every operation is scoped to the tenant passed explicitly; no operation
// reads or writes rows of another tenant.
//
// Failures are returned as *RepositoryError (or *OptimisticLockingFailure for
// version mismatches) so that callers can map the classified kind without
// inspecting driver errors.
type Repository interface {
	// AppendEvents inserts events atomically after verifying that the current
	// version of the aggregate equals expectedVersion (nil for a new aggregate).
	// Sequence numbers are assigned from expectedVersion+1, or 0.
	AppendEvents(ctx context.Context, events []PersistedEvent, tenantID, aggregateID string, expectedVersion *int64) error

	// AppendEventGroups appends the groups of one tenant in a single
	// transaction, checking each group like AppendEvents. When any group
	// fails nothing is stored and the error is an *AppendGroupError.
	AppendEventGroups(ctx context.Context, tenantID string, groups []AppendGroup) error

	// GetEvents returns the events of an aggregate with sequenceNumber >= fromSequenceNumber, ascending
	GetEvents(ctx context.Context, tenantID, aggregateID string, fromSequenceNumber int64) ([]PersistedEvent, error)

	// GetEventsInRange returns the events with fromSequenceNumber <= sequenceNumber <= toSequenceNumber, ascending
	GetEventsInRange(ctx context.Context, tenantID, aggregateID string, fromSequenceNumber, toSequenceNumber int64) ([]PersistedEvent, error)

	// GetCurrentVersion returns the highest sequence number of the aggregate, or nil if it has no events
	GetCurrentVersion(ctx context.Context, tenantID, aggregateID string) (*int64, error)

	// ReadEventsFrom returns the tenant's events with globalSequenceId > afterGlobalSequence,
	// ascending. A limit <= 0 means no limit.
	ReadEventsFrom(ctx context.Context, tenantID string, afterGlobalSequence int64, limit int) ([]PersistedEvent, error)

	// GetMaxGlobalSequence returns the head of the tenant's stream, 0 when empty
	GetMaxGlobalSequence(ctx context.Context, tenantID string) (int64, error)

	// SaveSnapshot upserts the snapshot of an aggregate
	SaveSnapshot(ctx context.Context, snapshot AggregateSnapshot, tenantID, aggregateID string) error

	// GetSnapshot returns the snapshot of an aggregate, or nil if none exists
	GetSnapshot(ctx context.Context, tenantID, aggregateID string) (*AggregateSnapshot, error)
}

// AppendGroup is the events of one aggregate appended against its expected version
type AppendGroup struct {
	AggregateID     string
	ExpectedVersion *int64
	Events          []PersistedEvent
}

// TokenStore persists the position of each tracking processor per tenant
type TokenStore interface {
	// Load returns the stored token. The second result is false when the
	// processor never stored one, in which case the initial token is returned.
	Load(ctx context.Context, processorName, tenantID string) (GlobalSequenceTrackingToken, bool, error)

	// Save stores token as the position of the processor in the tenant
	Save(ctx context.Context, processorName, tenantID string, token GlobalSequenceTrackingToken) error
}
