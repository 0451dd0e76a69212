package shared

// NoVersion is the version of an aggregate that has no persisted events.
const NoVersion int64 = -1

// EventApplier mutates aggregate state from a single event.
// Apply must be deterministic: it runs both when an event is raised and when
// it is replayed from the store.
type EventApplier interface {
	Apply(event any) error
}

// AggregateRoot is the contract between event-sourced aggregates and the
// repository that loads and saves them
type AggregateRoot interface {
	EventApplier
	AggregateID() string
	AggregateType() string
	// Version returns the sequence number of the last applied event
	Version() int64
	PendingEvents() []any
	MarkCommitted(version int64)
	// Replayed records that the event with the given sequence number was applied from the store
	Replayed(sequenceNumber int64)
}

// Snapshotter is implemented by aggregates that can be captured as a
// snapshot and restored from one.
type Snapshotter interface {
	SnapshotState() (any, error)
	RestoreSnapshot(state any, lastSequenceNumber int64) error
}

// EventSourcedAggregate provides the event bookkeeping shared by all aggregates
type EventSourcedAggregate struct {
	id      string
	version int64
	pending []any
}

// NewEventSourcedAggregate creates the base for a new aggregate with the given id
func NewEventSourcedAggregate(id string) EventSourcedAggregate {
	return EventSourcedAggregate{
		id:      id,
		version: NoVersion,
		pending: make([]any, 0),
	}
}

// AggregateID returns the aggregate identifier
func (a *EventSourcedAggregate) AggregateID() string {
	return a.id
}

// SetAggregateID sets the identifier, used when the first event establishes it
func (a *EventSourcedAggregate) SetAggregateID(id string) {
	a.id = id
}

// Version returns the sequence number of the last applied event
func (a *EventSourcedAggregate) Version() int64 {
	return a.version
}

// Raise applies the event to the aggregate and records it for persistence
func (a *EventSourcedAggregate) Raise(applier EventApplier, event any) error {
	if err := applier.Apply(event); err != nil {
		return err
	}
	a.pending = append(a.pending, event)
	return nil
}

// PendingEvents returns the events raised since the last commit
func (a *EventSourcedAggregate) PendingEvents() []any {
	return a.pending
}

// MarkCommitted clears pending events after they were appended
func (a *EventSourcedAggregate) MarkCommitted(version int64) {
	a.version = version
	a.pending = make([]any, 0)
}

// Replayed advances the version while rebuilding from the store
func (a *EventSourcedAggregate) Replayed(sequenceNumber int64) {
	a.version = sequenceNumber
}
