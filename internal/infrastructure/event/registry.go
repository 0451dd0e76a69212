package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/eaf/backend/internal/domain/shared"
	"github.com/eaf/backend/internal/infrastructure/eventstore"
)

var (
	// ErrUnknownEventType is returned when decoding a discriminator that was never registered
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrUnknownSnapshotType is returned when decoding a snapshot of an unregistered aggregate type
	ErrUnknownSnapshotType = errors.New("unknown snapshot type")
)

// Decoder turns a JSON payload into a typed value
type Decoder func(data []byte) (any, error)

type registration struct {
	name           string
	currentVersion int
	decode         Decoder
	upgraders      map[int]Upgrader
}

// Registry is the explicit table of event type names to decoders, built at
// startup. Payloads older than the registered schema version are upgraded
// through the registered upgrader chain before decoding.
type Registry struct {
	mu        sync.RWMutex
	events    map[string]*registration
	snapshots map[string]Decoder
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		events:    make(map[string]*registration),
		snapshots: make(map[string]Decoder),
	}
}

// Option configures an event registration
type Option func(*registration)

// WithSchemaVersion sets the current schema version of the event type
func WithSchemaVersion(version int) Option {
	return func(r *registration) {
		r.currentVersion = version
	}
}

// WithUpgraders registers the upgrader chain leading to the current version
func WithUpgraders(upgraders ...Upgrader) Option {
	return func(r *registration) {
		for _, u := range upgraders {
			r.upgraders[u.SourceVersion()] = u
		}
	}
}

// Register adds event type T under name. When T implements
// shared.VersionedEvent its schema version is used unless overridden.
func Register[T any](r *Registry, name string, opts ...Option) error {
	var zero T
	reg := &registration{
		name:           name,
		currentVersion: shared.SchemaVersionOf(zero),
		decode:         jsonDecoder[T](),
		upgraders:      make(map[int]Upgrader),
	}
	for _, opt := range opts {
		opt(reg)
	}
	return r.add(reg)
}

// MustRegister is Register for startup wiring, panicking on an invalid chain
func MustRegister[T any](r *Registry, name string, opts ...Option) {
	if err := Register[T](r, name, opts...); err != nil {
		panic(err)
	}
}

// RegisterSnapshot adds the snapshot state type T of an aggregate type
func RegisterSnapshot[T any](r *Registry, aggregateType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[aggregateType] = jsonDecoder[T]()
}

func jsonDecoder[T any]() Decoder {
	return func(data []byte) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func (r *Registry) add(reg *registration) error {
	if reg.name == "" {
		return errors.New("event type name is required")
	}
	if reg.currentVersion < 1 {
		return fmt.Errorf("event type %s: schema version must be >= 1, got %d", reg.name, reg.currentVersion)
	}
	for source, u := range reg.upgraders {
		if u.TargetVersion() != source+1 {
			return fmt.Errorf("event type %s: upgrader must be sequential, got %d -> %d", reg.name, source, u.TargetVersion())
		}
	}
	for v := 1; v < reg.currentVersion; v++ {
		if _, ok := reg.upgraders[v]; !ok {
			return fmt.Errorf("event type %s: missing upgrader for version %d -> %d", reg.name, v, v+1)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.events[reg.name]; exists {
		return fmt.Errorf("event type %s already registered", reg.name)
	}
	r.events[reg.name] = reg
	return nil
}

// IsRegistered reports whether the event type is known
func (r *Registry) IsRegistered(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.events[eventType]
	return ok
}

// RegisteredTypes returns all registered event type names, sorted
func (r *Registry) RegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.events))
	for name := range r.events {
		types = append(types, name)
	}
	slices.Sort(types)
	return types
}

// CurrentVersion returns the schema version new payloads of the type are written with
func (r *Registry) CurrentVersion(eventType string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.events[eventType]
	if !ok {
		return 0, false
	}
	return reg.currentVersion, true
}

// Encode serializes a payload and reports its schema version
func (r *Registry) Encode(eventType string, payload any) ([]byte, int, error) {
	version, ok := r.CurrentVersion(eventType)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return data, version, nil
}

// Decode upgrades a stored payload to the current schema version and
// decodes it into the registered type. A schemaVersion < 1 is read as 1.
func (r *Registry) Decode(eventType string, data []byte, schemaVersion int) (any, error) {
	r.mu.RLock()
	reg, ok := r.events[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	upgraded, err := reg.upgrade(data, schemaVersion)
	if err != nil {
		return nil, err
	}
	v, err := reg.decode(upgraded)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return v, nil
}

// Upgrade returns the payload migrated to the current schema version
func (r *Registry) Upgrade(eventType string, data []byte, schemaVersion int) ([]byte, int, error) {
	r.mu.RLock()
	reg, ok := r.events[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}
	upgraded, err := reg.upgrade(data, schemaVersion)
	if err != nil {
		return nil, 0, err
	}
	return upgraded, reg.currentVersion, nil
}

func (reg *registration) upgrade(data []byte, from int) ([]byte, error) {
	if from < 1 {
		from = 1
	}
	var err error
	for v := from; v < reg.currentVersion; v++ {
		data, err = reg.upgraders[v].Upgrade(data)
		if err != nil {
			return nil, fmt.Errorf("upgrade %s from v%d to v%d: %w", reg.name, v, v+1, err)
		}
	}
	return data, nil
}

// DecodeSnapshot decodes the snapshot state of an aggregate type
func (r *Registry) DecodeSnapshot(aggregateType string, data []byte) (any, error) {
	r.mu.RLock()
	decode, ok := r.snapshots[aggregateType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSnapshotType, aggregateType)
	}
	v, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s snapshot: %w", aggregateType, err)
	}
	return v, nil
}

// EncodeSnapshot serializes snapshot state
func (r *Registry) EncodeSnapshot(aggregateType string, state any) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode %s snapshot: %w", aggregateType, err)
	}
	return data, nil
}

var _ eventstore.PayloadCodec = (*Registry)(nil)
