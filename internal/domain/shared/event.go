package shared

// Event is implemented by event payloads that carry their own type
// discriminator. Payloads that do not implement it must be published with an
// explicit payload type.
type Event interface {
	EventType() string
}

// VersionedEvent extends Event with schema versioning support.
// Events should implement this interface when they need backward-compatible
// schema evolution (adding/removing fields, changing field types, etc.)
type VersionedEvent interface {
	Event
	// SchemaVersion returns the version of the event schema (e.g., 1, 2, 3)
	SchemaVersion() int
}

// EventTypeOf returns the discriminator of an event payload, or "" when the
// payload does not name itself.
func EventTypeOf(payload any) string {
	if e, ok := payload.(Event); ok {
		return e.EventType()
	}
	return ""
}

// SchemaVersionOf returns the schema version of a payload.
// Returns 1 for payloads that are not versioned.
func SchemaVersionOf(payload any) int {
	if e, ok := payload.(VersionedEvent); ok && e.SchemaVersion() > 0 {
		return e.SchemaVersion()
	}
	return 1
}
