package event

import (
	"errors"
	"testing"

	"github.com/eaf/backend/internal/domain/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registryTestEvent struct {
	Data    string `json:"data"`
	Counter int    `json:"counter"`
}

func (registryTestEvent) EventType() string { return "RegistryTestEvent" }

type registryTestEventV3 struct {
	Title    string `json:"title"`
	Priority string `json:"priority"`
}

func (registryTestEventV3) EventType() string  { return "Ticket" }
func (registryTestEventV3) SchemaVersion() int { return 3 }

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, Register[registryTestEvent](r, "RegistryTestEvent"))

	assert.True(t, r.IsRegistered("RegistryTestEvent"))
	assert.False(t, r.IsRegistered("UnknownEvent"))
	v, ok := r.CurrentVersion("RegistryTestEvent")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestRegistry_RegisterRejectsInvalidChains(t *testing.T) {
	up := CommonUpgraders{}

	t.Run("duplicate name", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, Register[registryTestEvent](r, "A"))
		assert.Error(t, Register[registryTestEvent](r, "A"))
	})

	t.Run("missing upgrader", func(t *testing.T) {
		r := NewRegistry()
		err := Register[registryTestEventV3](r, "Ticket", WithUpgraders(up.AddField(1, "priority", "low")))
		assert.ErrorContains(t, err, "missing upgrader for version 2 -> 3")
	})

	t.Run("empty name", func(t *testing.T) {
		assert.Error(t, Register[registryTestEvent](NewRegistry(), ""))
	})

	t.Run("invalid version", func(t *testing.T) {
		assert.Error(t, Register[registryTestEvent](NewRegistry(), "A", WithSchemaVersion(0)))
	})

	t.Run("must register panics", func(t *testing.T) {
		assert.Panics(t, func() {
			MustRegister[registryTestEventV3](NewRegistry(), "Ticket")
		})
	})
}

func TestRegistry_RegisteredTypes(t *testing.T) {
	r := NewRegistry()
	MustRegister[registryTestEvent](r, "B")
	MustRegister[registryTestEvent](r, "A")

	assert.Equal(t, []string{"A", "B"}, r.RegisteredTypes())
}

func TestRegistry_EncodeDecode(t *testing.T) {
	r := NewRegistry()
	MustRegister[registryTestEvent](r, "RegistryTestEvent")

	data, version, err := r.Encode("RegistryTestEvent", registryTestEvent{Data: "test data", Counter: 42})
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	assert.JSONEq(t, `{"data":"test data","counter":42}`, string(data))

	decoded, err := r.Decode("RegistryTestEvent", data, version)
	require.NoError(t, err)
	assert.Equal(t, registryTestEvent{Data: "test data", Counter: 42}, decoded)
}

func TestRegistry_DecodeErrors(t *testing.T) {
	r := NewRegistry()
	MustRegister[registryTestEvent](r, "RegistryTestEvent")

	_, err := r.Decode("Nope", []byte(`{}`), 1)
	assert.True(t, errors.Is(err, ErrUnknownEventType))

	_, err = r.Decode("RegistryTestEvent", []byte(`{not json`), 1)
	assert.Error(t, err)

	_, _, err = r.Encode("Nope", registryTestEvent{})
	assert.True(t, errors.Is(err, ErrUnknownEventType))
}

func TestRegistry_UpcastsOldPayloads(t *testing.T) {
	up := CommonUpgraders{}
	r := NewRegistry()
	MustRegister[registryTestEventV3](r, "Ticket", WithUpgraders(
		up.RenameField(1, "name", "title"),
		up.AddField(2, "priority", "normal"),
	))

	t.Run("v1 payload is upgraded twice", func(t *testing.T) {
		decoded, err := r.Decode("Ticket", []byte(`{"name":"broken build"}`), 1)
		require.NoError(t, err)
		assert.Equal(t, registryTestEventV3{Title: "broken build", Priority: "normal"}, decoded)
	})

	t.Run("v2 payload is upgraded once", func(t *testing.T) {
		decoded, err := r.Decode("Ticket", []byte(`{"title":"flaky test"}`), 2)
		require.NoError(t, err)
		assert.Equal(t, registryTestEventV3{Title: "flaky test", Priority: "normal"}, decoded)
	})

	t.Run("current payload is untouched", func(t *testing.T) {
		decoded, err := r.Decode("Ticket", []byte(`{"title":"x","priority":"high"}`), 3)
		require.NoError(t, err)
		assert.Equal(t, registryTestEventV3{Title: "x", Priority: "high"}, decoded)
	})

	t.Run("missing version reads as v1", func(t *testing.T) {
		data, version, err := r.Upgrade("Ticket", []byte(`{"name":"legacy"}`), 0)
		require.NoError(t, err)
		assert.Equal(t, 3, version)
		assert.JSONEq(t, `{"title":"legacy","priority":"normal"}`, string(data))
	})

	t.Run("non object payload fails upgrade", func(t *testing.T) {
		_, err := r.Decode("Ticket", []byte(`[1,2]`), 1)
		assert.ErrorContains(t, err, "upgrade Ticket from v1 to v2")
	})
}

func TestRegisterAllEvents(t *testing.T) {
	r := NewRegistry()
	RegisterAllEvents(r)

	assert.ElementsMatch(t, []string{
		tenancy.EventTypeTenantCreated,
		tenancy.EventTypeTenantRenamed,
		tenancy.EventTypeTenantSuspended,
		tenancy.EventTypeTenantReactivated,
	}, r.RegisteredTypes())

	t.Run("TenantRenamed v1 payload upgrades to v2", func(t *testing.T) {
		decoded, err := r.Decode(tenancy.EventTypeTenantRenamed, []byte(`{"oldName":"Acme","name":"Acme Corp"}`), 1)
		require.NoError(t, err)
		assert.Equal(t, tenancy.TenantRenamed{OldName: "Acme", NewName: "Acme Corp"}, decoded)
	})

	t.Run("tenant snapshot decodes", func(t *testing.T) {
		data, err := r.EncodeSnapshot(tenancy.AggregateType, tenancy.Snapshot{Name: "Acme", Status: tenancy.StatusActive})
		require.NoError(t, err)

		state, err := r.DecodeSnapshot(tenancy.AggregateType, data)
		require.NoError(t, err)
		assert.Equal(t, tenancy.Snapshot{Name: "Acme", Status: tenancy.StatusActive}, state)

		_, err = r.DecodeSnapshot("Unknown", data)
		assert.True(t, errors.Is(err, ErrUnknownSnapshotType))
	})
}
