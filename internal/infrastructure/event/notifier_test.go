package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/eaf/backend/internal/infrastructure/config"
	"github.com/eaf/backend/internal/infrastructure/eventstore"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// startTestNATS starts an embedded NATS server and returns a connection to it
func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Shutdown)
	require.True(t, srv.ReadyForConnections(5*time.Second), "embedded NATS not ready")

	nc, err := Connect(config.NATSConfig{URL: srv.ClientURL(), Name: "eaf-test"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestSubjectFor(t *testing.T) {
	subject, err := SubjectFor("eaf.events", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "eaf.events.tenant-a", subject)

	for _, bad := range []string{"", "a.b", "a*", "a>", "a b"} {
		_, err := SubjectFor("eaf.events", bad)
		assert.ErrorIs(t, err, ErrInvalidSubjectToken, "tenant %q", bad)
	}
}

func TestNATSNotifier_Publishes(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := nc.SubscribeSync("eaf.events.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	n := NewNATSNotifier(nc, "eaf.events", zaptest.NewLogger(t))
	require.NoError(t, n.NotifyAppended(context.Background(), "tenant-a", "agg-1", 7))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "eaf.events.tenant-a", msg.Subject)
	var got AppendNotification
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, AppendNotification{TenantID: "tenant-a", AggregateID: "agg-1", HeadSequence: 7}, got)

	assert.ErrorIs(t, n.NotifyAppended(context.Background(), "bad.tenant", "agg-1", 1), ErrInvalidSubjectToken)
}

func TestNATSSubscriber_Delivers(t *testing.T) {
	nc := startTestNATS(t)

	received := make(chan AppendNotification, 4)
	sub := NewNATSSubscriber(nc, "eaf.events", zaptest.NewLogger(t))
	require.NoError(t, sub.Subscribe(func(n AppendNotification) { received <- n }))
	defer sub.Close()

	assert.Error(t, sub.Subscribe(func(AppendNotification) {}), "a second subscription is rejected")

	require.NoError(t, nc.Publish("eaf.events.tenant-a", []byte("not json")))
	require.NoError(t, NewNATSNotifier(nc, "eaf.events", nil).NotifyAppended(context.Background(), "tenant-a", "agg-1", 3))

	select {
	case n := <-received:
		assert.Equal(t, "tenant-a", n.TenantID)
		assert.Equal(t, int64(3), n.HeadSequence)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestNATS_AppendWakesProcessor(t *testing.T) {
	nc := startTestNATS(t)
	notifier := NewNATSNotifier(nc, "eaf.events", zaptest.NewLogger(t))
	f := newStoreFixture(t, eventstore.WithNotifier(notifier))

	h := &recordingHandler{}
	p := NewTrackingProcessor("projector", f.engine, f.tokens, TrackingProcessorConfig{
		PollInterval: time.Hour,
		Tenants:      []string{"tenant-a"},
	})
	p.Subscribe(h)

	sub := NewNATSSubscriber(nc, "eaf.events", zaptest.NewLogger(t))
	require.NoError(t, sub.Subscribe(p.OnAppend))
	defer sub.Close()

	require.NoError(t, p.Start(context.Background()))
	defer func() { _ = p.Stop(context.Background()) }()

	f.appendTenant(t, "tenant-a", "a", 1)

	require.Eventually(t, func() bool { return len(h.Seen()) == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestNoopNotifier(t *testing.T) {
	assert.NoError(t, NoopNotifier{}.NotifyAppended(context.Background(), "t", "a", 1))
}
