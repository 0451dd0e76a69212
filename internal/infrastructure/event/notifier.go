package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eaf/backend/internal/infrastructure/config"
	"github.com/eaf/backend/internal/infrastructure/eventstore"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ErrInvalidSubjectToken is returned for a tenant id that cannot be used as a NATS subject token
var ErrInvalidSubjectToken = errors.New("tenant id is not a valid subject token")

// AppendNotification announces that an aggregate grew to HeadSequence
type AppendNotification struct {
	TenantID     string `json:"tenantId"`
	AggregateID  string `json:"aggregateId"`
	HeadSequence int64  `json:"headSequence"`
}

// Notifier is told about every successful append
type Notifier = eventstore.AppendNotifier

// NoopNotifier discards notifications. It is used when NATS is disabled.
type NoopNotifier struct{}

// NotifyAppended implements Notifier
func (NoopNotifier) NotifyAppended(context.Context, string, string, int64) error { return nil }

// SubjectFor returns the subject carrying the notifications of a tenant
func SubjectFor(prefix, tenantID string) (string, error) {
	if tenantID == "" || strings.ContainsAny(tenantID, ".*> \t\r\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubjectToken, tenantID)
	}
	return prefix + "." + tenantID, nil
}

// Connect opens a NATS connection that reconnects forever and logs its state changes
func Connect(cfg config.NATSConfig, logger *zap.Logger, opts ...nats.Option) (*nats.Conn, error) {
	defaults := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(cfg.URL, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

// NATSNotifier publishes append notifications as JSON to <prefix>.<tenant>
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSNotifier creates a notifier publishing on conn
func NewNATSNotifier(conn *nats.Conn, prefix string, logger *zap.Logger) *NATSNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSNotifier{conn: conn, prefix: prefix, logger: logger}
}

// NotifyAppended implements Notifier
func (n *NATSNotifier) NotifyAppended(ctx context.Context, tenantID, aggregateID string, head int64) error {
	subject, err := SubjectFor(n.prefix, tenantID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(AppendNotification{TenantID: tenantID, AggregateID: aggregateID, HeadSequence: head})
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	n.logger.Debug("append notification published",
		zap.String("subject", subject),
		zap.Int64("head_sequence", head),
	)
	return nil
}

// NATSSubscriber delivers the append notifications of every tenant
type NATSSubscriber struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSSubscriber creates a subscriber on conn
func NewNATSSubscriber(conn *nats.Conn, prefix string, logger *zap.Logger) *NATSSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSubscriber{conn: conn, prefix: prefix, logger: logger}
}

// Subscribe calls fn for every notification until Close. fn runs on the
// NATS dispatch goroutine and must not block.
func (s *NATSSubscriber) Subscribe(fn func(AppendNotification)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return errors.New("subscriber already subscribed")
	}

	subject := s.prefix + ".*"
	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		var n AppendNotification
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			s.logger.Warn("dropping malformed append notification",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			return
		}
		fn(n)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	// Flush registers the subscription on the server before returning
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flushing subscription: %w", err)
	}
	s.sub = sub
	return nil
}

// Close stops the delivery of notifications
func (s *NATSSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	return err
}

var (
	_ Notifier = NoopNotifier{}
	_ Notifier = (*NATSNotifier)(nil)
)
