package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/infrastructure/config"
	"github.com/eaf/backend/internal/infrastructure/event"
	"github.com/eaf/backend/internal/infrastructure/eventstore"
	"github.com/eaf/backend/internal/infrastructure/logger"
	"github.com/eaf/backend/internal/infrastructure/persistence"
	"github.com/eaf/backend/internal/infrastructure/tenant"
	"github.com/eaf/backend/internal/interfaces/http/dto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Store is the part of the storage engine the CLI reads from
type Store interface {
	CreateHeadToken(ctx context.Context) domain.GlobalSequenceTrackingToken
	ReadTrackedEvents(ctx context.Context, token *domain.GlobalSequenceTrackingToken, mayBlock bool) (*eventstore.TrackingEventStream, error)
	ReadEvents(ctx context.Context, aggregateID string, firstSequenceNumber int64) (*eventstore.DomainEventStream, error)
}

// StoreOpener connects to the store described by the configuration file
type StoreOpener func(configFile string, log *zap.Logger) (Store, func() error, error)

type globalOptions struct {
	configFile string
	tenantID   string
	logLevel   string
}

func newRootCommand(open StoreOpener) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:          "eafctl",
		Short:        "Inspect the event streams of a tenant",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "configuration file (default: ./config.toml)")
	root.PersistentFlags().StringVar(&opts.tenantID, "tenant", "", "tenant to read (required)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	_ = root.MarkPersistentFlagRequired("tenant")

	events := &cobra.Command{Use: "events", Short: "Read stored events"}
	events.AddCommand(headCommand(opts, open), tailCommand(opts, open), aggregateCommand(opts, open))
	root.AddCommand(events)
	return root
}

// withStore binds the tenant to ctx and runs fn on an open store
func withStore(cmd *cobra.Command, opts *globalOptions, open StoreOpener, fn func(ctx context.Context, s Store) error) error {
	ctx, err := tenant.WithTenantID(cmd.Context(), opts.tenantID)
	if err != nil {
		return err
	}

	log, err := logger.New(&logger.Config{Level: opts.logLevel, Format: "console", Output: "stderr"})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	store, closeStore, err := open(opts.configFile, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("Error closing store", zap.Error(err))
		}
	}()
	return fn(ctx, store)
}

func headCommand(opts *globalOptions, open StoreOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Print the position of the last event of the tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, open, func(ctx context.Context, s Store) error {
				token := s.CreateHeadToken(ctx)
				return writeJSON(cmd.OutOrStdout(), dto.TokenResponse{GlobalSequence: token.GlobalSequence})
			})
		},
	}
}

type tailOptions struct {
	from     int64
	follow   bool
	interval time.Duration
}

func tailCommand(opts *globalOptions, open StoreOpener) *cobra.Command {
	tail := &tailOptions{}
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the events of the tenant after a position, one JSON document per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tail.from < 0 {
				return errors.New("--from cannot be negative")
			}
			return withStore(cmd, opts, open, func(ctx context.Context, s Store) error {
				return tailEvents(ctx, s, cmd.OutOrStdout(), tail)
			})
		},
	}
	cmd.Flags().Int64Var(&tail.from, "from", 0, "global sequence to start after")
	cmd.Flags().BoolVarP(&tail.follow, "follow", "f", false, "keep polling for new events")
	cmd.Flags().DurationVar(&tail.interval, "interval", time.Second, "poll interval with --follow")
	return cmd
}

// tailEvents writes every event after opts.from. With follow it polls until ctx is done.
func tailEvents(ctx context.Context, s Store, w io.Writer, opts *tailOptions) error {
	token := domain.GlobalSequenceTrackingToken{GlobalSequence: opts.from}
	for {
		stream, err := s.ReadTrackedEvents(ctx, &token, opts.follow)
		if err != nil {
			return err
		}
		read := stream.Len()
		for msg := range stream.All() {
			if err := writeJSON(w, dto.FromTrackedEvent(msg)); err != nil {
				return err
			}
			token = msg.Token()
		}
		_ = stream.Close()

		if read > 0 {
			continue
		}
		if !opts.follow {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.interval):
		}
	}
}

func aggregateCommand(opts *globalOptions, open StoreOpener) *cobra.Command {
	var from int64
	cmd := &cobra.Command{
		Use:   "aggregate <id>",
		Short: "Print the events of one aggregate in sequence order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, open, func(ctx context.Context, s Store) error {
				stream, err := s.ReadEvents(ctx, args[0], from)
				if err != nil {
					return err
				}
				for msg := range stream.All() {
					if err := writeJSON(cmd.OutOrStdout(), dto.FromDomainEvent(msg)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "first sequence number to print")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// openStore connects the storage engine to the configured database
func openStore(configFile string, log *zap.Logger) (Store, func() error, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}

	db, err := persistence.NewDatabase(&cfg.Database, persistence.Options{
		Logger:   log,
		LogLevel: logger.MapGormLogLevel(cfg.Log.Level),
	})
	if err != nil {
		return nil, nil, err
	}

	registry := event.NewRegistry()
	event.RegisterAllEvents(registry)
	store := eventstore.NewEngine(persistence.NewGormEventStoreRepository(db.DB), registry,
		eventstore.WithLogger(log),
		eventstore.WithTrackingBatchSize(cfg.EventStore.TrackingBatchSize),
	)
	return store, db.Close, nil
}
