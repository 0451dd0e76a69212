package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/eaf/backend/internal/application/command"
	appevent "github.com/eaf/backend/internal/application/event"
	"github.com/eaf/backend/internal/application/eventsourcing"
	apptenancy "github.com/eaf/backend/internal/application/tenancy"
	"github.com/eaf/backend/internal/domain/tenancy"
	"github.com/eaf/backend/internal/infrastructure/cache"
	"github.com/eaf/backend/internal/infrastructure/config"
	"github.com/eaf/backend/internal/infrastructure/event"
	"github.com/eaf/backend/internal/infrastructure/eventstore"
	"github.com/eaf/backend/internal/infrastructure/logger"
	"github.com/eaf/backend/internal/infrastructure/migration"
	"github.com/eaf/backend/internal/infrastructure/persistence"
	"github.com/eaf/backend/internal/infrastructure/telemetry"
	"github.com/eaf/backend/internal/interfaces/http/handler"
	"github.com/eaf/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

//	@title			Event Store API
//	@version		1.0
//	@description	Tenant scoped event store: append-only event log, tracking reads and tenant lifecycle.

//	@BasePath	/api/v1

//	@securityDefinitions.apikey	TenantHeader
//	@in							header
//	@name						X-Tenant-ID

// auditProcessorName keys the tokens of the audit processor
const auditProcessorName = "audit-log"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("Starting event store",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	// Telemetry
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	meter := mp.Meter(telemetry.TracerName)

	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize log export", zap.Error(err))
	}
	log = lp.Bridge(log, logger.ParseLevel(cfg.Log.Level))

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.PyroscopeAddress,
		ApplicationName: cfg.Telemetry.ServiceName,
		ProfileTypes:    cfg.Telemetry.ProfileTypes,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.IsEnabled() {
		tp.EnableSpanProfiles()
	}

	// Database
	if cfg.Database.AutoMigrate {
		if err := migrateUp(cfg.Database.DSN(), log); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	db, err := persistence.NewDatabase(&cfg.Database, persistence.Options{
		Logger:        log,
		LogLevel:      logger.MapGormLogLevel(cfg.Log.Level),
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
		Tracing: telemetry.DBTracingConfig{
			Enabled:              cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
			DBName:               cfg.Database.DBName,
			RecordQueryVariables: cfg.Telemetry.DBLogFullSQL,
		},
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Append notifications
	var (
		notifier eventstore.AppendNotifier = event.NoopNotifier{}
		nc       *nats.Conn
	)
	if cfg.NATS.Enabled {
		nc, err = event.Connect(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		notifier = event.NewNATSNotifier(nc, cfg.NATS.SubjectPrefix, log)
	}

	// Storage engine
	storeMetrics, err := telemetry.NewEventStoreMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create event store metrics", zap.Error(err))
	}
	registry := event.NewRegistry()
	event.RegisterAllEvents(registry)
	store := eventstore.NewEngine(persistence.NewGormEventStoreRepository(db.DB), registry,
		eventstore.WithLogger(log),
		eventstore.WithMetrics(storeMetrics),
		eventstore.WithTracer(tp.Tracer(telemetry.TracerName)),
		eventstore.WithNotifier(notifier),
		eventstore.WithTrackingBatchSize(cfg.EventStore.TrackingBatchSize),
	)

	// Command side
	gateway := command.NewGateway(
		command.WithLogger(log),
		command.WithInterceptors(command.DefaultInterceptors(log)...),
	)
	tenants := eventsourcing.NewRepository(store, tenancy.Rehydrate,
		eventsourcing.WithSnapshotThreshold(cfg.EventStore.SnapshotThreshold),
		eventsourcing.WithLogger(log),
	)
	if err := apptenancy.NewHandlers(tenants).Register(gateway); err != nil {
		log.Fatal("Failed to register tenant commands", zap.Error(err))
	}

	// Tracking processor
	var processor *event.TrackingProcessor
	if cfg.Processor.Enabled {
		processor, err = startProcessor(ctx, cfg, db, store, storeMetrics, nc, log)
		if err != nil {
			log.Fatal("Failed to start tracking processor", zap.Error(err))
		}
	}

	// HTTP
	var tracerProvider trace.TracerProvider
	if tp.IsEnabled() {
		tracerProvider = otel.GetTracerProvider()
	}
	engine, err := router.New(router.Config{
		Logger:         log,
		ServiceName:    cfg.Telemetry.ServiceName,
		TracerProvider: tracerProvider,
		Meter:          meter,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		Health:         handler.NewHealthHandler(readinessChecks(db, nc)...),
		Registrars: []router.RouteRegistrar{
			handler.NewEventHandler(store),
			handler.NewTenantHandler(gateway),
		},
	})
	if err != nil {
		log.Fatal("Failed to build router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if processor != nil {
		if err := processor.Stop(shutdownCtx); err != nil {
			log.Error("Tracking processor did not stop in time", zap.Error(err))
		}
	}
	if err := mp.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	if err := lp.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down logger provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// migrateUp applies the embedded migrations on a dedicated connection.
// Closing the migrator closes that connection too.
func migrateUp(dsn string, log *zap.Logger) error {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	m, err := migration.NewEmbedded(sqlDB, log)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("Error closing migrator", zap.Error(err))
		}
	}()
	return m.Up()
}

// startProcessor runs the audit log over the configured tenants. Append
// notifications wake it early when NATS is connected.
func startProcessor(ctx context.Context, cfg *config.Config, db *persistence.Database, store *eventstore.Engine,
	metrics *telemetry.EventStoreMetrics, nc *nats.Conn, log *zap.Logger) (*event.TrackingProcessor, error) {
	tokens, err := cache.NewTokenStoreFactory(cfg, db.DB, cache.WithLogger(log)).CreateStore()
	if err != nil {
		return nil, fmt.Errorf("create token store: %w", err)
	}

	p := event.NewTrackingProcessor(auditProcessorName, store, tokens, event.TrackingProcessorConfig{
		PollInterval: cfg.Processor.PollInterval,
		Tenants:      cfg.Processor.Tenants,
	}, event.WithProcessorLogger(log), event.WithProcessorMetrics(metrics))
	p.Subscribe(appevent.NewAuditLog(log))

	if nc != nil {
		sub := event.NewNATSSubscriber(nc, cfg.NATS.SubjectPrefix, log)
		if err := sub.Subscribe(p.OnAppend); err != nil {
			return nil, fmt.Errorf("subscribe to append notifications: %w", err)
		}
	}

	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func readinessChecks(db *persistence.Database, nc *nats.Conn) []handler.Check {
	checks := []handler.Check{{Name: "database", Fn: db.Ping}}
	if nc != nil {
		checks = append(checks, handler.Check{Name: "nats", Fn: func(context.Context) error {
			if status := nc.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats connection is %s", status)
			}
			return nil
		}})
	}
	return checks
}
