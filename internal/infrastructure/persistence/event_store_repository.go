package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/domain/shared"
	"github.com/eaf/backend/internal/infrastructure/persistence/models"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opAppendEvents        = "AppendEvents"
	opGetEvents           = "GetEvents"
	opGetEventsInRange    = "GetEventsInRange"
	opGetCurrentVersion   = "GetCurrentVersion"
	opReadEventsFrom      = "ReadEventsFrom"
	opGetMaxGlobalSeq     = "GetMaxGlobalSequence"
	opSaveSnapshot        = "SaveSnapshot"
	opGetSnapshot         = "GetSnapshot"
	snapshotVersionColumn = "version"
)

// GormEventStoreRepository implements eventstore.Repository using GORM.
// Every query carries a tenant_id predicate.
type GormEventStoreRepository struct {
	db       *gorm.DB
	validate *validator.Validate
	now      func() time.Time
}

// NewGormEventStoreRepository creates a new GORM-based event store repository
func NewGormEventStoreRepository(db *gorm.DB) *GormEventStoreRepository {
	return &GormEventStoreRepository{
		db:       db,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormEventStoreRepository) WithTx(tx *gorm.DB) *GormEventStoreRepository {
	return &GormEventStoreRepository{db: tx, validate: r.validate, now: r.now}
}

// AppendEvents inserts events in one transaction after checking the aggregate's version.
// Events are renumbered from expectedVersion+1 (or 0) in the order given.
func (r *GormEventStoreRepository) AppendEvents(ctx context.Context, events []domain.PersistedEvent, tenantID, aggregateID string, expectedVersion *int64) error {
	if len(events) == 0 {
		return nil
	}
	err := r.AppendEventGroups(ctx, tenantID, []domain.AppendGroup{
		{AggregateID: aggregateID, ExpectedVersion: expectedVersion, Events: events},
	})
	var groupErr *domain.AppendGroupError
	if errors.As(err, &groupErr) {
		return groupErr.Err
	}
	return err
}

// AppendEventGroups checks and inserts every group inside one transaction.
// A failing group rolls back the groups before it.
func (r *GormEventStoreRepository) AppendEventGroups(ctx context.Context, tenantID string, groups []domain.AppendGroup) error {
	if err := requireTenant(opAppendEvents, tenantID); err != nil {
		return err
	}

	prepared := make([][]*models.DomainEventModel, len(groups))
	for i, g := range groups {
		rows, err := r.prepareRows(g.Events, tenantID, g.AggregateID, g.ExpectedVersion)
		if err != nil {
			return &domain.AppendGroupError{AggregateID: g.AggregateID, Err: err}
		}
		prepared[i] = rows
	}

	failed := -1
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, g := range groups {
			rows := prepared[i]
			if len(rows) == 0 {
				continue
			}
			failed = i
			actual, err := currentVersion(tx, tenantID, g.AggregateID)
			if err != nil {
				return err
			}
			if !sameVersion(actual, g.ExpectedVersion) {
				return &domain.OptimisticLockingFailure{
					TenantID:        tenantID,
					AggregateID:     g.AggregateID,
					ExpectedVersion: g.ExpectedVersion,
					ActualVersion:   actual,
				}
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		failed = -1
		return nil
	})
	if err == nil {
		return nil
	}
	if failed < 0 {
		return classified(opAppendEvents, err)
	}
	g := groups[failed]
	return &domain.AppendGroupError{AggregateID: g.AggregateID, Err: r.appendFailure(ctx, tenantID, g, err)}
}

// appendFailure classifies the error that rolled back the append of group g
func (r *GormEventStoreRepository) appendFailure(ctx context.Context, tenantID string, g domain.AppendGroup, err error) error {
	var conflict *domain.OptimisticLockingFailure
	if errors.As(err, &conflict) {
		return conflict
	}
	if IsUniqueViolation(err) {
		// A concurrent writer committed between our version check and insert
		actual, verr := currentVersion(r.db.WithContext(ctx), tenantID, g.AggregateID)
		if verr == nil && !sameVersion(actual, g.ExpectedVersion) {
			return &domain.OptimisticLockingFailure{
				TenantID:        tenantID,
				AggregateID:     g.AggregateID,
				ExpectedVersion: g.ExpectedVersion,
				ActualVersion:   actual,
			}
		}
		return domain.NewRepositoryError(domain.KindDataIntegrity, opAppendEvents, err)
	}
	return classified(opAppendEvents, err)
}

func (r *GormEventStoreRepository) prepareRows(events []domain.PersistedEvent, tenantID, aggregateID string, expectedVersion *int64) ([]*models.DomainEventModel, error) {
	next := int64(0)
	if expectedVersion != nil {
		next = *expectedVersion + 1
	}

	rows := make([]*models.DomainEventModel, len(events))
	for i, e := range events {
		if e.TenantID != tenantID || e.AggregateID != aggregateID {
			return nil, domain.NewRepositoryError(domain.KindDataIntegrity, opAppendEvents,
				fmt.Errorf("event %s belongs to tenant %q aggregate %q, not tenant %q aggregate %q",
					e.EventID, e.TenantID, e.AggregateID, tenantID, aggregateID))
		}
		e.SequenceNumber = next + int64(i)
		e.ExpectedVersion = domain.ExpectedVersionFor(e.SequenceNumber)
		if e.StreamID == "" {
			e.StreamID = domain.StreamIDFor(e.AggregateType, e.AggregateID)
		}
		if e.TimestampUTC.IsZero() {
			e.TimestampUTC = r.now()
		}
		if err := r.validate.Struct(e); err != nil {
			return nil, domain.NewRepositoryError(domain.KindDataIntegrity, opAppendEvents,
				fmt.Errorf("invalid event %s: %w", e.EventID, err))
		}
		rows[i] = models.DomainEventModelFromDomain(e)
	}
	return rows, nil
}

// GetEvents returns the events of an aggregate from a sequence number on
func (r *GormEventStoreRepository) GetEvents(ctx context.Context, tenantID, aggregateID string, fromSequenceNumber int64) ([]domain.PersistedEvent, error) {
	if err := requireTenant(opGetEvents, tenantID); err != nil {
		return nil, err
	}

	var rows []models.DomainEventModel
	err := tenantScope(r.db.WithContext(ctx), tenantID).
		Where("aggregate_id = ?", aggregateID).
		Where("sequence_number >= ?", fromSequenceNumber).
		Order("sequence_number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classified(opGetEvents, err)
	}
	return models.DomainEventModelsToDomain(rows), nil
}

// GetEventsInRange returns the events of an aggregate whose sequence number lies in [from, to]
func (r *GormEventStoreRepository) GetEventsInRange(ctx context.Context, tenantID, aggregateID string, fromSequenceNumber, toSequenceNumber int64) ([]domain.PersistedEvent, error) {
	if err := requireTenant(opGetEventsInRange, tenantID); err != nil {
		return nil, err
	}
	if toSequenceNumber < fromSequenceNumber {
		return []domain.PersistedEvent{}, nil
	}

	var rows []models.DomainEventModel
	err := tenantScope(r.db.WithContext(ctx), tenantID).
		Where("aggregate_id = ?", aggregateID).
		Where("sequence_number >= ?", fromSequenceNumber).
		Where("sequence_number <= ?", toSequenceNumber).
		Order("sequence_number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classified(opGetEventsInRange, err)
	}
	return models.DomainEventModelsToDomain(rows), nil
}

// GetCurrentVersion returns the highest sequence number of an aggregate, nil when it has no events
func (r *GormEventStoreRepository) GetCurrentVersion(ctx context.Context, tenantID, aggregateID string) (*int64, error) {
	if err := requireTenant(opGetCurrentVersion, tenantID); err != nil {
		return nil, err
	}
	v, err := currentVersion(r.db.WithContext(ctx), tenantID, aggregateID)
	if err != nil {
		return nil, classified(opGetCurrentVersion, err)
	}
	return v, nil
}

// ReadEventsFrom returns the tenant's events after a global sequence, in global order
func (r *GormEventStoreRepository) ReadEventsFrom(ctx context.Context, tenantID string, afterGlobalSequence int64, limit int) ([]domain.PersistedEvent, error) {
	if err := requireTenant(opReadEventsFrom, tenantID); err != nil {
		return nil, err
	}

	query := tenantScope(r.db.WithContext(ctx), tenantID).
		Where("global_sequence_id > ?", afterGlobalSequence).
		Order("global_sequence_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.DomainEventModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, classified(opReadEventsFrom, err)
	}
	return models.DomainEventModelsToDomain(rows), nil
}

// GetMaxGlobalSequence returns the highest global sequence of the tenant, 0 when it has no events
func (r *GormEventStoreRepository) GetMaxGlobalSequence(ctx context.Context, tenantID string) (int64, error) {
	if err := requireTenant(opGetMaxGlobalSeq, tenantID); err != nil {
		return 0, err
	}

	var head sql.NullInt64
	err := tenantScope(r.db.WithContext(ctx).Model(&models.DomainEventModel{}), tenantID).
		Select("MAX(global_sequence_id)").
		Row().
		Scan(&head)
	if err != nil {
		return 0, classified(opGetMaxGlobalSeq, err)
	}
	if !head.Valid {
		return 0, nil
	}
	return head.Int64, nil
}

// SaveSnapshot upserts the snapshot of an aggregate, bumping its version on overwrite
func (r *GormEventStoreRepository) SaveSnapshot(ctx context.Context, snapshot domain.AggregateSnapshot, tenantID, aggregateID string) error {
	if err := requireTenant(opSaveSnapshot, tenantID); err != nil {
		return err
	}
	if snapshot.TenantID != tenantID || snapshot.AggregateID != aggregateID {
		return domain.NewRepositoryError(domain.KindDataIntegrity, opSaveSnapshot,
			fmt.Errorf("snapshot belongs to tenant %q aggregate %q, not tenant %q aggregate %q",
				snapshot.TenantID, snapshot.AggregateID, tenantID, aggregateID))
	}
	if snapshot.TimestampUTC.IsZero() {
		snapshot.TimestampUTC = r.now()
	}
	if err := r.validate.Struct(snapshot); err != nil {
		return domain.NewRepositoryError(domain.KindDataIntegrity, opSaveSnapshot,
			fmt.Errorf("invalid snapshot of %s: %w", aggregateID, err))
	}

	model := models.AggregateSnapshotModelFromDomain(snapshot)
	updates := append(
		clause.AssignmentColumns([]string{"aggregate_type", "last_sequence_number", "snapshot_payload_jsonb", "timestamp_utc"}),
		clause.Assignment{
			Column: clause.Column{Name: snapshotVersionColumn},
			Value:  gorm.Expr("aggregate_snapshots.version + 1"),
		},
	)

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "aggregate_id"}},
			DoUpdates: updates,
		}).
		Create(model).Error
	if err != nil {
		return classified(opSaveSnapshot, err)
	}
	return nil
}

// GetSnapshot returns the snapshot of an aggregate, nil when none exists
func (r *GormEventStoreRepository) GetSnapshot(ctx context.Context, tenantID, aggregateID string) (*domain.AggregateSnapshot, error) {
	if err := requireTenant(opGetSnapshot, tenantID); err != nil {
		return nil, err
	}

	var model models.AggregateSnapshotModel
	err := tenantScope(r.db.WithContext(ctx), tenantID).
		Where("aggregate_id = ?", aggregateID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classified(opGetSnapshot, err)
	}
	return model.ToDomain(), nil
}

func currentVersion(db *gorm.DB, tenantID, aggregateID string) (*int64, error) {
	var version sql.NullInt64
	err := db.Model(&models.DomainEventModel{}).
		Select("MAX(sequence_number)").
		Where("tenant_id = ?", tenantID).
		Where("aggregate_id = ?", aggregateID).
		Row().
		Scan(&version)
	if err != nil {
		return nil, err
	}
	if !version.Valid {
		return nil, nil
	}
	v := version.Int64
	return &v, nil
}

func sameVersion(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func requireTenant(op, tenantID string) error {
	if tenantID == "" {
		return domain.NewRepositoryError(domain.KindTenantContextMissing, op, shared.ErrTenantRequired)
	}
	return nil
}

func classified(op string, err error) error {
	kind, ok := ClassifyError(err)
	if !ok {
		kind = domain.KindDatabase
	}
	return domain.NewRepositoryError(kind, op, err)
}

// Ensure GormEventStoreRepository implements eventstore.Repository
var _ domain.Repository = (*GormEventStoreRepository)(nil)
