package persistence

import (
	"context"
	"errors"
	"time"

	domain "github.com/eaf/backend/internal/domain/eventstore"
	"github.com/eaf/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opLoadToken = "LoadToken"
	opSaveToken = "SaveToken"
)

// GormTokenStore persists tracking processor positions in the tracking_tokens table
type GormTokenStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormTokenStore creates a new GORM-based token store
func NewGormTokenStore(db *gorm.DB) *GormTokenStore {
	return &GormTokenStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Load returns the stored token of a processor in a tenant.
// The second result is false when the processor has never stored one.
func (s *GormTokenStore) Load(ctx context.Context, processorName, tenantID string) (domain.GlobalSequenceTrackingToken, bool, error) {
	if err := requireTenant(opLoadToken, tenantID); err != nil {
		return domain.InitialToken(), false, err
	}

	var model models.TrackingTokenModel
	err := tenantScope(s.db.WithContext(ctx), tenantID).
		Where("processor_name = ?", processorName).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.InitialToken(), false, nil
		}
		return domain.InitialToken(), false, classified(opLoadToken, err)
	}
	return domain.NewTrackingToken(model.GlobalSequence), true, nil
}

// Save upserts the token of a processor in a tenant
func (s *GormTokenStore) Save(ctx context.Context, processorName, tenantID string, token domain.GlobalSequenceTrackingToken) error {
	if err := requireTenant(opSaveToken, tenantID); err != nil {
		return err
	}

	model := &models.TrackingTokenModel{
		ProcessorName:  processorName,
		TenantID:       tenantID,
		GlobalSequence: token.GlobalSequence,
		UpdatedAt:      s.now(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "processor_name"}, {Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"global_sequence", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return classified(opSaveToken, err)
	}
	return nil
}

var _ domain.TokenStore = (*GormTokenStore)(nil)
