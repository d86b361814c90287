package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgdb "github.com/iretilight/retailpos-backend/pkg/db"
	"github.com/iretilight/retailpos-backend/pkg/db/models"
)

// RecordResult reports whether an event id was seen for the first time.
// Processed is false for a fresh row and reflects the stored row's state for
// a duplicate, so callers can re-apply deliveries whose first apply never
// finished.
type RecordResult struct {
	IsNew     bool
	Processed bool
	RecordID  uuid.UUID
}

// Store persists one row per externally-observed event id. Inserts race under
// concurrent redelivery; the unique constraint on provider_event_id is the
// arbiter and a violation means "already seen", not failure.
type Store interface {
	WithTx(tx *gorm.DB) Store
	RecordIfNew(ctx context.Context, providerEventID, eventType string, payload json.RawMessage) (RecordResult, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	ListUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]*models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, processingError *string) error
}

type store struct {
	db *gorm.DB
}

// NewStore returns a webhook event store bound to the provided database.
func NewStore(db *gorm.DB) Store {
	return &store{db: db}
}

func (s *store) WithTx(tx *gorm.DB) Store {
	if tx == nil {
		return s
	}
	return &store{db: tx}
}

func (s *store) RecordIfNew(ctx context.Context, providerEventID, eventType string, payload json.RawMessage) (RecordResult, error) {
	if providerEventID == "" {
		return RecordResult{}, errors.New("provider event id is required")
	}

	record := &models.WebhookEvent{
		ID:              uuid.New(),
		ProviderEventID: providerEventID,
		EventType:       eventType,
		Payload:         payload,
	}
	err := s.db.WithContext(ctx).Create(record).Error
	if err == nil {
		return RecordResult{IsNew: true, RecordID: record.ID}, nil
	}
	if !pkgdb.IsUniqueViolation(err, "") {
		return RecordResult{}, err
	}

	var existing models.WebhookEvent
	if findErr := s.db.WithContext(ctx).
		Where("provider_event_id = ?", providerEventID).
		First(&existing).Error; findErr != nil {
		return RecordResult{}, findErr
	}
	return RecordResult{IsNew: false, Processed: existing.Processed, RecordID: existing.ID}, nil
}

// ListUnprocessed returns events whose apply never completed: recorded, old
// enough that an in-flight delivery cannot still be working on them, and with
// no processing verdict at all. Rows that failed with a recorded reason are
// excluded; redelivery re-drives those.
func (s *store) ListUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]*models.WebhookEvent, error) {
	var records []*models.WebhookEvent
	err := s.db.WithContext(ctx).
		Where("processed = ? AND processing_error IS NULL AND received_at < ?", false, olderThan).
		Order("received_at asc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *store) FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var record models.WebhookEvent
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *store) MarkProcessed(ctx context.Context, id uuid.UUID, processingError *string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"processed":        processingError == nil,
		"processing_error": processingError,
		"processed_at":     &now,
	}
	return s.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}
