package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is one row per externally-observed provider event id.
// Rows are inserted exactly once (unique constraint), updated exactly once
// when processing finishes, and never deleted.
type WebhookEvent struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProviderEventID string          `gorm:"column:provider_event_id;not null;uniqueIndex"`
	EventType       string          `gorm:"column:event_type;not null;index:idx_webhook_events_type_processed"`
	Payload         json.RawMessage `gorm:"column:payload;type:jsonb"`
	Processed       bool            `gorm:"column:processed;not null;default:false;index:idx_webhook_events_type_processed"`
	ProcessingError *string         `gorm:"column:processing_error"`
	ReceivedAt      time.Time       `gorm:"column:received_at;autoCreateTime"`
	ProcessedAt     *time.Time      `gorm:"column:processed_at"`
}

// TableName pins the table name independent of gorm pluralization rules.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
