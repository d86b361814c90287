package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iretilight/retailpos-backend/pkg/enums"
)

// PaymentRefund records money returned against a succeeded ledger entry.
// AuthorizedBy stays null until the authorization gate records an approver;
// above-threshold refunds never reach the gateway without it.
type PaymentRefund struct {
	ID                   uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentTransactionID uuid.UUID          `gorm:"column:payment_transaction_id;type:uuid;not null;index:idx_payment_refunds_parent_status"`
	Amount               decimal.Decimal    `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency             enums.Currency     `gorm:"column:currency;not null;default:'usd'"`
	Reason               enums.RefundReason `gorm:"column:reason;not null"`
	Status               enums.RefundStatus `gorm:"column:status;not null;default:'pending';index:idx_payment_refunds_parent_status"`
	ProviderRefundID     *string            `gorm:"column:provider_refund_id;unique"`
	RequestedBy          uuid.UUID          `gorm:"column:requested_by;type:uuid;not null"`
	AuthorizedBy         *uuid.UUID         `gorm:"column:authorized_by;type:uuid"`
	FailureReason        *string            `gorm:"column:failure_reason"`
	IdempotencyKey       *string            `gorm:"column:idempotency_key;unique"`
	Metadata             json.RawMessage    `gorm:"column:metadata;type:jsonb"`
	ProcessedAt          *time.Time         `gorm:"column:processed_at"`
	CreatedAt            time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name independent of gorm pluralization rules.
func (PaymentRefund) TableName() string {
	return "payment_refunds"
}
