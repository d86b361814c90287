package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iretilight/retailpos-backend/pkg/enums"
)

// PaymentTransaction is one ledger entry tracking a single payment-collection
// attempt against a sale. Rows are mutated only by the reconciliation engine;
// terminal rows are immutable.
type PaymentTransaction struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SaleID            uuid.UUID           `gorm:"column:sale_id;type:uuid;not null;index"`
	Amount            decimal.Decimal     `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency          enums.Currency      `gorm:"column:currency;not null;default:'usd'"`
	Status            enums.PaymentStatus `gorm:"column:status;not null;default:'requires_payment_method';index:idx_payment_transactions_status_created"`
	ProviderIntentID  *string             `gorm:"column:provider_intent_id;unique"`
	ProviderClientKey *string             `gorm:"column:provider_client_secret"`
	ProviderStatus    *string             `gorm:"column:provider_status"`
	FailureReason     *string             `gorm:"column:failure_reason"`
	IdempotencyKey    *string             `gorm:"column:idempotency_key;unique"`
	Metadata          json.RawMessage     `gorm:"column:metadata;type:jsonb"`
	ProcessedAt       *time.Time          `gorm:"column:processed_at"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime;index:idx_payment_transactions_status_created"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name independent of gorm pluralization rules.
func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}

// Active reports whether the entry still holds the sale's payment slot.
// Canceled and failed entries make room for a retry.
func (p *PaymentTransaction) Active() bool {
	if p == nil {
		return false
	}
	return p.Status != enums.PaymentStatusCanceled && p.Status != enums.PaymentStatusFailed
}
