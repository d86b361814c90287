package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iretilight/retailpos-backend/pkg/enums"
)

// Sale is the aggregate root the register subsystem owns. The payment core
// only touches the active-payment reference and the derived payment status;
// line items, receipts and inventory live with the outer application.
type Sale struct {
	ID                   uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RegisterReference    string               `gorm:"column:register_reference;not null;uniqueIndex"`
	Total                decimal.Decimal      `gorm:"column:total;type:numeric(10,2);not null"`
	Currency             enums.Currency       `gorm:"column:currency;not null;default:'usd'"`
	ActivePaymentID      *uuid.UUID           `gorm:"column:active_payment_id;type:uuid"`
	DerivedPaymentStatus *enums.PaymentStatus `gorm:"column:derived_payment_status"`
	CreatedAt            time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name independent of gorm pluralization rules.
func (Sale) TableName() string {
	return "sales"
}
