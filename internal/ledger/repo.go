package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iretilight/retailpos-backend/pkg/db/models"
	"github.com/iretilight/retailpos-backend/pkg/enums"
)

// ErrNotFound is returned when a ledger row cannot be located.
var ErrNotFound = errors.New("ledger entry not found")

// Repository manages persistence for payment ledger entries and their refunds.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreatePayment(ctx context.Context, payment *models.PaymentTransaction) error
	FindPaymentByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	FindPaymentByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	FindPaymentByProviderIntentID(ctx context.Context, providerIntentID string) (*models.PaymentTransaction, error)
	FindPaymentByIdempotencyKey(ctx context.Context, key string) (*models.PaymentTransaction, error)
	LatestPaymentBySaleID(ctx context.Context, saleID uuid.UUID) (*models.PaymentTransaction, error)
	UpdatePayment(ctx context.Context, payment *models.PaymentTransaction) error
	ListStaleNonTerminal(ctx context.Context, olderThan time.Time, limit int) ([]models.PaymentTransaction, error)

	CreateRefund(ctx context.Context, refund *models.PaymentRefund) error
	FindRefundByID(ctx context.Context, id uuid.UUID) (*models.PaymentRefund, error)
	FindRefundByProviderID(ctx context.Context, providerRefundID string) (*models.PaymentRefund, error)
	FindRefundByIdempotencyKey(ctx context.Context, key string) (*models.PaymentRefund, error)
	ListRefundsByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentRefund, error)
	UpdateRefund(ctx context.Context, refund *models.PaymentRefund) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindPaymentByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	if err := r.db.WithContext(ctx).First(&payment, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &payment, nil
}

// FindPaymentByIDForUpdate loads a payment holding a row-level write lock for
// the rest of the surrounding transaction, so concurrent balance checks
// against the same payment serialize. SQLite has no FOR UPDATE clause; its
// single-writer transactions provide the equivalent guarantee.
func (r *repository) FindPaymentByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var payment models.PaymentTransaction
	if err := query.First(&payment, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &payment, nil
}

func (r *repository) FindPaymentByProviderIntentID(ctx context.Context, providerIntentID string) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	if err := r.db.WithContext(ctx).
		Where("provider_intent_id = ?", providerIntentID).
		First(&payment).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &payment, nil
}

func (r *repository) FindPaymentByIdempotencyKey(ctx context.Context, key string) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	if err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&payment).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &payment, nil
}

func (r *repository) LatestPaymentBySaleID(ctx context.Context, saleID uuid.UUID) (*models.PaymentTransaction, error) {
	var payment models.PaymentTransaction
	if err := r.db.WithContext(ctx).
		Where("sale_id = ?", saleID).
		Order("created_at DESC").
		First(&payment).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &payment, nil
}

func (r *repository) UpdatePayment(ctx context.Context, payment *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *repository) ListStaleNonTerminal(ctx context.Context, olderThan time.Time, limit int) ([]models.PaymentTransaction, error) {
	terminal := []enums.PaymentStatus{
		enums.PaymentStatusSucceeded,
		enums.PaymentStatusCanceled,
		enums.PaymentStatusFailed,
	}
	var payments []models.PaymentTransaction
	query := r.db.WithContext(ctx).
		Where("status NOT IN ?", terminal).
		Where("updated_at < ?", olderThan).
		Where("provider_intent_id IS NOT NULL").
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) CreateRefund(ctx context.Context, refund *models.PaymentRefund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) FindRefundByID(ctx context.Context, id uuid.UUID) (*models.PaymentRefund, error) {
	var refund models.PaymentRefund
	if err := r.db.WithContext(ctx).First(&refund, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &refund, nil
}

func (r *repository) FindRefundByProviderID(ctx context.Context, providerRefundID string) (*models.PaymentRefund, error) {
	var refund models.PaymentRefund
	if err := r.db.WithContext(ctx).
		Where("provider_refund_id = ?", providerRefundID).
		First(&refund).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &refund, nil
}

func (r *repository) FindRefundByIdempotencyKey(ctx context.Context, key string) (*models.PaymentRefund, error) {
	var refund models.PaymentRefund
	if err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&refund).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &refund, nil
}

func (r *repository) ListRefundsByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentRefund, error) {
	var refunds []models.PaymentRefund
	if err := r.db.WithContext(ctx).
		Where("payment_transaction_id = ?", paymentID).
		Order("created_at ASC").
		Find(&refunds).Error; err != nil {
		return nil, err
	}
	return refunds, nil
}

func (r *repository) UpdateRefund(ctx context.Context, refund *models.PaymentRefund) error {
	return r.db.WithContext(ctx).Save(refund).Error
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
