package sales

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iretilight/retailpos-backend/internal/gateway"
	"github.com/iretilight/retailpos-backend/internal/ledger"
	"github.com/iretilight/retailpos-backend/pkg/db/models"
	"github.com/iretilight/retailpos-backend/pkg/enums"
	pkgerrors "github.com/iretilight/retailpos-backend/pkg/errors"
	"github.com/iretilight/retailpos-backend/pkg/logger"
	"github.com/iretilight/retailpos-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type intentCreator interface {
	CreateIntent(ctx context.Context, input gateway.CreateIntentInput) (*gateway.IntentSnapshot, error)
}

// Service links sales with payment ledger entries.
type Service interface {
	RegisterSale(ctx context.Context, input RegisterSaleInput) (*models.Sale, error)
	BeginPayment(ctx context.Context, input BeginPaymentInput) (*BeginPaymentResult, error)
	DerivedStatus(ctx context.Context, saleID uuid.UUID) (*PaymentStatusView, error)
}

// RegisterSaleInput captures a register checkout presented for payment.
type RegisterSaleInput struct {
	RegisterReference string
	Total             string
	Currency          string
}

// BeginPaymentInput opens a collection attempt for a sale. IdempotencyKey is
// the register's logical operation id; retries with the same key return the
// original ledger entry instead of opening a second intent.
type BeginPaymentInput struct {
	SaleID         uuid.UUID
	IdempotencyKey string
	Metadata       map[string]string
}

// BeginPaymentResult returns the ledger entry plus the client key the card
// reader needs to collect the payment method.
type BeginPaymentResult struct {
	Payment   *models.PaymentTransaction
	ClientKey string
	Reused    bool
}

// PaymentStatusView is the register-facing read model for a sale's payment.
type PaymentStatusView struct {
	SaleID        uuid.UUID
	Status        enums.PaymentStatus
	PaymentID     *uuid.UUID
	FailureReason *string
}

type service struct {
	repo    Repository
	ledger  ledger.Repository
	gateway intentCreator
	tx      txRunner
	logg    *logger.Logger
	met     *metrics.PaymentMetrics
}

// ServiceParams collects the dependencies for NewService.
type ServiceParams struct {
	Repo    Repository
	Ledger  ledger.Repository
	Gateway intentCreator
	Tx      txRunner
	Logger  *logger.Logger
	Metrics *metrics.PaymentMetrics
}

func (p ServiceParams) Validate() error {
	if p.Repo == nil {
		return fmt.Errorf("sale repository is required")
	}
	if p.Ledger == nil {
		return fmt.Errorf("ledger repository is required")
	}
	if p.Gateway == nil {
		return fmt.Errorf("gateway client is required")
	}
	if p.Tx == nil {
		return fmt.Errorf("transaction runner is required")
	}
	if p.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// NewService wires the sale-payment linker.
func NewService(params ServiceParams) (Service, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &service{
		repo:    params.Repo,
		ledger:  params.Ledger,
		gateway: params.Gateway,
		tx:      params.Tx,
		logg:    params.Logger,
		met:     params.Metrics,
	}, nil
}

func (s *service) RegisterSale(ctx context.Context, input RegisterSaleInput) (*models.Sale, error) {
	if input.RegisterReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "register reference is required")
	}
	total, err := parseAmount(input.Total)
	if err != nil {
		return nil, err
	}
	currency, err := enums.ParseCurrency(input.Currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
	}

	existing, err := s.repo.FindByRegisterReference(ctx, input.RegisterReference)
	if err == nil {
		return existing, nil
	}
	if err != ErrNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load sale")
	}

	sale := &models.Sale{
		ID:                uuid.New(),
		RegisterReference: input.RegisterReference,
		Total:             total,
		Currency:          currency,
	}
	if err := s.repo.Create(ctx, sale); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to create sale")
	}
	return sale, nil
}

// BeginPayment opens a provider intent and records the ledger entry and the
// sale link in a single transaction. A transaction failure after the intent
// was opened leaves no local rows; the unreferenced intent times out on the
// provider side and is swept by the reconcile worker's orphan policy.
func (s *service) BeginPayment(ctx context.Context, input BeginPaymentInput) (*BeginPaymentResult, error) {
	defer func(start time.Time) {
		s.met.ObserveDuration("begin_payment", time.Since(start))
	}(time.Now())

	sale, err := s.repo.FindByID(ctx, input.SaleID)
	if err != nil {
		if err == ErrNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sale not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load sale")
	}

	if input.IdempotencyKey != "" {
		existing, err := s.ledger.FindPaymentByIdempotencyKey(ctx, input.IdempotencyKey)
		if err == nil {
			clientKey := ""
			if existing.ProviderClientKey != nil {
				clientKey = *existing.ProviderClientKey
			}
			return &BeginPaymentResult{Payment: existing, ClientKey: clientKey, Reused: true}, nil
		}
		if err != ledger.ErrNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to check idempotency key")
		}
	}

	// Checked before opening an intent so the common conflict costs no
	// provider call. The transaction below re-checks under a sale lock; this
	// read alone cannot exclude a concurrent request.
	latest, err := s.ledger.LatestPaymentBySaleID(ctx, input.SaleID)
	if err != nil && err != ledger.ErrNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load ledger entries")
	}
	if err == nil && latest.Active() {
		return nil, activePaymentConflict(latest)
	}

	paymentID := uuid.New()
	intentKey := input.IdempotencyKey
	if intentKey == "" {
		intentKey = fmt.Sprintf("pay-%s", paymentID)
	}

	metadata := map[string]string{
		"sale_id":    sale.ID.String(),
		"payment_id": paymentID.String(),
	}
	for k, v := range input.Metadata {
		metadata[k] = v
	}

	snapshot, err := s.gateway.CreateIntent(ctx, gateway.CreateIntentInput{
		Amount:         sale.Total,
		Currency:       sale.Currency,
		Metadata:       metadata,
		IdempotencyKey: intentKey,
	})
	if err != nil {
		s.incOutcome(metrics.OutcomeFailed)
		if gateway.IsTransient(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unavailable")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment provider rejected the request")
	}

	status := enums.PaymentStatusRequiresPaymentMethod
	if mapped, ok := gateway.MapIntentStatus(snapshot.Status); ok {
		status = mapped
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to encode payment metadata")
	}

	payment := &models.PaymentTransaction{
		ID:               paymentID,
		SaleID:           sale.ID,
		Amount:           sale.Total,
		Currency:         sale.Currency,
		Status:           status,
		ProviderIntentID: &snapshot.ID,
		ProviderStatus:   &snapshot.Status,
		IdempotencyKey:   &intentKey,
		Metadata:         metadataJSON,
	}
	if snapshot.ClientSecret != "" {
		payment.ProviderClientKey = &snapshot.ClientSecret
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		txLedger := s.ledger.WithTx(tx)

		// Re-check under the sale lock: a concurrent request may have claimed
		// the active slot between the read above and this transaction.
		locked, err := txRepo.FindByIDForUpdate(ctx, sale.ID)
		if err != nil {
			return fmt.Errorf("lock sale: %w", err)
		}
		current, err := txLedger.LatestPaymentBySaleID(ctx, sale.ID)
		if err != nil && err != ledger.ErrNotFound {
			return fmt.Errorf("re-check ledger entries: %w", err)
		}
		if err == nil && current.Active() {
			return activePaymentConflict(current)
		}

		if err := txLedger.CreatePayment(ctx, payment); err != nil {
			return fmt.Errorf("create ledger entry: %w", err)
		}
		locked.ActivePaymentID = &payment.ID
		locked.DerivedPaymentStatus = &payment.Status
		if err := txRepo.Update(ctx, locked); err != nil {
			return fmt.Errorf("link sale: %w", err)
		}
		*sale = *locked
		return nil
	})
	if err != nil {
		s.incOutcome(metrics.OutcomeFailed)
		s.logg.Error(s.logg.WithSaleID(ctx, sale.ID.String()), "begin payment rolled back, intent left unreferenced", err)
		if appErr := pkgerrors.As(err); appErr != nil {
			return nil, appErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to record payment")
	}

	s.incOutcome(metrics.OutcomeSucceeded)
	return &BeginPaymentResult{Payment: payment, ClientKey: snapshot.ClientSecret}, nil
}

func (s *service) DerivedStatus(ctx context.Context, saleID uuid.UUID) (*PaymentStatusView, error) {
	sale, err := s.repo.FindByID(ctx, saleID)
	if err != nil {
		if err == ErrNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sale not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load sale")
	}

	view := &PaymentStatusView{SaleID: sale.ID, Status: enums.PaymentStatusRequiresPaymentMethod}
	latest, err := s.ledger.LatestPaymentBySaleID(ctx, saleID)
	if err != nil {
		if err == ledger.ErrNotFound {
			return view, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load ledger entries")
	}

	view.Status = latest.Status
	view.PaymentID = &latest.ID
	view.FailureReason = latest.FailureReason
	return view, nil
}

func (s *service) incOutcome(outcome string) {
	if s.met != nil {
		s.met.IncOutcome("begin_payment", outcome)
	}
}

func activePaymentConflict(payment *models.PaymentTransaction) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "sale already has an active payment").
		WithDetails(map[string]string{"payment_id": payment.ID.String(), "status": payment.Status.String()})
}
