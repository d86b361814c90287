package refunds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/iretilight/retailpos-backend/internal/gateway"
	"github.com/iretilight/retailpos-backend/internal/ledger"
	"github.com/iretilight/retailpos-backend/pkg/db/models"
	"github.com/iretilight/retailpos-backend/pkg/enums"
	pkgerrors "github.com/iretilight/retailpos-backend/pkg/errors"
	"github.com/iretilight/retailpos-backend/pkg/logger"
	"github.com/iretilight/retailpos-backend/pkg/metrics"
	"github.com/iretilight/retailpos-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type refundDispatcher interface {
	CreateRefund(ctx context.Context, input gateway.CreateRefundInput) (*gateway.RefundSnapshot, error)
}

// RequestInput carries one refund request through the gate. IdempotencyKey is
// the register's logical operation id; retries with the same key return the
// original refund row instead of dispatching a second refund.
type RequestInput struct {
	PaymentID      uuid.UUID
	Amount         string
	Reason         string
	IdempotencyKey string
	Requester      types.Principal
	Approver       *types.Principal
}

// RequestResult reports either a dispatched refund or a gate denial.
type RequestResult struct {
	Refund *models.PaymentRefund
	Denied bool
	Reason string
	Reused bool
}

// Service validates, authorizes and dispatches refunds.
type Service interface {
	RequestRefund(ctx context.Context, input RequestInput) (*RequestResult, error)
	RefundableAmount(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error)
}

type service struct {
	ledger ledger.Service
	gw     refundDispatcher
	gate   *Gate
	tx     txRunner
	logg   *logger.Logger
	met    *metrics.PaymentMetrics
}

// ServiceParams collects the dependencies for NewService.
type ServiceParams struct {
	Ledger  ledger.Service
	Gateway refundDispatcher
	Gate    *Gate
	Tx      txRunner
	Logger  *logger.Logger
	Metrics *metrics.PaymentMetrics
}

func (p ServiceParams) Validate() error {
	if p.Ledger == nil {
		return fmt.Errorf("ledger service is required")
	}
	if p.Gateway == nil {
		return fmt.Errorf("gateway client is required")
	}
	if p.Gate == nil {
		return fmt.Errorf("authorization gate is required")
	}
	if p.Tx == nil {
		return fmt.Errorf("transaction runner is required")
	}
	if p.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// NewService wires the refund service.
func NewService(params ServiceParams) (Service, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &service{
		ledger: params.Ledger,
		gw:     params.Gateway,
		gate:   params.Gate,
		tx:     params.Tx,
		logg:   params.Logger,
		met:    params.Metrics,
	}, nil
}

// RequestRefund runs validation, balance check, the authorization gate, then
// persists the refund row before any provider call. The approving principal
// is on the row before dispatch; a crash between the two leaves a pending
// refund the poller or a retry can resolve, never an unauthorized one.
func (s *service) RequestRefund(ctx context.Context, input RequestInput) (*RequestResult, error) {
	defer func(start time.Time) {
		s.met.ObserveDuration("request_refund", time.Since(start))
	}(time.Now())

	amount, err := parseAmount(input.Amount)
	if err != nil {
		return nil, err
	}
	reason, err := enums.ParseRefundReason(input.Reason)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund reason")
	}
	if input.Requester.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "requesting principal is required")
	}

	if input.IdempotencyKey != "" {
		existing, err := s.ledger.Repo().FindRefundByIdempotencyKey(ctx, input.IdempotencyKey)
		if err == nil {
			if existing.PaymentTransactionID != input.PaymentID {
				return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "idempotency key already used for another payment")
			}
			return &RequestResult{Refund: existing, Reused: true}, nil
		}
		if err != ledger.ErrNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to check idempotency key")
		}
	}

	payment, err := s.ledger.Repo().FindPaymentByID(ctx, input.PaymentID)
	if err != nil {
		if err == ledger.ErrNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load payment")
	}
	if payment.Status != enums.PaymentStatusSucceeded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only succeeded payments can be refunded").
			WithDetails(map[string]string{"status": payment.Status.String()})
	}

	decision := s.gate.Authorize(amount, input.Requester, input.Approver)
	if !decision.Allowed {
		s.incOutcome(metrics.OutcomeDenied)
		s.logg.Warn(s.logg.WithPaymentID(ctx, payment.ID.String()), fmt.Sprintf("refund denied: %s", decision.Reason))
		return &RequestResult{Denied: true, Reason: decision.Reason}, nil
	}

	refund := &models.PaymentRefund{
		ID:                   uuid.New(),
		PaymentTransactionID: payment.ID,
		Amount:               amount,
		Currency:             payment.Currency,
		Reason:               reason,
		Status:               enums.RefundStatusPending,
		RequestedBy:          input.Requester.ID,
	}
	if decision.ApprovedBy != nil {
		approverID := decision.ApprovedBy.ID
		refund.AuthorizedBy = &approverID
	}
	idempotencyKey := input.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = fmt.Sprintf("refund-%s", refund.ID)
	}
	refund.IdempotencyKey = &idempotencyKey

	// Balance check and insert share one transaction, with the payment row
	// locked first: without the lock two concurrent requests both read the
	// same remaining balance and both insert.
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txLedger := s.ledger.WithTx(tx)
		locked, err := txLedger.Repo().FindPaymentByIDForUpdate(ctx, payment.ID)
		if err != nil {
			return err
		}
		if locked.Status != enums.PaymentStatusSucceeded {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only succeeded payments can be refunded").
				WithDetails(map[string]string{"status": locked.Status.String()})
		}
		refundable, err := txLedger.RefundableAmount(ctx, locked)
		if err != nil {
			return err
		}
		if amount.GreaterThan(refundable) {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds refundable balance").
				WithDetails(map[string]string{"refundable": refundable.StringFixed(2)})
		}
		return txLedger.Repo().CreateRefund(ctx, refund)
	})
	if err != nil {
		if appErr := pkgerrors.As(err); appErr != nil {
			return nil, appErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to record refund")
	}

	snapshot, err := s.gw.CreateRefund(ctx, gateway.CreateRefundInput{
		PaymentIntentID: stringValue(payment.ProviderIntentID),
		Amount:          amount,
		Currency:        payment.Currency,
		Reason:          reason,
		Metadata: map[string]string{
			"refund_id":  refund.ID.String(),
			"payment_id": payment.ID.String(),
		},
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		s.incOutcome(metrics.OutcomeFailed)
		if gateway.IsPermanent(err) {
			msg := err.Error()
			if _, terr := s.ledger.TransitionRefund(ctx, refund, enums.RefundStatusFailed, &msg); terr != nil {
				s.logg.Error(ctx, "failed to mark refund failed", terr)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment provider rejected the refund")
		}
		// Transient failure leaves the row pending; the provider side is
		// safe to retry with the same idempotency key.
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unavailable")
	}

	refund.ProviderRefundID = &snapshot.ID
	if mapped, ok := gateway.MapRefundStatus(snapshot.Status); ok && mapped != refund.Status {
		if _, err := s.ledger.TransitionRefund(ctx, refund, mapped, nil); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to update refund status")
		}
	} else if err := s.ledger.Repo().UpdateRefund(ctx, refund); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to store provider refund id")
	}

	s.incOutcome(metrics.OutcomeSucceeded)
	return &RequestResult{Refund: refund}, nil
}

func (s *service) RefundableAmount(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	payment, err := s.ledger.Repo().FindPaymentByID(ctx, paymentID)
	if err != nil {
		if err == ledger.ErrNotFound {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load payment")
	}
	return s.ledger.RefundableAmount(ctx, payment)
}

func (s *service) incOutcome(outcome string) {
	if s.met != nil {
		s.met.IncOutcome("request_refund", outcome)
	}
}

func parseAmount(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "amount is required")
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	if !amount.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if amount.Exponent() < -2 {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "amount precision exceeds two decimal places")
	}
	return amount, nil
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
