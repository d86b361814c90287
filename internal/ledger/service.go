package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/iretilight/retailpos-backend/pkg/db/models"
	"github.com/iretilight/retailpos-backend/pkg/enums"
	pkgerrors "github.com/iretilight/retailpos-backend/pkg/errors"
)

// TransitionResult describes the outcome of a requested status transition.
type TransitionResult struct {
	Changed bool
	From    enums.PaymentStatus
	To      enums.PaymentStatus
}

// Service owns the ledger state machine. All status mutations flow through
// Transition; a request that is not forward progress is an idempotent no-op,
// never an error, so out-of-order event delivery converges.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Repo() Repository

	Transition(ctx context.Context, payment *models.PaymentTransaction, next enums.PaymentStatus, providerStatus, failureReason *string) (TransitionResult, error)
	TransitionRefund(ctx context.Context, refund *models.PaymentRefund, next enums.RefundStatus, failureReason *string) (TransitionResult, error)
	RefundedAmount(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error)
	RefundableAmount(ctx context.Context, payment *models.PaymentTransaction) (decimal.Decimal, error)
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) Repo() Repository {
	return s.repo
}

func (s *service) Transition(ctx context.Context, payment *models.PaymentTransaction, next enums.PaymentStatus, providerStatus, failureReason *string) (TransitionResult, error) {
	if payment == nil {
		return TransitionResult{}, pkgerrors.New(pkgerrors.CodeValidation, "payment is required")
	}
	if !next.IsValid() {
		return TransitionResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment status %q", next))
	}

	result := TransitionResult{From: payment.Status, To: next}
	if payment.Status == next || !payment.Status.CanTransitionTo(next) {
		return result, nil
	}

	payment.Status = next
	if providerStatus != nil {
		payment.ProviderStatus = providerStatus
	}
	if failureReason != nil {
		payment.FailureReason = failureReason
	}
	if next == enums.PaymentStatusSucceeded {
		now := time.Now().UTC()
		payment.ProcessedAt = &now
	}

	if err := s.repo.UpdatePayment(ctx, payment); err != nil {
		return result, err
	}
	result.Changed = true
	return result, nil
}

func (s *service) TransitionRefund(ctx context.Context, refund *models.PaymentRefund, next enums.RefundStatus, failureReason *string) (TransitionResult, error) {
	if refund == nil {
		return TransitionResult{}, pkgerrors.New(pkgerrors.CodeValidation, "refund is required")
	}
	if !next.IsValid() {
		return TransitionResult{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid refund status %q", next))
	}

	result := TransitionResult{}
	if refund.Status.IsTerminal() || refund.Status == next {
		return result, nil
	}

	refund.Status = next
	if failureReason != nil {
		refund.FailureReason = failureReason
	}
	if next == enums.RefundStatusSucceeded {
		now := time.Now().UTC()
		refund.ProcessedAt = &now
	}

	if err := s.repo.UpdateRefund(ctx, refund); err != nil {
		return result, err
	}
	result.Changed = true
	return result, nil
}

// RefundedAmount sums refunds still counting against the captured amount
// (pending reservations included, failed and canceled released).
func (s *service) RefundedAmount(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	refunds, err := s.repo.ListRefundsByPaymentID(ctx, paymentID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, refund := range refunds {
		if refund.Status.CountsAgainstBalance() {
			total = total.Add(refund.Amount)
		}
	}
	return total, nil
}

// RefundableAmount is the remaining balance a new refund may claim. Only
// succeeded entries have captured money to return.
func (s *service) RefundableAmount(ctx context.Context, payment *models.PaymentTransaction) (decimal.Decimal, error) {
	if payment == nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "payment is required")
	}
	if payment.Status != enums.PaymentStatusSucceeded {
		return decimal.Zero, nil
	}
	refunded, err := s.RefundedAmount(ctx, payment.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return payment.Amount.Sub(refunded), nil
}
