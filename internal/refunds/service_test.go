package refunds

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/iretilight/retailpos-backend/internal/gateway"
	"github.com/iretilight/retailpos-backend/internal/ledger"
	"github.com/iretilight/retailpos-backend/pkg/db/models"
	"github.com/iretilight/retailpos-backend/pkg/enums"
	pkgerrors "github.com/iretilight/retailpos-backend/pkg/errors"
	"github.com/iretilight/retailpos-backend/pkg/logger"
	"github.com/iretilight/retailpos-backend/pkg/metrics"
)

const refundsSchema = `
CREATE TABLE IF NOT EXISTS payment_transactions (
  id TEXT PRIMARY KEY,
  sale_id TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  status TEXT NOT NULL DEFAULT 'requires_payment_method',
  provider_intent_id TEXT UNIQUE,
  provider_client_secret TEXT,
  provider_status TEXT,
  failure_reason TEXT,
  idempotency_key TEXT UNIQUE,
  metadata TEXT,
  processed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS payment_refunds (
  id TEXT PRIMARY KEY,
  payment_transaction_id TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  reason TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  provider_refund_id TEXT UNIQUE,
  requested_by TEXT NOT NULL,
  authorized_by TEXT,
  failure_reason TEXT,
  idempotency_key TEXT UNIQUE,
  metadata TEXT,
  processed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`

type fakeRefundDispatcher struct {
	snapshot *gateway.RefundSnapshot
	err      error
	calls    int
	lastKey  string
}

func (f *fakeRefundDispatcher) CreateRefund(_ context.Context, input gateway.CreateRefundInput) (*gateway.RefundSnapshot, error) {
	f.calls++
	f.lastKey = input.IdempotencyKey
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type refundFixture struct {
	svc    Service
	ledger ledger.Repository
	gw     *fakeRefundDispatcher
	db     *gorm.DB
}

func newRefundFixture(t *testing.T, threshold string) *refundFixture {
	t.Helper()
	dsn := "file:refunds_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Exec(refundsSchema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}

	ledgerRepo := ledger.NewRepository(db)
	ledgerSvc, err := ledger.NewService(ledgerRepo)
	if err != nil {
		t.Fatalf("ledger service: %v", err)
	}
	gate := newTestGate(t, threshold)
	gw := &fakeRefundDispatcher{
		snapshot: &gateway.RefundSnapshot{ID: "re_test", Status: "pending"},
	}

	svc, err := NewService(ServiceParams{
		Ledger:  ledgerSvc,
		Gateway: gw,
		Gate:    gate,
		Tx:      gormTxRunner{db: db},
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &refundFixture{svc: svc, ledger: ledgerRepo, gw: gw, db: db}
}

// hookTxRunner fires once right before the service transaction opens,
// standing in for a concurrent request that commits first.
type hookTxRunner struct {
	db     *gorm.DB
	before func()
}

func (r *hookTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if r.before != nil {
		r.before()
		r.before = nil
	}
	return r.db.WithContext(ctx).Transaction(fn)
}

func (f *refundFixture) hookedService(t *testing.T, threshold string, before func()) Service {
	t.Helper()
	ledgerSvc, err := ledger.NewService(f.ledger)
	if err != nil {
		t.Fatalf("ledger service: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Ledger:  ledgerSvc,
		Gateway: f.gw,
		Gate:    newTestGate(t, threshold),
		Tx:      &hookTxRunner{db: f.db, before: before},
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func (f *refundFixture) seedPayment(t *testing.T, status enums.PaymentStatus, amount string) *models.PaymentTransaction {
	t.Helper()
	intentID := "pi_" + uuid.NewString()
	payment := &models.PaymentTransaction{
		ID:               uuid.New(),
		SaleID:           uuid.New(),
		Amount:           decimal.RequireFromString(amount),
		Currency:         enums.CurrencyUSD,
		Status:           status,
		ProviderIntentID: &intentID,
	}
	if err := f.ledger.CreatePayment(context.Background(), payment); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return payment
}

func TestRequestRefundUnderThreshold(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	payment := f.seedPayment(t, enums.PaymentStatusSucceeded, "80.00")

	result, err := f.svc.RequestRefund(ctx, RequestInput{
		PaymentID: payment.ID,
		Amount:    "25.00",
		Reason:    "requested_by_customer",
		Requester: cashier(),
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if result.Denied {
		t.Fatalf("under-threshold refund must pass, denied with %q", result.Reason)
	}

	stored, err := f.ledger.FindRefundByID(ctx, result.Refund.ID)
	if err != nil {
		t.Fatalf("find refund: %v", err)
	}
	if stored.AuthorizedBy != nil {
		t.Fatal("self-authorized refund must carry no approver")
	}
	if stored.ProviderRefundID == nil || *stored.ProviderRefundID != "re_test" {
		t.Fatal("expected provider refund id recorded")
	}
	if f.gw.lastKey != "refund-"+result.Refund.ID.String() {
		t.Fatalf("unexpected idempotency key %s", f.gw.lastKey)
	}
}

func TestRequestRefundAboveThresholdDeniedWithoutApprover(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	payment := f.seedPayment(t, enums.PaymentStatusSucceeded, "400.00")

	result, err := f.svc.RequestRefund(ctx, RequestInput{
		PaymentID: payment.ID,
		Amount:    "250.00",
		Reason:    "requested_by_customer",
		Requester: cashier(),
	})
	if err != nil {
		t.Fatalf("denial is not an error: %v", err)
	}
	if !result.Denied {
		t.Fatal("expected denial")
	}
	if f.gw.calls != 0 {
		t.Fatal("denied refunds must never reach the provider")
	}

	refunds, err := f.ledger.ListRefundsByPaymentID(ctx, payment.ID)
	if err != nil {
		t.Fatalf("list refunds: %v", err)
	}
	if len(refunds) != 0 {
		t.Fatal("denied refunds must leave no row")
	}
}

func TestRequestRefundManagerApprovalRecorded(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	payment := f.seedPayment(t, enums.PaymentStatusSucceeded, "400.00")
	approver := manager()

	result, err := f.svc.RequestRefund(ctx, RequestInput{
		PaymentID: payment.ID,
		Amount:    "250.00",
		Reason:    "requested_by_customer",
		Requester: cashier(),
		Approver:  &approver,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if result.Denied {
		t.Fatalf("approved refund must pass, denied with %q", result.Reason)
	}

	stored, err := f.ledger.FindRefundByID(ctx, result.Refund.ID)
	if err != nil {
		t.Fatalf("find refund: %v", err)
	}
	if stored.AuthorizedBy == nil || *stored.AuthorizedBy != approver.ID {
		t.Fatal("approver must be persisted on the refund row")
	}
}

func TestRequestRefundSelfApprovalDenied(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	payment := f.seedPayment(t, enums.PaymentStatusSucceeded, "400.00")
	requester := manager()

	result, err := f.svc.RequestRefund(ctx, RequestInput{
		PaymentID: payment.ID,
		Amount:    "250.00",
		Reason:    "requested_by_customer",
		Requester: requester,
		Approver:  &requester,
	})
	if err != nil {
		t.Fatalf("denial is not an error: %v", err)
	}
	if !result.Denied {
		t.Fatal("self-approval must be denied")
	}
}

func TestRequestRefundRejectsNonSucceededPayment(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	payment := f.seedPayment(t, enums.PaymentStatusProcessing, "80.00")

	_, err := f.svc.RequestRefund(ctx, RequestInput{
		PaymentID: payment.ID,
		Amount:    "25.00",
		Reason:    "requested_by_customer",
		Requester: cashier(),
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRequestRefundRejectsBalanceOverdraw(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	payment := f.seedPayment(t, enums.PaymentStatusSucceeded, "80.00")

	if _, err := f.svc.RequestRefund(ctx, RequestInput{
		PaymentID: payment.ID,
		Amount:    "60.00",
		Reason:    "requested_by_customer",
		Requester: cashier(),
	}); err != nil {
		t.Fatalf("first refund: %v", err)
	}

	_, err := f.svc.RequestRefund(ctx, RequestInput{
		PaymentID: payment.ID,
		Amount:    "30.00",
		Reason:    "requested_by_customer",
		Requester: cashier(),
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.gw.calls != 1 {
		t.Fatal("overdraw must be caught before the provider call")
	}
}

func TestRequestRefundPermanentGatewayFailure(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	payment := f.seedPayment(t, enums.PaymentStatusSucceeded, "80.00")
	f.gw.err = &gateway.PermanentError{Status: 400, ProviderCode: "charge_already_refunded"}

	_, err := f.svc.RequestRefund(ctx, RequestInput{
		PaymentID: payment.ID,
		Amount:    "25.00",
		Reason:    "requested_by_customer",
		Requester: cashier(),
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	refunds, err := f.ledger.ListRefundsByPaymentID(ctx, payment.ID)
	if err != nil {
		t.Fatalf("list refunds: %v", err)
	}
	if len(refunds) != 1 {
		t.Fatalf("expected one refund row, got %d", len(refunds))
	}
	if refunds[0].Status != enums.RefundStatusFailed {
		t.Fatalf("rejected refund must be marked failed, got %s", refunds[0].Status)
	}
}

func TestRequestRefundTransientGatewayFailureLeavesPending(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	payment := f.seedPayment(t, enums.PaymentStatusSucceeded, "80.00")
	f.gw.err = &gateway.TransientError{Status: 503}

	_, err := f.svc.RequestRefund(ctx, RequestInput{
		PaymentID: payment.ID,
		Amount:    "25.00",
		Reason:    "requested_by_customer",
		Requester: cashier(),
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}

	refunds, err := f.ledger.ListRefundsByPaymentID(ctx, payment.ID)
	if err != nil {
		t.Fatalf("list refunds: %v", err)
	}
	if len(refunds) != 1 || refunds[0].Status != enums.RefundStatusPending {
		t.Fatal("transient failure must leave the refund pending")
	}
}

func TestRequestRefundConcurrentBalanceCheckCannotOverdraw(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	payment := f.seedPayment(t, enums.PaymentStatusSucceeded, "80.00")

	// A rival request commits a 60.00 refund after the outer validation
	// read but before our balance check opens its transaction.
	key := "rival-" + uuid.NewString()
	svc := f.hookedService(t, "100.00", func() {
		rival := &models.PaymentRefund{
			ID:                   uuid.New(),
			PaymentTransactionID: payment.ID,
			Amount:               decimal.RequireFromString("60.00"),
			Currency:             payment.Currency,
			Reason:               enums.RefundReasonRequestedByCustomer,
			Status:               enums.RefundStatusPending,
			RequestedBy:          uuid.New(),
			IdempotencyKey:       &key,
		}
		if err := f.ledger.CreateRefund(ctx, rival); err != nil {
			t.Fatalf("seed rival refund: %v", err)
		}
	})

	_, err := svc.RequestRefund(ctx, RequestInput{
		PaymentID: payment.ID,
		Amount:    "30.00",
		Reason:    "requested_by_customer",
		Requester: cashier(),
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.gw.calls != 0 {
		t.Fatal("overdrawn refund must never reach the provider")
	}

	refunds, err := f.ledger.ListRefundsByPaymentID(ctx, payment.ID)
	if err != nil {
		t.Fatalf("list refunds: %v", err)
	}
	if len(refunds) != 1 {
		t.Fatalf("expected only the rival refund row, got %d", len(refunds))
	}
}

func TestRequestRefundRechecksPaymentStatusInsideTransaction(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	payment := f.seedPayment(t, enums.PaymentStatusSucceeded, "80.00")

	svc := f.hookedService(t, "100.00", func() {
		payment.Status = enums.PaymentStatusCanceled
		if err := f.ledger.UpdatePayment(ctx, payment); err != nil {
			t.Fatalf("cancel payment: %v", err)
		}
	})

	_, err := svc.RequestRefund(ctx, RequestInput{
		PaymentID: payment.ID,
		Amount:    "25.00",
		Reason:    "requested_by_customer",
		Requester: cashier(),
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if f.gw.calls != 0 {
		t.Fatal("canceled payment must never reach the provider")
	}
}

func TestRequestRefundReplayReturnsOriginalRow(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	payment := f.seedPayment(t, enums.PaymentStatusSucceeded, "80.00")

	input := RequestInput{
		PaymentID:      payment.ID,
		Amount:         "25.00",
		Reason:         "requested_by_customer",
		IdempotencyKey: "register-1-op-42",
		Requester:      cashier(),
	}
	first, err := f.svc.RequestRefund(ctx, input)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if first.Reused {
		t.Fatal("first request must not report a reused refund")
	}
	if f.gw.lastKey != "register-1-op-42" {
		t.Fatalf("caller key must reach the provider, got %s", f.gw.lastKey)
	}

	second, err := f.svc.RequestRefund(ctx, input)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Reused {
		t.Fatal("replay must report the refund as reused")
	}
	if second.Refund.ID != first.Refund.ID {
		t.Fatalf("replay returned %s, want %s", second.Refund.ID, first.Refund.ID)
	}
	if f.gw.calls != 1 {
		t.Fatalf("replay must not dispatch again, got %d calls", f.gw.calls)
	}
}

func TestRequestRefundIdempotencyKeyBoundToPayment(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	first := f.seedPayment(t, enums.PaymentStatusSucceeded, "80.00")
	other := f.seedPayment(t, enums.PaymentStatusSucceeded, "80.00")

	if _, err := f.svc.RequestRefund(ctx, RequestInput{
		PaymentID:      first.ID,
		Amount:         "25.00",
		Reason:         "requested_by_customer",
		IdempotencyKey: "register-1-op-7",
		Requester:      cashier(),
	}); err != nil {
		t.Fatalf("first request: %v", err)
	}

	_, err := f.svc.RequestRefund(ctx, RequestInput{
		PaymentID:      other.ID,
		Amount:         "25.00",
		Reason:         "requested_by_customer",
		IdempotencyKey: "register-1-op-7",
		Requester:      cashier(),
	})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRequestRefundRecordsDurationMetric(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	payment := f.seedPayment(t, enums.PaymentStatusSucceeded, "80.00")

	reg := prometheus.NewRegistry()
	ledgerSvc, err := ledger.NewService(f.ledger)
	if err != nil {
		t.Fatalf("ledger service: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Ledger:  ledgerSvc,
		Gateway: f.gw,
		Gate:    newTestGate(t, "100.00"),
		Tx:      gormTxRunner{db: f.db},
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Metrics: metrics.NewPaymentMetrics(reg),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.RequestRefund(ctx, RequestInput{
		PaymentID: payment.ID,
		Amount:    "25.00",
		Reason:    "requested_by_customer",
		Requester: cashier(),
	}); err != nil {
		t.Fatalf("request: %v", err)
	}

	count, err := testutil.GatherAndCount(reg, "payment_operation_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a request_refund duration series, got %d", count)
	}
}

func TestRefundableAmountAfterPartialRefund(t *testing.T) {
	f := newRefundFixture(t, "100.00")
	ctx := context.Background()
	payment := f.seedPayment(t, enums.PaymentStatusSucceeded, "80.00")

	if _, err := f.svc.RequestRefund(ctx, RequestInput{
		PaymentID: payment.ID,
		Amount:    "30.00",
		Reason:    "duplicate",
		Requester: cashier(),
	}); err != nil {
		t.Fatalf("refund: %v", err)
	}

	refundable, err := f.svc.RefundableAmount(ctx, payment.ID)
	if err != nil {
		t.Fatalf("refundable: %v", err)
	}
	if !refundable.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("expected 50.00 refundable, got %s", refundable)
	}
}
