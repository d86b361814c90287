package sales

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/iretilight/retailpos-backend/internal/gateway"
	"github.com/iretilight/retailpos-backend/internal/ledger"
	"github.com/iretilight/retailpos-backend/pkg/db/models"
	"github.com/iretilight/retailpos-backend/pkg/enums"
	pkgerrors "github.com/iretilight/retailpos-backend/pkg/errors"
	"github.com/iretilight/retailpos-backend/pkg/logger"
)

const salesSchema = `
CREATE TABLE IF NOT EXISTS sales (
  id TEXT PRIMARY KEY,
  register_reference TEXT NOT NULL UNIQUE,
  total NUMERIC NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  active_payment_id TEXT,
  derived_payment_status TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
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
CREATE UNIQUE INDEX IF NOT EXISTS uniq_payment_transactions_active_sale
  ON payment_transactions (sale_id)
  WHERE status NOT IN ('canceled', 'payment_failed');`

type fakeIntentCreator struct {
	snapshot *gateway.IntentSnapshot
	err      error
	calls    int
	lastKey  string
	onCreate func()
}

func (f *fakeIntentCreator) CreateIntent(_ context.Context, input gateway.CreateIntentInput) (*gateway.IntentSnapshot, error) {
	f.calls++
	f.lastKey = input.IdempotencyKey
	if f.onCreate != nil {
		f.onCreate()
	}
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

type fixture struct {
	svc     Service
	repo    Repository
	ledger  ledger.Repository
	gateway *fakeIntentCreator
	db      *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:sales_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Exec(salesSchema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}

	gw := &fakeIntentCreator{
		snapshot: &gateway.IntentSnapshot{
			ID:           "pi_test",
			Status:       "requires_payment_method",
			ClientSecret: "pi_test_secret",
		},
	}
	repo := NewRepository(db)
	ledgerRepo := ledger.NewRepository(db)

	svc, err := NewService(ServiceParams{
		Repo:    repo,
		Ledger:  ledgerRepo,
		Gateway: gw,
		Tx:      gormTxRunner{db: db},
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &fixture{svc: svc, repo: repo, ledger: ledgerRepo, gateway: gw, db: db}
}

func (f *fixture) seedSale(t *testing.T, total string) *models.Sale {
	t.Helper()
	sale := &models.Sale{
		ID:                uuid.New(),
		RegisterReference: "reg-" + uuid.NewString(),
		Total:             decimal.RequireFromString(total),
		Currency:          enums.CurrencyUSD,
	}
	if err := f.repo.Create(context.Background(), sale); err != nil {
		t.Fatalf("seed sale: %v", err)
	}
	return sale
}

func TestRegisterSaleCreatesAndReturnsExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.RegisterSale(ctx, RegisterSaleInput{
		RegisterReference: "reg-42",
		Total:             "19.99",
		Currency:          "usd",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	again, err := f.svc.RegisterSale(ctx, RegisterSaleInput{
		RegisterReference: "reg-42",
		Total:             "19.99",
		Currency:          "usd",
	})
	if err != nil {
		t.Fatalf("register again: %v", err)
	}
	if again.ID != created.ID {
		t.Fatal("same register reference must resolve to the same sale")
	}
}

func TestRegisterSaleRejectsBadAmount(t *testing.T) {
	f := newFixture(t)
	cases := []string{"", "-5.00", "0", "1.999", "abc"}
	for _, total := range cases {
		_, err := f.svc.RegisterSale(context.Background(), RegisterSaleInput{
			RegisterReference: "reg-bad",
			Total:             total,
			Currency:          "usd",
		})
		appErr := pkgerrors.As(err)
		if appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
			t.Fatalf("total %q: expected validation error, got %v", total, err)
		}
	}
}

func TestBeginPaymentCreatesLedgerEntryAndLinksSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.seedSale(t, "19.99")

	result, err := f.svc.BeginPayment(ctx, BeginPaymentInput{SaleID: sale.ID})
	if err != nil {
		t.Fatalf("begin payment: %v", err)
	}
	if result.Reused {
		t.Fatal("fresh payment must not report reuse")
	}
	if result.ClientKey != "pi_test_secret" {
		t.Fatalf("unexpected client key %s", result.ClientKey)
	}

	stored, err := f.ledger.FindPaymentByID(ctx, result.Payment.ID)
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	if stored.Status != enums.PaymentStatusRequiresPaymentMethod {
		t.Fatalf("unexpected status %s", stored.Status)
	}
	if stored.ProviderIntentID == nil || *stored.ProviderIntentID != "pi_test" {
		t.Fatal("expected provider intent id recorded")
	}

	linked, err := f.repo.FindByID(ctx, sale.ID)
	if err != nil {
		t.Fatalf("find sale: %v", err)
	}
	if linked.ActivePaymentID == nil || *linked.ActivePaymentID != stored.ID {
		t.Fatal("sale must reference the new payment")
	}
	if linked.DerivedPaymentStatus == nil || *linked.DerivedPaymentStatus != stored.Status {
		t.Fatal("derived status must mirror the ledger entry")
	}
}

func TestBeginPaymentRejectsSecondActivePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.seedSale(t, "19.99")

	if _, err := f.svc.BeginPayment(ctx, BeginPaymentInput{SaleID: sale.ID}); err != nil {
		t.Fatalf("first begin: %v", err)
	}

	_, err := f.svc.BeginPayment(ctx, BeginPaymentInput{SaleID: sale.ID})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if f.gateway.calls != 1 {
		t.Fatalf("conflict must be detected before the provider call, got %d calls", f.gateway.calls)
	}
}

func TestBeginPaymentConflictDetectedInsideTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.seedSale(t, "19.99")

	// A competing request claims the active slot after this request's
	// pre-flight check has already passed. The hook fires during the provider
	// call, which sits exactly in that window.
	rivalID := uuid.New()
	f.gateway.onCreate = func() {
		rival := &models.PaymentTransaction{
			ID:       rivalID,
			SaleID:   sale.ID,
			Amount:   sale.Total,
			Currency: sale.Currency,
			Status:   enums.PaymentStatusProcessing,
		}
		if err := f.ledger.CreatePayment(ctx, rival); err != nil {
			t.Fatalf("seed rival: %v", err)
		}
		sale.ActivePaymentID = &rivalID
		if err := f.repo.Update(ctx, sale); err != nil {
			t.Fatalf("claim slot: %v", err)
		}
	}

	_, err := f.svc.BeginPayment(ctx, BeginPaymentInput{SaleID: sale.ID})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}

	latest, err := f.ledger.LatestPaymentBySaleID(ctx, sale.ID)
	if err != nil {
		t.Fatalf("latest payment: %v", err)
	}
	if latest.ID != rivalID {
		t.Fatal("the losing request must not leave a second ledger row")
	}
}

func TestBeginPaymentPersistsMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.seedSale(t, "19.99")

	result, err := f.svc.BeginPayment(ctx, BeginPaymentInput{
		SaleID:   sale.ID,
		Metadata: map[string]string{"register": "front-1"},
	})
	if err != nil {
		t.Fatalf("begin payment: %v", err)
	}

	stored, err := f.ledger.FindPaymentByID(ctx, result.Payment.ID)
	if err != nil {
		t.Fatalf("find payment: %v", err)
	}
	var meta map[string]string
	if err := json.Unmarshal(stored.Metadata, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta["sale_id"] != sale.ID.String() {
		t.Fatalf("ledger entry must carry its owning sale id, got %q", meta["sale_id"])
	}
	if meta["payment_id"] != stored.ID.String() {
		t.Fatalf("ledger entry must carry its own id, got %q", meta["payment_id"])
	}
	if meta["register"] != "front-1" {
		t.Fatalf("caller metadata must be preserved, got %q", meta["register"])
	}
}

func TestBeginPaymentAllowsRetryAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.seedSale(t, "19.99")

	first, err := f.svc.BeginPayment(ctx, BeginPaymentInput{SaleID: sale.ID})
	if err != nil {
		t.Fatalf("first begin: %v", err)
	}
	first.Payment.Status = enums.PaymentStatusFailed
	if err := f.ledger.UpdatePayment(ctx, first.Payment); err != nil {
		t.Fatalf("fail payment: %v", err)
	}

	f.gateway.snapshot.ID = "pi_retry"
	second, err := f.svc.BeginPayment(ctx, BeginPaymentInput{SaleID: sale.ID})
	if err != nil {
		t.Fatalf("retry begin: %v", err)
	}
	if second.Payment.ID == first.Payment.ID {
		t.Fatal("retry must open a fresh ledger entry")
	}
}

func TestBeginPaymentReusesIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.seedSale(t, "19.99")

	first, err := f.svc.BeginPayment(ctx, BeginPaymentInput{SaleID: sale.ID, IdempotencyKey: "op-001"})
	if err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if f.gateway.lastKey != "op-001" {
		t.Fatalf("provider call must carry the caller's key, got %s", f.gateway.lastKey)
	}

	second, err := f.svc.BeginPayment(ctx, BeginPaymentInput{SaleID: sale.ID, IdempotencyKey: "op-001"})
	if err != nil {
		t.Fatalf("replay begin: %v", err)
	}
	if !second.Reused {
		t.Fatal("replay must report reuse")
	}
	if second.Payment.ID != first.Payment.ID {
		t.Fatal("replay must return the original ledger entry")
	}
	if f.gateway.calls != 1 {
		t.Fatalf("replay must not call the provider again, got %d calls", f.gateway.calls)
	}
}

func TestBeginPaymentProviderOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.seedSale(t, "19.99")
	f.gateway.err = &gateway.TransientError{Status: 503}

	_, err := f.svc.BeginPayment(ctx, BeginPaymentInput{SaleID: sale.ID})
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}

	if _, err := f.ledger.LatestPaymentBySaleID(ctx, sale.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatal("no ledger entry may exist after a provider outage")
	}
}

func TestBeginPaymentRollbackLeavesNoRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.seedSale(t, "19.99")

	// A colliding intent id makes the ledger insert fail inside the
	// transaction after the provider call already went through.
	intentID := "pi_test"
	blocker := &models.PaymentTransaction{
		ID:               uuid.New(),
		SaleID:           uuid.New(),
		Amount:           decimal.RequireFromString("1.00"),
		Currency:         enums.CurrencyUSD,
		Status:           enums.PaymentStatusCanceled,
		ProviderIntentID: &intentID,
	}
	if err := f.ledger.CreatePayment(ctx, blocker); err != nil {
		t.Fatalf("seed blocker: %v", err)
	}

	_, err := f.svc.BeginPayment(ctx, BeginPaymentInput{SaleID: sale.ID})
	if err == nil {
		t.Fatal("expected the transaction to fail")
	}
	if f.gateway.calls != 1 {
		t.Fatalf("expected exactly one provider call, got %d", f.gateway.calls)
	}

	if _, err := f.ledger.LatestPaymentBySaleID(ctx, sale.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatal("rolled back payment must leave no ledger row")
	}
	unlinked, err := f.repo.FindByID(ctx, sale.ID)
	if err != nil {
		t.Fatalf("find sale: %v", err)
	}
	if unlinked.ActivePaymentID != nil {
		t.Fatal("rolled back payment must leave the sale unlinked")
	}
}

func TestDerivedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sale := f.seedSale(t, "19.99")

	view, err := f.svc.DerivedStatus(ctx, sale.ID)
	if err != nil {
		t.Fatalf("derived status: %v", err)
	}
	if view.Status != enums.PaymentStatusRequiresPaymentMethod {
		t.Fatalf("sale without payments must read requires_payment_method, got %s", view.Status)
	}
	if view.PaymentID != nil {
		t.Fatal("sale without payments must not reference an entry")
	}

	result, err := f.svc.BeginPayment(ctx, BeginPaymentInput{SaleID: sale.ID})
	if err != nil {
		t.Fatalf("begin payment: %v", err)
	}

	view, err = f.svc.DerivedStatus(ctx, sale.ID)
	if err != nil {
		t.Fatalf("derived status: %v", err)
	}
	if view.PaymentID == nil || *view.PaymentID != result.Payment.ID {
		t.Fatal("view must reference the latest ledger entry")
	}
}
