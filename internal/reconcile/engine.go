package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iretilight/retailpos-backend/internal/gateway"
	"github.com/iretilight/retailpos-backend/internal/ledger"
	"github.com/iretilight/retailpos-backend/internal/sales"
	"github.com/iretilight/retailpos-backend/internal/webhooks"
	"github.com/iretilight/retailpos-backend/pkg/db/models"
	"github.com/iretilight/retailpos-backend/pkg/enums"
	pkgerrors "github.com/iretilight/retailpos-backend/pkg/errors"
	"github.com/iretilight/retailpos-backend/pkg/logger"
	"github.com/iretilight/retailpos-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type intentRetriever interface {
	RetrieveIntent(ctx context.Context, intentID string) (*gateway.IntentSnapshot, error)
}

// ApplyResult reports what a delivery did to the ledger.
type ApplyResult struct {
	Applied bool
	Orphan  bool
	Skipped bool
}

// Engine folds provider state back into the ledger. Every mutation path runs
// inside one transaction covering the ledger entry, the sale's derived status
// and the webhook record, so a crash can never leave them disagreeing.
type Engine struct {
	ledger ledger.Service
	sales  sales.Repository
	events webhooks.Store
	gw     intentRetriever
	tx     txRunner
	logg   *logger.Logger
	met    *metrics.PaymentMetrics
}

// EngineParams collects the dependencies for NewEngine.
type EngineParams struct {
	Ledger  ledger.Service
	Sales   sales.Repository
	Events  webhooks.Store
	Gateway intentRetriever
	Tx      txRunner
	Logger  *logger.Logger
	Metrics *metrics.PaymentMetrics
}

func (p EngineParams) Validate() error {
	if p.Ledger == nil {
		return fmt.Errorf("ledger service is required")
	}
	if p.Sales == nil {
		return fmt.Errorf("sale repository is required")
	}
	if p.Events == nil {
		return fmt.Errorf("webhook store is required")
	}
	if p.Tx == nil {
		return fmt.Errorf("transaction runner is required")
	}
	if p.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// NewEngine wires a reconciliation engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		ledger: params.Ledger,
		sales:  params.Sales,
		events: params.Events,
		gw:     params.Gateway,
		tx:     params.Tx,
		logg:   params.Logger,
		met:    params.Metrics,
	}, nil
}

// eventEnvelope is the provider's webhook wrapper.
type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// intentObject carries the fields the engine reads off intent and charge
// payloads. Charges reference their intent through payment_intent.
type intentObject struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PaymentIntent string               `json:"payment_intent"`
	LastError     *gateway.IntentError `json:"last_payment_error"`
	FailureMsg    string               `json:"failure_message"`
}

type refundObject struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PaymentIntent string `json:"payment_intent"`
	FailureReason string `json:"failure_reason"`
}

// ApplyEvent reconciles one recorded delivery. Malformed payloads and orphan
// references are recorded on the webhook row and reported in the result; only
// infrastructure failures return an error, so the HTTP handler can keep
// acknowledging deliveries the provider should not resend.
func (e *Engine) ApplyEvent(ctx context.Context, recordID uuid.UUID, payload []byte) (ApplyResult, error) {
	defer func(start time.Time) {
		e.met.ObserveDuration("apply_event", time.Since(start))
	}(time.Now())

	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return e.recordFailure(ctx, recordID, ApplyResult{Skipped: true}, fmt.Sprintf("malformed payload: %v", err))
	}

	ctx = e.logg.WithProviderEventID(ctx, envelope.ID)

	switch {
	case strings.HasPrefix(envelope.Type, "payment_intent."):
		return e.applyIntentEvent(ctx, recordID, envelope)
	case strings.HasPrefix(envelope.Type, "charge."):
		return e.applyChargeEvent(ctx, recordID, envelope)
	case strings.HasPrefix(envelope.Type, "refund."):
		return e.applyRefundEvent(ctx, recordID, envelope)
	default:
		e.logg.Info(ctx, fmt.Sprintf("ignoring unhandled event type %s", envelope.Type))
		e.incWebhook(envelope.Type, "ignored")
		if err := e.events.MarkProcessed(ctx, recordID, nil); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Skipped: true}, nil
	}
}

func (e *Engine) applyIntentEvent(ctx context.Context, recordID uuid.UUID, envelope eventEnvelope) (ApplyResult, error) {
	var object intentObject
	if err := json.Unmarshal(envelope.Data.Object, &object); err != nil || object.ID == "" {
		return e.recordFailure(ctx, recordID, ApplyResult{Skipped: true}, "malformed intent object")
	}

	target, ok := gateway.MapIntentStatus(object.Status)
	if !ok {
		e.logg.Warn(ctx, fmt.Sprintf("unknown provider intent status %q", object.Status))
		e.incWebhook(envelope.Type, "ignored")
		if err := e.events.MarkProcessed(ctx, recordID, nil); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Skipped: true}, nil
	}

	return e.transitionPayment(ctx, recordID, envelope.Type, object.ID, target, &object.Status, intentFailureReason(object))
}

func (e *Engine) applyChargeEvent(ctx context.Context, recordID uuid.UUID, envelope eventEnvelope) (ApplyResult, error) {
	var object intentObject
	if err := json.Unmarshal(envelope.Data.Object, &object); err != nil || object.PaymentIntent == "" {
		return e.recordFailure(ctx, recordID, ApplyResult{Skipped: true}, "charge payload missing intent reference")
	}

	var target enums.PaymentStatus
	switch envelope.Type {
	case "charge.succeeded", "charge.captured":
		target = enums.PaymentStatusSucceeded
	case "charge.failed":
		target = enums.PaymentStatusFailed
	default:
		e.incWebhook(envelope.Type, "ignored")
		if err := e.events.MarkProcessed(ctx, recordID, nil); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Skipped: true}, nil
	}

	return e.transitionPayment(ctx, recordID, envelope.Type, object.PaymentIntent, target, nil, intentFailureReason(object))
}

func (e *Engine) applyRefundEvent(ctx context.Context, recordID uuid.UUID, envelope eventEnvelope) (ApplyResult, error) {
	var object refundObject
	if err := json.Unmarshal(envelope.Data.Object, &object); err != nil || object.ID == "" {
		return e.recordFailure(ctx, recordID, ApplyResult{Skipped: true}, "malformed refund object")
	}

	target, ok := gateway.MapRefundStatus(object.Status)
	if !ok {
		e.incWebhook(envelope.Type, "ignored")
		if err := e.events.MarkProcessed(ctx, recordID, nil); err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Skipped: true}, nil
	}

	result := ApplyResult{}
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txLedger := e.ledger.WithTx(tx)
		refund, err := txLedger.Repo().FindRefundByProviderID(ctx, object.ID)
		if err != nil {
			if err == ledger.ErrNotFound {
				result.Orphan = true
				return nil
			}
			return err
		}

		var failureReason *string
		if object.FailureReason != "" {
			failureReason = &object.FailureReason
		}
		transition, err := txLedger.TransitionRefund(ctx, refund, target, failureReason)
		if err != nil {
			return err
		}
		result.Applied = transition.Changed
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	if result.Orphan {
		return e.recordFailure(ctx, recordID, result, fmt.Sprintf("orphan refund reference %s", object.ID))
	}
	e.incWebhook(envelope.Type, "applied")
	if err := e.events.MarkProcessed(ctx, recordID, nil); err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

func (e *Engine) transitionPayment(ctx context.Context, recordID uuid.UUID, eventType, intentID string, target enums.PaymentStatus, providerStatus, failureReason *string) (ApplyResult, error) {
	result := ApplyResult{}
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txLedger := e.ledger.WithTx(tx)
		payment, err := txLedger.Repo().FindPaymentByProviderIntentID(ctx, intentID)
		if err != nil {
			if err == ledger.ErrNotFound {
				result.Orphan = true
				return nil
			}
			return err
		}

		transition, err := txLedger.Transition(ctx, payment, target, providerStatus, failureReason)
		if err != nil {
			return err
		}
		result.Applied = transition.Changed
		if !transition.Changed {
			return nil
		}
		return e.updateDerivedStatus(ctx, tx, payment)
	})
	if err != nil {
		return ApplyResult{}, err
	}

	if result.Orphan {
		return e.recordFailure(ctx, recordID, result, fmt.Sprintf("orphan intent reference %s", intentID))
	}

	outcome := "skipped"
	if result.Applied {
		outcome = "applied"
	}
	e.incWebhook(eventType, outcome)
	if err := e.events.MarkProcessed(ctx, recordID, nil); err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

// SyncIntent pulls the provider's current view of an intent and folds it into
// the ledger through the same table webhook events use. Used by the poller
// for entries that stopped receiving deliveries.
func (e *Engine) SyncIntent(ctx context.Context, payment *models.PaymentTransaction) (ApplyResult, error) {
	if e.gw == nil {
		return ApplyResult{}, pkgerrors.New(pkgerrors.CodeInternal, "gateway client not configured")
	}
	if payment == nil || payment.ProviderIntentID == nil {
		return ApplyResult{Skipped: true}, nil
	}

	snapshot, err := e.gw.RetrieveIntent(ctx, *payment.ProviderIntentID)
	if err != nil {
		return ApplyResult{}, err
	}

	target, ok := gateway.MapIntentStatus(snapshot.Status)
	if !ok {
		return ApplyResult{Skipped: true}, nil
	}

	var failureReason *string
	if snapshot.LastError != nil && snapshot.LastError.Message != "" {
		failureReason = &snapshot.LastError.Message
	}

	result := ApplyResult{}
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txLedger := e.ledger.WithTx(tx)
		fresh, err := txLedger.Repo().FindPaymentByID(ctx, payment.ID)
		if err != nil {
			return err
		}
		transition, err := txLedger.Transition(ctx, fresh, target, &snapshot.Status, failureReason)
		if err != nil {
			return err
		}
		result.Applied = transition.Changed
		if !transition.Changed {
			return nil
		}
		return e.updateDerivedStatus(ctx, tx, fresh)
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

// updateDerivedStatus mirrors the latest ledger status onto the sale and
// frees the active slot when the entry lands on a failed terminal state.
func (e *Engine) updateDerivedStatus(ctx context.Context, tx *gorm.DB, payment *models.PaymentTransaction) error {
	txSales := e.sales.WithTx(tx)
	sale, err := txSales.FindByID(ctx, payment.SaleID)
	if err != nil {
		if err == sales.ErrNotFound {
			return nil
		}
		return err
	}

	status := payment.Status
	sale.DerivedPaymentStatus = &status
	if !payment.Active() && sale.ActivePaymentID != nil && *sale.ActivePaymentID == payment.ID {
		sale.ActivePaymentID = nil
	}
	return txSales.Update(ctx, sale)
}

func (e *Engine) recordFailure(ctx context.Context, recordID uuid.UUID, result ApplyResult, reason string) (ApplyResult, error) {
	e.logg.Warn(ctx, reason)
	e.incWebhook("unresolved", "error")
	if err := e.events.MarkProcessed(ctx, recordID, &reason); err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

func (e *Engine) incWebhook(eventType, outcome string) {
	if e.met != nil {
		e.met.IncWebhookEvent(eventType, outcome)
	}
}

func intentFailureReason(object intentObject) *string {
	if object.LastError != nil && object.LastError.Message != "" {
		return &object.LastError.Message
	}
	if object.FailureMsg != "" {
		return &object.FailureMsg
	}
	return nil
}
