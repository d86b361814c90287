package gateway

import (
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/iretilight/retailpos-backend/pkg/enums"
)

// IntentSnapshot is the provider's view of a payment intent at one moment.
type IntentSnapshot struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	ClientSecret   string            `json:"client_secret"`
	AmountMinor    int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
	LastError      *IntentError      `json:"last_payment_error"`
	LatestChargeID string            `json:"latest_charge"`
}

// IntentError carries the provider's terminal failure diagnostics.
type IntentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Amount converts the snapshot's minor-unit amount back to a decimal.
func (s *IntentSnapshot) Amount() decimal.Decimal {
	currency, err := enums.ParseCurrency(s.Currency)
	if err != nil {
		currency = enums.CurrencyUSD
	}
	return FromMinorUnits(s.AmountMinor, currency)
}

// RefundSnapshot is the provider's view of a refund.
type RefundSnapshot struct {
	ID              string            `json:"id"`
	Status          string            `json:"status"`
	AmountMinor     int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Reason          string            `json:"reason"`
	PaymentIntentID string            `json:"payment_intent"`
	FailureReason   string            `json:"failure_reason"`
	Metadata        map[string]string `json:"metadata"`
}

// ConnectionToken grants a card reader scoped access to the provider terminal API.
type ConnectionToken struct {
	Secret   string `json:"secret"`
	Location string `json:"location"`
}

// TerminalLocation is a registered physical register location.
type TerminalLocation struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// CreateIntentInput collects everything needed to open a payment intent.
// IdempotencyKey must be derived from the caller's logical operation id so a
// retried network call can never double-charge.
type CreateIntentInput struct {
	Amount         decimal.Decimal
	Currency       enums.Currency
	Metadata       map[string]string
	IdempotencyKey string
}

// CreateRefundInput collects everything needed to dispatch a refund.
type CreateRefundInput struct {
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        enums.Currency
	Reason          enums.RefundReason
	Metadata        map[string]string
	IdempotencyKey  string
}

func intentSnapshot(intent *stripe.PaymentIntent) *IntentSnapshot {
	snapshot := &IntentSnapshot{
		ID:           intent.ID,
		Status:       string(intent.Status),
		ClientSecret: intent.ClientSecret,
		AmountMinor:  intent.Amount,
		Currency:     string(intent.Currency),
		Metadata:     intent.Metadata,
	}
	if intent.LastPaymentError != nil {
		snapshot.LastError = &IntentError{
			Code:    string(intent.LastPaymentError.Code),
			Message: intent.LastPaymentError.Msg,
		}
	}
	if intent.LatestCharge != nil {
		snapshot.LatestChargeID = intent.LatestCharge.ID
	}
	return snapshot
}

func refundSnapshot(providerRefund *stripe.Refund) *RefundSnapshot {
	snapshot := &RefundSnapshot{
		ID:            providerRefund.ID,
		Status:        string(providerRefund.Status),
		AmountMinor:   providerRefund.Amount,
		Currency:      string(providerRefund.Currency),
		Reason:        string(providerRefund.Reason),
		FailureReason: string(providerRefund.FailureReason),
		Metadata:      providerRefund.Metadata,
	}
	if providerRefund.PaymentIntent != nil {
		snapshot.PaymentIntentID = providerRefund.PaymentIntent.ID
	}
	return snapshot
}

// ToMinorUnits converts a decimal amount to the provider's integer minor units.
func ToMinorUnits(amount decimal.Decimal, currency enums.Currency) int64 {
	factor := decimal.NewFromInt(currency.MinorUnitFactor())
	return amount.Mul(factor).Round(0).IntPart()
}

// FromMinorUnits converts provider minor units back to a decimal amount.
func FromMinorUnits(minor int64, currency enums.Currency) decimal.Decimal {
	factor := decimal.NewFromInt(currency.MinorUnitFactor())
	return decimal.NewFromInt(minor).Div(factor)
}
