package enums

import "fmt"

// PaymentStatus tracks the lifecycle of a payment ledger entry.
type PaymentStatus string

const (
	PaymentStatusRequiresPaymentMethod PaymentStatus = "requires_payment_method"
	PaymentStatusRequiresConfirmation  PaymentStatus = "requires_confirmation"
	PaymentStatusRequiresAction        PaymentStatus = "requires_action"
	PaymentStatusProcessing            PaymentStatus = "processing"
	PaymentStatusSucceeded             PaymentStatus = "succeeded"
	PaymentStatusCanceled              PaymentStatus = "canceled"
	PaymentStatusFailed                PaymentStatus = "payment_failed"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusRequiresPaymentMethod,
	PaymentStatusRequiresConfirmation,
	PaymentStatusRequiresAction,
	PaymentStatusProcessing,
	PaymentStatusSucceeded,
	PaymentStatusCanceled,
	PaymentStatusFailed,
}

// paymentStatusRanks orders the non-terminal progression. Terminal states share
// the highest rank so that no further transition is ever forward progress.
var paymentStatusRanks = map[PaymentStatus]int{
	PaymentStatusRequiresPaymentMethod: 1,
	PaymentStatusRequiresConfirmation:  2,
	PaymentStatusRequiresAction:        3,
	PaymentStatusProcessing:            4,
	PaymentStatusSucceeded:             5,
	PaymentStatusCanceled:              5,
	PaymentStatusFailed:                5,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are permitted.
func (p PaymentStatus) IsTerminal() bool {
	switch p {
	case PaymentStatusSucceeded, PaymentStatusCanceled, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// Rank returns the position of the status in the forward-only partial order.
func (p PaymentStatus) Rank() int {
	return paymentStatusRanks[p]
}

// CanTransitionTo reports whether moving to next represents forward progress.
// Terminal states accept nothing; equal-rank moves between distinct states are
// rejected so succeeded can never become canceled.
func (p PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if !next.IsValid() {
		return false
	}
	if p.IsTerminal() {
		return false
	}
	return next.Rank() > p.Rank()
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
