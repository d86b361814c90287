package enums

import "fmt"

// RefundStatus tracks the lifecycle of a refund against a ledger entry.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
	RefundStatusCanceled  RefundStatus = "canceled"
)

var validRefundStatuses = []RefundStatus{
	RefundStatusPending,
	RefundStatusSucceeded,
	RefundStatusFailed,
	RefundStatusCanceled,
}

// String implements fmt.Stringer.
func (r RefundStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundStatus.
func (r RefundStatus) IsValid() bool {
	for _, candidate := range validRefundStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the refund can still change state.
func (r RefundStatus) IsTerminal() bool {
	return r != RefundStatusPending
}

// CountsAgainstBalance reports whether the refund reserves part of the
// captured amount. Failed and canceled refunds release their reservation.
func (r RefundStatus) CountsAgainstBalance() bool {
	return r == RefundStatusPending || r == RefundStatusSucceeded
}

// ParseRefundStatus converts raw input into a RefundStatus.
func ParseRefundStatus(value string) (RefundStatus, error) {
	for _, candidate := range validRefundStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund status %q", value)
}
