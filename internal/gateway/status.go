package gateway

import "github.com/iretilight/retailpos-backend/pkg/enums"

// intentStatusMap translates the provider's intent status vocabulary into the
// internal ledger vocabulary. Both sides use the same words today; keeping the
// table explicit means a provider rename cannot silently corrupt the ledger.
var intentStatusMap = map[string]enums.PaymentStatus{
	"requires_payment_method": enums.PaymentStatusRequiresPaymentMethod,
	"requires_confirmation":   enums.PaymentStatusRequiresConfirmation,
	"requires_action":         enums.PaymentStatusRequiresAction,
	"requires_capture":        enums.PaymentStatusProcessing,
	"processing":              enums.PaymentStatusProcessing,
	"succeeded":               enums.PaymentStatusSucceeded,
	"canceled":                enums.PaymentStatusCanceled,
}

// MapIntentStatus resolves a provider intent status to the internal ledger
// status. The second return is false for statuses outside the known table.
func MapIntentStatus(providerStatus string) (enums.PaymentStatus, bool) {
	status, ok := intentStatusMap[providerStatus]
	return status, ok
}

var refundStatusMap = map[string]enums.RefundStatus{
	"pending":         enums.RefundStatusPending,
	"requires_action": enums.RefundStatusPending,
	"succeeded":       enums.RefundStatusSucceeded,
	"failed":          enums.RefundStatusFailed,
	"canceled":        enums.RefundStatusCanceled,
}

// MapRefundStatus resolves a provider refund status to the internal vocabulary.
func MapRefundStatus(providerStatus string) (enums.RefundStatus, bool) {
	status, ok := refundStatusMap[providerStatus]
	return status, ok
}
