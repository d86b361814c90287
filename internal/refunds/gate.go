package refunds

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iretilight/retailpos-backend/pkg/types"
)

// Decision is the gate's verdict on a refund request.
type Decision struct {
	Allowed    bool
	Reason     string
	ApprovedBy *types.Principal
}

// Gate enforces the refund authorization policy: requests at or under the
// threshold pass on the requester's own authority, anything above needs a
// second principal holding an elevated role. Denial is a verdict, not an
// error; callers surface it as a normal response.
type Gate struct {
	threshold decimal.Decimal
}

// NewGate builds an authorization gate with the given threshold.
func NewGate(threshold decimal.Decimal) (*Gate, error) {
	if threshold.IsNegative() {
		return nil, fmt.Errorf("threshold must be non-negative")
	}
	return &Gate{threshold: threshold}, nil
}

// Authorize evaluates one refund request. The approver must be a different
// person than the requester; self-approval is denied regardless of role.
func (g *Gate) Authorize(amount decimal.Decimal, requester types.Principal, approver *types.Principal) Decision {
	if amount.LessThanOrEqual(g.threshold) {
		return Decision{Allowed: true}
	}

	if approver == nil {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("refunds above %s require manager approval", g.threshold.StringFixed(2)),
		}
	}
	if approver.ID == requester.ID {
		return Decision{Allowed: false, Reason: "approver must be a different principal than the requester"}
	}
	if !approver.Role.CanApproveRefunds() {
		return Decision{Allowed: false, Reason: "approver lacks refund authority"}
	}
	return Decision{Allowed: true, ApprovedBy: approver}
}
