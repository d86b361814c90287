package sales

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/iretilight/retailpos-backend/pkg/errors"
)

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
