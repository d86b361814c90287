package controllers

import (
	"net/http"

	"github.com/iretilight/retailpos-backend/api/middleware"
	"github.com/iretilight/retailpos-backend/api/responses"
	"github.com/iretilight/retailpos-backend/api/validators"
	"github.com/iretilight/retailpos-backend/internal/sales"
	"github.com/iretilight/retailpos-backend/pkg/db/models"
	pkgerrors "github.com/iretilight/retailpos-backend/pkg/errors"
	"github.com/iretilight/retailpos-backend/pkg/logger"
)

type beginPaymentRequest struct {
	IdempotencyKey string            `json:"idempotency_key,omitempty" validate:"omitempty,max=255"`
	Metadata       map[string]string `json:"metadata,omitempty" validate:"omitempty,max=20"`
}

type paymentResponse struct {
	ID            string  `json:"id"`
	SaleID        string  `json:"sale_id"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	ClientKey     string  `json:"client_key,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	Reused        bool    `json:"reused,omitempty"`
}

func toPaymentResponse(payment *models.PaymentTransaction, clientKey string, reused bool) paymentResponse {
	return paymentResponse{
		ID:            payment.ID.String(),
		SaleID:        payment.SaleID.String(),
		Amount:        payment.Amount.StringFixed(2),
		Currency:      payment.Currency.String(),
		Status:        payment.Status.String(),
		ClientKey:     clientKey,
		FailureReason: payment.FailureReason,
		Reused:        reused,
	}
}

// BeginPayment opens a collection attempt against a sale and returns the
// client key the card reader needs.
func BeginPayment(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if _, ok := middleware.PrincipalFromContext(ctx); !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "principal required"))
			return
		}

		saleID, err := saleIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req beginPaymentRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		result, err := svc.BeginPayment(ctx, sales.BeginPaymentInput{
			SaleID:         saleID,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Reused {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, toPaymentResponse(result.Payment, result.ClientKey, result.Reused))
	}
}

type paymentStatusResponse struct {
	SaleID        string  `json:"sale_id"`
	Status        string  `json:"status"`
	PaymentID     *string `json:"payment_id,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

// PaymentStatus reports the sale's derived payment status off the latest
// ledger entry.
func PaymentStatus(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		saleID, err := saleIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view, err := svc.DerivedStatus(ctx, saleID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := paymentStatusResponse{
			SaleID:        view.SaleID.String(),
			Status:        view.Status.String(),
			FailureReason: view.FailureReason,
		}
		if view.PaymentID != nil {
			id := view.PaymentID.String()
			resp.PaymentID = &id
		}
		responses.WriteSuccess(w, resp)
	}
}
