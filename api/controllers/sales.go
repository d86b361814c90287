package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/iretilight/retailpos-backend/api/responses"
	"github.com/iretilight/retailpos-backend/api/validators"
	"github.com/iretilight/retailpos-backend/internal/sales"
	"github.com/iretilight/retailpos-backend/pkg/db/models"
	pkgerrors "github.com/iretilight/retailpos-backend/pkg/errors"
	"github.com/iretilight/retailpos-backend/pkg/logger"
)

type registerSaleRequest struct {
	RegisterReference string `json:"register_reference" validate:"required,max=128"`
	Total             string `json:"total" validate:"required"`
	Currency          string `json:"currency" validate:"required,len=3"`
}

type saleResponse struct {
	ID                string  `json:"id"`
	RegisterReference string  `json:"register_reference"`
	Total             string  `json:"total"`
	Currency          string  `json:"currency"`
	PaymentStatus     *string `json:"payment_status,omitempty"`
}

func toSaleResponse(sale *models.Sale) saleResponse {
	resp := saleResponse{
		ID:                sale.ID.String(),
		RegisterReference: sale.RegisterReference,
		Total:             sale.Total.StringFixed(2),
		Currency:          sale.Currency.String(),
	}
	if sale.DerivedPaymentStatus != nil {
		status := sale.DerivedPaymentStatus.String()
		resp.PaymentStatus = &status
	}
	return resp
}

// RegisterSale records a checkout presented for payment. The call is an
// upsert keyed on the register reference so a register retry is harmless.
func RegisterSale(svc sales.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req registerSaleRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sale, err := svc.RegisterSale(ctx, sales.RegisterSaleInput{
			RegisterReference: req.RegisterReference,
			Total:             req.Total,
			Currency:          req.Currency,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toSaleResponse(sale))
	}
}

func saleIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "saleID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid sale id")
	}
	return id, nil
}
