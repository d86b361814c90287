package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/iretilight/retailpos-backend/api/middleware"
	"github.com/iretilight/retailpos-backend/api/responses"
	"github.com/iretilight/retailpos-backend/api/validators"
	"github.com/iretilight/retailpos-backend/internal/refunds"
	pkgauth "github.com/iretilight/retailpos-backend/pkg/auth"
	"github.com/iretilight/retailpos-backend/pkg/config"
	"github.com/iretilight/retailpos-backend/pkg/db/models"
	pkgerrors "github.com/iretilight/retailpos-backend/pkg/errors"
	"github.com/iretilight/retailpos-backend/pkg/logger"
	"github.com/iretilight/retailpos-backend/pkg/types"
)

type requestRefundRequest struct {
	Amount         string `json:"amount" validate:"required"`
	Reason         string `json:"reason" validate:"required,oneof=duplicate fraudulent requested_by_customer expired_uncaptured_charge"`
	IdempotencyKey string `json:"idempotency_key,omitempty" validate:"omitempty,max=255"`
	// ApproverToken is the approving principal's own bearer token, entered at
	// the register for an over-threshold refund. The approver identity comes
	// from the verified claims, never from client-asserted fields.
	ApproverToken string `json:"approver_token,omitempty"`
}

type refundResponse struct {
	ID            string  `json:"id"`
	PaymentID     string  `json:"payment_id"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	Reason        string  `json:"reason"`
	Status        string  `json:"status"`
	AuthorizedBy  *string `json:"authorized_by,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

type refundDeniedResponse struct {
	Denied bool   `json:"denied"`
	Reason string `json:"reason"`
}

func toRefundResponse(refund *models.PaymentRefund) refundResponse {
	resp := refundResponse{
		ID:            refund.ID.String(),
		PaymentID:     refund.PaymentTransactionID.String(),
		Amount:        refund.Amount.StringFixed(2),
		Currency:      refund.Currency.String(),
		Reason:        refund.Reason.String(),
		Status:        refund.Status.String(),
		FailureReason: refund.FailureReason,
	}
	if refund.AuthorizedBy != nil {
		id := refund.AuthorizedBy.String()
		resp.AuthorizedBy = &id
	}
	return resp
}

// RequestRefund runs the refund through the authorization gate and, when
// allowed, dispatches it to the provider. A gate denial is a 200 with the
// denial reason; the register renders it as a normal outcome.
func RequestRefund(svc refunds.Service, jwtCfg config.JWTConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		principal, ok := middleware.PrincipalFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "principal required"))
			return
		}

		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req requestRefundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := refunds.RequestInput{
			PaymentID:      paymentID,
			Amount:         req.Amount,
			Reason:         req.Reason,
			IdempotencyKey: req.IdempotencyKey,
			Requester:      principal,
		}
		if req.ApproverToken != "" {
			claims, err := pkgauth.ParseAccessToken(jwtCfg, req.ApproverToken)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid approver token"))
				return
			}
			input.Approver = &types.Principal{ID: claims.PrincipalID, Role: claims.Role, Name: claims.Name}
		}

		result, err := svc.RequestRefund(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if result.Denied {
			responses.WriteSuccess(w, refundDeniedResponse{Denied: true, Reason: result.Reason})
			return
		}
		status := http.StatusCreated
		if result.Reused {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, toRefundResponse(result.Refund))
	}
}

func paymentIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "paymentID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id")
	}
	return id, nil
}
