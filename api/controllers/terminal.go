package controllers

import (
	"context"
	"net/http"

	"github.com/iretilight/retailpos-backend/api/responses"
	"github.com/iretilight/retailpos-backend/internal/gateway"
	pkgerrors "github.com/iretilight/retailpos-backend/pkg/errors"
	"github.com/iretilight/retailpos-backend/pkg/logger"
)

type connectionTokenIssuer interface {
	CreateConnectionToken(ctx context.Context) (*gateway.ConnectionToken, error)
}

type connectionTokenResponse struct {
	Secret string `json:"secret"`
}

// ConnectionToken passes a short-lived terminal credential through to the
// card reader. The secret is never persisted.
func ConnectionToken(gw connectionTokenIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token, err := gw.CreateConnectionToken(ctx)
		if err != nil {
			if gateway.IsTransient(err) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unavailable"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "connection token rejected"))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, connectionTokenResponse{Secret: token.Secret})
	}
}
