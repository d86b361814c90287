package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/iretilight/retailpos-backend/api/responses"
	"github.com/iretilight/retailpos-backend/internal/reconcile"
	"github.com/iretilight/retailpos-backend/internal/webhooks"
	pkgerrors "github.com/iretilight/retailpos-backend/pkg/errors"
	"github.com/iretilight/retailpos-backend/pkg/logger"
)

type signatureVerifier interface {
	Verify(rawBody []byte, signatureHeader string) bool
}

type eventRecorder interface {
	RecordIfNew(ctx context.Context, providerEventID, eventType string, payload json.RawMessage) (webhooks.RecordResult, error)
}

type eventApplier interface {
	ApplyEvent(ctx context.Context, recordID uuid.UUID, payload []byte) (reconcile.ApplyResult, error)
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// HandlerParams collects the dependencies for the provider webhook handler.
type HandlerParams struct {
	Verifier       signatureVerifier
	Store          eventRecorder
	Engine         eventApplier
	Guard          deliveryGuard
	Logger         *logger.Logger
	MaxPayloadSize int64
}

// deliveryEnvelope is the minimal shape a delivery must carry to be recorded.
type deliveryEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Provider ingests provider deliveries. An invalid signature is 401 and a
// malformed envelope 400, both before any write. Once the event is durably
// recorded the handler answers 200 even when applying it failed; the failure
// lives on the webhook row and redelivery stays harmless.
func Provider(params HandlerParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logg := params.Logger

		body := io.Reader(r.Body)
		if params.MaxPayloadSize > 0 {
			body = io.LimitReader(r.Body, params.MaxPayloadSize)
		}
		payload, err := io.ReadAll(body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if !params.Verifier.Verify(payload, r.Header.Get(webhooks.SignatureHeader)) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "signature verification failed"))
			return
		}

		var envelope deliveryEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed event payload"))
			return
		}
		if envelope.ID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event id missing"))
			return
		}

		if logg != nil {
			ctx = logg.WithProviderEventID(ctx, envelope.ID)
		}

		if params.Guard != nil {
			seen, err := params.Guard.CheckAndMark(ctx, envelope.ID)
			if err != nil {
				// Redis down degrades to the durable path.
				if logg != nil {
					logg.Warn(ctx, "dedup fast path unavailable")
				}
			} else if seen {
				responses.WriteSuccess(w, map[string]bool{"duplicate": true})
				return
			}
		}

		record, err := params.Store.RecordIfNew(ctx, envelope.ID, envelope.Type, payload)
		if err != nil {
			releaseGuard(ctx, params.Guard, envelope.ID)
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record event"))
			return
		}
		// A processed duplicate is done. An unprocessed one means an earlier
		// apply never finished, so this redelivery drives it to completion.
		if !record.IsNew && record.Processed {
			responses.WriteSuccess(w, map[string]bool{"duplicate": true})
			return
		}

		result, err := params.Engine.ApplyEvent(ctx, record.RecordID, payload)
		if err != nil {
			// The row is durable, so the delivery is acknowledged regardless.
			// Dropping the fast-path mark lets a redelivery reach the row and
			// retry the apply; the reconcile worker backstops events the
			// provider never resends.
			releaseGuard(ctx, params.Guard, envelope.ID)
			if logg != nil {
				logg.Error(ctx, "apply recorded event", err)
			}
			responses.WriteSuccess(w, map[string]bool{"applied": false})
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("event %s recorded (applied=%t orphan=%t)", envelope.ID, result.Applied, result.Orphan))
		}
		responses.WriteSuccess(w, map[string]bool{"applied": result.Applied})
	}
}

func releaseGuard(ctx context.Context, guard deliveryGuard, eventID string) {
	if guard == nil {
		return
	}
	_ = guard.Delete(ctx, eventID)
}
