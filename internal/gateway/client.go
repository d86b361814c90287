package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/terminal/connectiontoken"
	terminallocation "github.com/stripe/stripe-go/v84/terminal/location"

	"github.com/iretilight/retailpos-backend/pkg/config"
	"github.com/iretilight/retailpos-backend/pkg/logger"
	"github.com/iretilight/retailpos-backend/pkg/metrics"
)

var errSecretKeyRequired = errors.New("gateway secret key is required")

// Client wraps the provider SDK. It owns idempotency keys, transient-error
// retries, error classification and minor-unit conversion; it holds no
// business state. SDK-internal network retries stay off so the attempt cap
// is governed in one place.
type Client struct {
	terminalLocation string
	retryMaxAttempts uint
	retryInitialWait time.Duration
	retryMaxWait     time.Duration
	logger           *logger.Logger
	met              *metrics.PaymentMetrics
}

// NewClient initializes the provider SDK once with the configured secrets and
// returns a ready client.
func NewClient(cfg config.GatewayConfig, logg *logger.Logger, met *metrics.PaymentMetrics) (*Client, error) {
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errSecretKeyRequired
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	stripe.Key = secretKey
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" && baseURL != stripe.APIURL {
		backendCfg.URL = stripe.String(baseURL)
	}
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg))

	return &Client{
		terminalLocation: cfg.TerminalLocation,
		retryMaxAttempts: cfg.RetryMaxAttempts,
		retryInitialWait: cfg.RetryInitialWait,
		retryMaxWait:     cfg.RetryMaxWait,
		logger:           logg,
		met:              met,
	}, nil
}

// CreateIntent opens a payment intent for the given amount.
func (c *Client) CreateIntent(ctx context.Context, input CreateIntentInput) (*IntentSnapshot, error) {
	if input.Amount.Sign() <= 0 {
		return nil, &PermanentError{Status: http.StatusBadRequest, ProviderMessage: fmt.Sprintf("amount must be positive, got %s", input.Amount)}
	}
	if !input.Currency.IsValid() {
		return nil, &PermanentError{Status: http.StatusBadRequest, ProviderMessage: fmt.Sprintf("unsupported currency %q", input.Currency)}
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(ToMinorUnits(input.Amount, input.Currency)),
		Currency:           stripe.String(input.Currency.String()),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	if input.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(input.IdempotencyKey)
	}
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}

	var intent *stripe.PaymentIntent
	err := c.call(ctx, "create_intent", func() error {
		var callErr error
		intent, callErr = paymentintent.New(params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return intentSnapshot(intent), nil
}

// RetrieveIntent fetches the provider's current view of an intent.
func (c *Client) RetrieveIntent(ctx context.Context, intentID string) (*IntentSnapshot, error) {
	if strings.TrimSpace(intentID) == "" {
		return nil, &PermanentError{Status: http.StatusBadRequest, ProviderMessage: "intent id is required"}
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	var intent *stripe.PaymentIntent
	err := c.call(ctx, "retrieve_intent", func() error {
		var callErr error
		intent, callErr = paymentintent.Get(intentID, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return intentSnapshot(intent), nil
}

// ConfirmIntent confirms an intent with the supplied payment-method reference.
func (c *Client) ConfirmIntent(ctx context.Context, intentID, methodRef, idempotencyKey string) (*IntentSnapshot, error) {
	if strings.TrimSpace(intentID) == "" {
		return nil, &PermanentError{Status: http.StatusBadRequest, ProviderMessage: "intent id is required"}
	}
	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	if methodRef != "" {
		params.PaymentMethod = stripe.String(methodRef)
	}
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}

	var intent *stripe.PaymentIntent
	err := c.call(ctx, "confirm_intent", func() error {
		var callErr error
		intent, callErr = paymentintent.Confirm(intentID, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return intentSnapshot(intent), nil
}

// CaptureIntent captures a manually-captured intent, optionally for a partial
// amount in minor units.
func (c *Client) CaptureIntent(ctx context.Context, intentID string, amountMinor int64, idempotencyKey string) (*IntentSnapshot, error) {
	if strings.TrimSpace(intentID) == "" {
		return nil, &PermanentError{Status: http.StatusBadRequest, ProviderMessage: "intent id is required"}
	}
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if amountMinor > 0 {
		params.AmountToCapture = stripe.Int64(amountMinor)
	}
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}

	var intent *stripe.PaymentIntent
	err := c.call(ctx, "capture_intent", func() error {
		var callErr error
		intent, callErr = paymentintent.Capture(intentID, params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return intentSnapshot(intent), nil
}

// CreateRefund dispatches a refund against a succeeded intent.
func (c *Client) CreateRefund(ctx context.Context, input CreateRefundInput) (*RefundSnapshot, error) {
	if strings.TrimSpace(input.PaymentIntentID) == "" {
		return nil, &PermanentError{Status: http.StatusBadRequest, ProviderMessage: "payment intent id is required"}
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(input.PaymentIntentID),
	}
	params.Context = ctx
	if input.Amount.Sign() > 0 {
		params.Amount = stripe.Int64(ToMinorUnits(input.Amount, input.Currency))
	}
	if input.Reason != "" {
		params.Reason = stripe.String(input.Reason.String())
	}
	if input.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(input.IdempotencyKey)
	}
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}

	var providerRefund *stripe.Refund
	err := c.call(ctx, "create_refund", func() error {
		var callErr error
		providerRefund, callErr = refund.New(params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return refundSnapshot(providerRefund), nil
}

// CreateConnectionToken mints a terminal connection token, scoped to the
// configured location when one is set.
func (c *Client) CreateConnectionToken(ctx context.Context) (*ConnectionToken, error) {
	params := &stripe.TerminalConnectionTokenParams{}
	params.Context = ctx
	if c.terminalLocation != "" {
		params.Location = stripe.String(c.terminalLocation)
	}

	var token *stripe.TerminalConnectionToken
	err := c.call(ctx, "create_connection_token", func() error {
		var callErr error
		token, callErr = connectiontoken.New(params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return &ConnectionToken{Secret: token.Secret, Location: token.Location}, nil
}

// CreateTerminalLocation registers a physical register location with the provider.
func (c *Client) CreateTerminalLocation(ctx context.Context, displayName string, address map[string]string) (*TerminalLocation, error) {
	if strings.TrimSpace(displayName) == "" {
		return nil, &PermanentError{Status: http.StatusBadRequest, ProviderMessage: "display name is required"}
	}
	params := &stripe.TerminalLocationParams{
		DisplayName: stripe.String(displayName),
		Address:     terminalAddress(address),
	}
	params.Context = ctx

	var location *stripe.TerminalLocation
	err := c.call(ctx, "create_terminal_location", func() error {
		var callErr error
		location, callErr = terminallocation.New(params)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return &TerminalLocation{ID: location.ID, DisplayName: location.DisplayName}, nil
}

// call executes one logical API operation with classified retries. Transient
// failures (network errors, 408/429, 5xx) retry with exponential backoff up
// to the configured attempt cap; permanent failures stop immediately. The
// whole operation is timed and counted on the metrics surface.
func (c *Client) call(ctx context.Context, operation string, fn func() error) error {
	attempt := func() error {
		start := time.Now()
		err := fn()
		if c.logger != nil {
			fields := map[string]any{
				"operation":   operation,
				"duration_ms": time.Since(start).Milliseconds(),
				"ok":          err == nil,
			}
			c.logger.Info(c.logger.WithFields(ctx, fields), "gateway request complete")
		}
		if err == nil {
			return nil
		}
		classified := classifyProviderError(err)
		if IsPermanent(classified) {
			return backoff.Permanent(classified)
		}
		return classified
	}

	return c.met.Timed("gateway_"+operation, func() error {
		policy := backoff.NewExponentialBackOff()
		if c.retryInitialWait > 0 {
			policy.InitialInterval = c.retryInitialWait
		}
		if c.retryMaxWait > 0 {
			policy.MaxInterval = c.retryMaxWait
		}
		return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.retryMaxAttempts)), ctx))
	})
}

func classifyProviderError(err error) error {
	var providerErr *stripe.Error
	if errors.As(err, &providerErr) {
		switch {
		case providerErr.HTTPStatusCode == http.StatusRequestTimeout,
			providerErr.HTTPStatusCode == http.StatusTooManyRequests,
			providerErr.HTTPStatusCode >= http.StatusInternalServerError:
			return &TransientError{Status: providerErr.HTTPStatusCode, cause: err}
		default:
			return &PermanentError{
				Status:          providerErr.HTTPStatusCode,
				ProviderCode:    string(providerErr.Code),
				ProviderMessage: providerErr.Msg,
			}
		}
	}
	return &TransientError{cause: err}
}

func terminalAddress(address map[string]string) *stripe.AddressParams {
	if len(address) == 0 {
		return nil
	}
	params := &stripe.AddressParams{}
	if v := address["line1"]; v != "" {
		params.Line1 = stripe.String(v)
	}
	if v := address["line2"]; v != "" {
		params.Line2 = stripe.String(v)
	}
	if v := address["city"]; v != "" {
		params.City = stripe.String(v)
	}
	if v := address["state"]; v != "" {
		params.State = stripe.String(v)
	}
	if v := address["country"]; v != "" {
		params.Country = stripe.String(v)
	}
	if v := address["postal_code"]; v != "" {
		params.PostalCode = stripe.String(v)
	}
	return params
}
