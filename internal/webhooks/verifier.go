package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the provider header carrying the webhook signature.
const SignatureHeader = "Provider-Signature"

// Verifier authenticates inbound webhook payloads. The provider signs
// `timestamp + "." + body` with a shared secret and sends
// `t=<unix>,v1=<hex hmac>`; multiple v1 entries appear during secret rotation.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier returns a verifier bound to the shared signing secret.
func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhook signing secret is required")
	}
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}, nil
}

// Verify reports whether the payload is authentic and fresh. Any malformed
// header, signature mismatch or stale timestamp yields false; the caller must
// not process the event on false.
func (v *Verifier) Verify(rawBody []byte, signatureHeader string) bool {
	timestamp, signatures, ok := parseSignatureHeader(signatureHeader)
	if !ok {
		return false
	}

	age := v.now().Sub(time.Unix(timestamp, 0))
	if age > v.tolerance || age < -v.tolerance {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range signatures {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			return true
		}
	}
	return false
}

func parseSignatureHeader(header string) (int64, []string, bool) {
	if header == "" {
		return 0, nil, false
	}

	var timestampRaw string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, nil, false
		}
		switch key {
		case "t":
			timestampRaw = value
		case "v1":
			signatures = append(signatures, value)
		}
	}

	if timestampRaw == "" || len(signatures) == 0 {
		return 0, nil, false
	}
	timestamp, err := strconv.ParseInt(timestampRaw, 10, 64)
	if err != nil {
		return 0, nil, false
	}
	return timestamp, signatures, true
}
