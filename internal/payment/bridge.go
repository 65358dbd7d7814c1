// Package payment talks to the payment gateway. Booking asks a Bridge for a
// charge intent; the gateway later reports the outcome through a signed
// callback that VerifyCallback checks.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrGateway wraps failures reported by, or while reaching, the gateway.
var ErrGateway = errors.New("payment gateway error")

type Bridge interface {
	// CreateChargeIntent registers a charge of amount minor units and returns
	// the gateway's intent id.
	CreateChargeIntent(ctx context.Context, appointmentID uuid.UUID, amount int64, currency string) (string, error)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback reports whether signature is the HMAC of body. An empty
// secret never verifies.
func VerifyCallback(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
