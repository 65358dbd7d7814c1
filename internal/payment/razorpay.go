package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/razorpay/razorpay-go"
)

type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayBridge creates Razorpay orders. Amounts are already in the minor
// unit (paise for INR), which is what the orders API expects.
type RazorpayBridge struct {
	orders orderCreator
}

func NewRazorpayBridge(keyID, keySecret string) *RazorpayBridge {
	client := razorpay.NewClient(keyID, keySecret)
	return &RazorpayBridge{orders: client.Order}
}

func (b *RazorpayBridge) CreateChargeIntent(ctx context.Context, appointmentID uuid.UUID, amount int64, currency string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"receipt":  appointmentID.String(),
		"notes": map[string]interface{}{
			"appointment_id": appointmentID.String(),
		},
	}

	// the SDK call is not context aware, so the deadline is honoured here
	type result struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := b.orders.Create(data, nil)
		done <- result{body: body, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrGateway, ctx.Err())
	case res = <-done:
	}
	if res.err != nil {
		return "", fmt.Errorf("%w: create order: %w", ErrGateway, res.err)
	}

	id, ok := res.body["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("%w: order response has no id", ErrGateway)
	}
	return id, nil
}
