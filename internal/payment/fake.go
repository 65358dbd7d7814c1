package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FakeBridge issues local intent ids. It backs PAYMENT_PROVIDER=fake and
// the tests; set Err to make every call fail.
type FakeBridge struct {
	mu      sync.Mutex
	Err     error
	intents map[uuid.UUID][]string
}

func NewFakeBridge() *FakeBridge {
	return &FakeBridge{intents: make(map[uuid.UUID][]string)}
}

func (f *FakeBridge) CreateChargeIntent(ctx context.Context, appointmentID uuid.UUID, amount int64, currency string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return "", fmt.Errorf("%w: %w", ErrGateway, f.Err)
	}
	if amount <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrGateway)
	}
	id := "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
	f.intents[appointmentID] = append(f.intents[appointmentID], id)
	return id, nil
}

// Intents returns the intent ids issued for an appointment, oldest first.
func (f *FakeBridge) Intents(appointmentID uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.intents[appointmentID]...)
}

func (f *FakeBridge) SetErr(err error) {
	f.mu.Lock()
	f.Err = err
	f.mu.Unlock()
}
