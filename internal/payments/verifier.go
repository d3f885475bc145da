package payments

import (
	"context"
	"math/rand/v2"
	"time"

	"voice-orchestrator/internal/calls"
)

// Params are the arguments of a payment check, as sent by the voice agent or the API.
type Params struct {
	CustomerID  string  `json:"customer_id"`
	PhoneNumber string  `json:"phone_number"`
	Amount      float64 `json:"amount"`
}

type Result struct {
	Status      calls.PaymentStatus `json:"payment_status"`
	Amount      float64             `json:"amount"`
	PaymentDate *time.Time          `json:"payment_date"`
}

// Verifier decides the payment status of a customer.
type Verifier interface {
	Verify(ctx context.Context, p Params) (Result, error)
}

// MockVerifier reports paid or unpaid at random. There is no real payment backend.
type MockVerifier struct {
	clock func() time.Time
	paid  func() bool
}

func NewMockVerifier() *MockVerifier {
	return &MockVerifier{
		clock: time.Now,
		paid:  func() bool { return rand.IntN(2) == 1 },
	}
}

func (v *MockVerifier) Verify(ctx context.Context, p Params) (Result, error) {
	at := v.clock().UTC()
	status := calls.PaymentStatusUnpaid
	if v.paid() {
		status = calls.PaymentStatusPaid
	}
	return Result{Status: status, Amount: p.Amount, PaymentDate: &at}, nil
}

// StaticVerifier always answers with the same status. Useful in tests and demos.
type StaticVerifier struct {
	Status calls.PaymentStatus
	Err    error
}

func (v StaticVerifier) Verify(ctx context.Context, p Params) (Result, error) {
	if v.Err != nil {
		return Result{}, v.Err
	}
	return Result{Status: v.Status, Amount: p.Amount}, nil
}
