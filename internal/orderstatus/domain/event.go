package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in minor-unit-free decimal form.
type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// Order is the order snapshot carried by every status event.
type Order struct {
	ID              string      `json:"id"`
	ReferenceNumber string      `json:"referenceNumber"`
	Status          OrderStatus `json:"status"`
	TotalAmount     Amount      `json:"totalAmount"`
	CreatedAt       *time.Time  `json:"createdAt,omitempty"`
}

// Payment summarizes the latest payment attempt for an order.
type Payment struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Method    string     `json:"method,omitempty"`
	Amount    Amount     `json:"amount"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Refund describes a single refund issued against an order.
type Refund struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Amount    Amount     `json:"amount"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// PaymentRequirements is present when the customer must act, e.g. complete a challenge.
type PaymentRequirements struct {
	Type        string            `json:"type"`
	RedirectURL string            `json:"redirectUrl,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// OrderStatusEvent is an immutable status observation from either channel.
type OrderStatusEvent struct {
	Event               string               `json:"event,omitempty"`
	Order               Order                `json:"order"`
	Payment             *Payment             `json:"payment,omitempty"`
	Refunds             []Refund             `json:"refunds,omitempty"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements,omitempty"`
}

func (e *OrderStatusEvent) OrderID() string {
	return e.Order.ID
}

func (e *OrderStatusEvent) Status() OrderStatus {
	return e.Order.Status
}

// RequiresAction reports whether the customer has to complete an extra step.
func (e *OrderStatusEvent) RequiresAction() bool {
	return e.PaymentRequirements != nil
}
