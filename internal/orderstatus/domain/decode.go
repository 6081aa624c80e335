package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type wireEvent struct {
	Event               string               `json:"event"`
	Order               *Order               `json:"order"`
	Payment             *Payment             `json:"payment"`
	Refunds             []Refund             `json:"refunds"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements"`
}

// DecodeEvent parses a push frame or an order response body. The order object
// and its status are required; every failure is a decoding error.
func DecodeEvent(data []byte) (*OrderStatusEvent, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, Decoding(ErrEmptyBody)
	}

	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, Decoding(fmt.Errorf("unmarshal event: %w", err))
	}

	if wire.Order == nil {
		return nil, Decoding(ErrMissingOrder)
	}

	order := *wire.Order
	order.Status = ParseOrderStatus(string(order.Status))
	if order.Status == "" {
		return nil, Decoding(ErrMissingStatus)
	}

	return &OrderStatusEvent{
		Event:               wire.Event,
		Order:               order,
		Payment:             wire.Payment,
		Refunds:             wire.Refunds,
		PaymentRequirements: wire.PaymentRequirements,
	}, nil
}
