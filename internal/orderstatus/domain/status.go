package domain

import (
	"fmt"
	"strings"
)

// OrderStatus captures the lifecycle of a payment order as reported by the provider.
type OrderStatus string

const (
	StatusCreated           OrderStatus = "CREATED"
	StatusPaid              OrderStatus = "PAID"
	StatusDeclined          OrderStatus = "DECLINED"
	StatusPartiallyRefunded OrderStatus = "PARTIALLY_REFUNDED"
	StatusRefunded          OrderStatus = "REFUNDED"
	StatusCancelled         OrderStatus = "CANCELLED"
	StatusExpired           OrderStatus = "EXPIRED"
	StatusRecurrenceActive  OrderStatus = "RECURRENCE_ACTIVE"
	StatusRecurrenceClose   OrderStatus = "RECURRENCE_CLOSE"
)

var knownStatuses = map[OrderStatus]struct{}{
	StatusCreated:           {},
	StatusPaid:              {},
	StatusDeclined:          {},
	StatusPartiallyRefunded: {},
	StatusRefunded:          {},
	StatusCancelled:         {},
	StatusExpired:           {},
	StatusRecurrenceActive:  {},
	StatusRecurrenceClose:   {},
}

// ParseOrderStatus normalizes a wire value. Unknown values are returned as-is
// so that a StatusPolicy can decide what they mean.
func ParseOrderStatus(raw string) OrderStatus {
	return OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
}

// IsKnown reports whether the status is one of the enumerated values.
func (s OrderStatus) IsKnown() bool {
	_, ok := knownStatuses[s]
	return ok
}

// IsTerminal indicates whether monitoring stops once the status is observed.
func (s OrderStatus) IsTerminal() bool {
	return s.IsKnown() && s != StatusCreated
}

// StatusPolicy decides how a status outside the known set is treated.
type StatusPolicy string

const (
	// UnknownStatusReject reports unknown values as decoding errors.
	UnknownStatusReject StatusPolicy = "reject"
	// UnknownStatusTerminal treats unknown values as a terminal success.
	UnknownStatusTerminal StatusPolicy = "terminal"
	// UnknownStatusPending keeps monitoring while an unknown value is reported.
	UnknownStatusPending StatusPolicy = "pending"
)

// ParseStatusPolicy accepts the policy names used in configuration.
func ParseStatusPolicy(raw string) (StatusPolicy, error) {
	switch p := StatusPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return UnknownStatusReject, nil
	case UnknownStatusReject, UnknownStatusTerminal, UnknownStatusPending:
		return p, nil
	default:
		return "", fmt.Errorf("unknown status policy %q", raw)
	}
}

// Classify reports whether the status ends monitoring. It returns a decoding
// error for a missing status, or for an unknown one under UnknownStatusReject.
func (p StatusPolicy) Classify(s OrderStatus) (terminal bool, err error) {
	if s == "" {
		return false, Decoding(ErrMissingStatus)
	}
	if s.IsKnown() {
		return s.IsTerminal(), nil
	}

	switch p {
	case UnknownStatusTerminal:
		return true, nil
	case UnknownStatusPending:
		return false, nil
	default:
		return false, Decoding(fmt.Errorf("%w: %q", ErrUnknownStatus, string(s)))
	}
}
