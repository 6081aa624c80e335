package domain_test

import (
	"errors"
	"testing"

	"github.com/dejobratic/orderwatch/internal/orderstatus/domain"
)

func TestOrderStatusIsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   domain.OrderStatus
		terminal bool
	}{
		{name: "created is not terminal", status: domain.StatusCreated, terminal: false},
		{name: "paid is terminal", status: domain.StatusPaid, terminal: true},
		{name: "declined is terminal", status: domain.StatusDeclined, terminal: true},
		{name: "partially refunded is terminal", status: domain.StatusPartiallyRefunded, terminal: true},
		{name: "refunded is terminal", status: domain.StatusRefunded, terminal: true},
		{name: "cancelled is terminal", status: domain.StatusCancelled, terminal: true},
		{name: "expired is terminal", status: domain.StatusExpired, terminal: true},
		{name: "recurrence active is terminal", status: domain.StatusRecurrenceActive, terminal: true},
		{name: "recurrence close is terminal", status: domain.StatusRecurrenceClose, terminal: true},
		{name: "unknown is not terminal", status: domain.OrderStatus("ON_HOLD"), terminal: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("expected IsTerminal() = %v, got %v", tt.terminal, got)
			}
		})
	}
}

func TestParseOrderStatus(t *testing.T) {
	if got := domain.ParseOrderStatus(" paid "); got != domain.StatusPaid {
		t.Errorf("expected %s, got %s", domain.StatusPaid, got)
	}
	if got := domain.ParseOrderStatus("partially_refunded"); got != domain.StatusPartiallyRefunded {
		t.Errorf("expected %s, got %s", domain.StatusPartiallyRefunded, got)
	}
}

func TestStatusPolicyClassify(t *testing.T) {
	unknown := domain.OrderStatus("ON_HOLD")

	t.Run("known statuses ignore the policy", func(t *testing.T) {
		for _, p := range []domain.StatusPolicy{domain.UnknownStatusReject, domain.UnknownStatusTerminal, domain.UnknownStatusPending} {
			terminal, err := p.Classify(domain.StatusCreated)
			if err != nil || terminal {
				t.Errorf("policy %s: expected created to be pending, got terminal=%v err=%v", p, terminal, err)
			}
			terminal, err = p.Classify(domain.StatusPaid)
			if err != nil || !terminal {
				t.Errorf("policy %s: expected paid to be terminal, got terminal=%v err=%v", p, terminal, err)
			}
		}
	})

	t.Run("reject reports unknown status as decoding error", func(t *testing.T) {
		_, err := domain.UnknownStatusReject.Classify(unknown)
		if !errors.Is(err, domain.ErrDecoding) {
			t.Fatalf("expected decoding error, got %v", err)
		}
		if !errors.Is(err, domain.ErrUnknownStatus) {
			t.Errorf("expected ErrUnknownStatus cause, got %v", err)
		}
	})

	t.Run("terminal treats unknown status as final", func(t *testing.T) {
		terminal, err := domain.UnknownStatusTerminal.Classify(unknown)
		if err != nil || !terminal {
			t.Errorf("expected terminal without error, got terminal=%v err=%v", terminal, err)
		}
	})

	t.Run("pending keeps monitoring on unknown status", func(t *testing.T) {
		terminal, err := domain.UnknownStatusPending.Classify(unknown)
		if err != nil || terminal {
			t.Errorf("expected pending without error, got terminal=%v err=%v", terminal, err)
		}
	})

	t.Run("missing status is always a decoding error", func(t *testing.T) {
		_, err := domain.UnknownStatusTerminal.Classify("")
		if !errors.Is(err, domain.ErrMissingStatus) {
			t.Errorf("expected ErrMissingStatus, got %v", err)
		}
	})
}

func TestParseStatusPolicy(t *testing.T) {
	p, err := domain.ParseStatusPolicy("")
	if err != nil || p != domain.UnknownStatusReject {
		t.Errorf("expected default reject policy, got %q err=%v", p, err)
	}

	p, err = domain.ParseStatusPolicy("Pending")
	if err != nil || p != domain.UnknownStatusPending {
		t.Errorf("expected pending policy, got %q err=%v", p, err)
	}

	if _, err := domain.ParseStatusPolicy("sometimes"); err == nil {
		t.Error("expected error for unsupported policy")
	}
}
