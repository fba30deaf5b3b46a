package domain

import "testing"

func TestOrderStatusTransitions(t *testing.T) {
	legal := []struct {
		from, to OrderStatus
	}{
		{OrderStatusPending, OrderStatusConfirmed},
		{OrderStatusPending, OrderStatusCancelled},
		{OrderStatusPending, OrderStatusRejected},
		{OrderStatusConfirmed, OrderStatusProcessing},
		{OrderStatusConfirmed, OrderStatusCancelled},
		{OrderStatusProcessing, OrderStatusShipped},
		{OrderStatusShipped, OrderStatusCompleted},
		{OrderStatusCompleted, OrderStatusReturned},
	}
	for _, tc := range legal {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("%s -> %s should be legal", tc.from, tc.to)
		}
	}

	illegal := []struct {
		from, to OrderStatus
	}{
		{OrderStatusPending, OrderStatusShipped},
		{OrderStatusPending, OrderStatusCompleted},
		{OrderStatusConfirmed, OrderStatusRejected},
		{OrderStatusProcessing, OrderStatusCancelled},
		{OrderStatusShipped, OrderStatusCancelled},
		{OrderStatusCompleted, OrderStatusPending},
		{OrderStatusCancelled, OrderStatusPending},
		{OrderStatusCancelled, OrderStatusConfirmed},
		{OrderStatusRejected, OrderStatusConfirmed},
		{OrderStatusReturned, OrderStatusCompleted},
		{OrderStatusShipped, OrderStatusShipped},
	}
	for _, tc := range illegal {
		if tc.from.CanTransitionTo(tc.to) {
			t.Errorf("%s -> %s should be illegal", tc.from, tc.to)
		}
	}
}

func TestOrderStatusValid(t *testing.T) {
	for _, s := range []OrderStatus{
		OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled,
		OrderStatusRejected, OrderStatusReturned,
	} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}

	for _, s := range []OrderStatus{"", "unknown", "PENDING", "shipped "} {
		if s.Valid() {
			t.Errorf("%q should be invalid", s)
		}
	}
}
