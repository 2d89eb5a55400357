package model

import (
	"errors"
	"testing"
)

func TestCanTransitionForwardOnly(t *testing.T) {
	allowed := []struct{ from, next OrderStatus }{
		{OrderDraft, OrderConfirmed},
		{OrderDraft, OrderPreparing},
		{OrderConfirmed, OrderPreparing},
		{OrderPreparing, OrderOutForDelivery},
		{OrderOutForDelivery, OrderDelivered},
		{OrderDelivered, OrderRated},
		{OrderDraft, OrderCancelled},
		{OrderConfirmed, OrderCancelled},
		{OrderOutForDelivery, OrderCancelled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.next) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tc.from, tc.next)
		}
	}

	denied := []struct{ from, next OrderStatus }{
		{OrderConfirmed, OrderDraft},
		{OrderDelivered, OrderPreparing},
		{OrderCancelled, OrderConfirmed},
		{OrderCancelled, OrderCancelled},
		{OrderDelivered, OrderCancelled},
		{OrderRated, OrderCancelled},
		{OrderPreparing, OrderPreparing},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.next) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tc.from, tc.next)
		}
	}
}

func TestSubtotal(t *testing.T) {
	o := &Order{Items: []OrderItem{
		{ItemID: "item_1", Quantity: 2, UnitPrice: 1500},
		{ItemID: "item_2", Quantity: 1, UnitPrice: 700},
	}}
	if got := o.Subtotal(); got != 3700 {
		t.Errorf("Subtotal = %d, want 3700", got)
	}
}

func TestAsSubmitError(t *testing.T) {
	se := &SubmitError{Code: CodeNoBranchSelected, Message: "no branch"}
	if got := AsSubmitError(se); got.Code != CodeNoBranchSelected {
		t.Errorf("expected code to round-trip, got %s", got.Code)
	}

	wrapped := errors.New("connection refused")
	if got := AsSubmitError(wrapped); got.Code != CodeAPIError {
		t.Errorf("expected API_ERROR fallback, got %s", got.Code)
	}
}
