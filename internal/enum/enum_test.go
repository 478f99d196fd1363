package enum

import "testing"

func TestCanonicalRewritesAliases(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"awaiting_payment", TableStatusNeedsAttention},
		{"paid", OrderStatusDelivered},
		{"needs_attention", "needs_attention"},
		{"delivered", "delivered"},
		{"nonsense", "nonsense"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.in); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTerminalPaymentStatuses(t *testing.T) {
	for _, s := range []string{PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled} {
		if !IsTerminalPaymentStatus(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []string{PaymentStatusPending, PaymentStatusProcessing} {
		if IsTerminalPaymentStatus(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestSettledOrderStatuses(t *testing.T) {
	if !IsSettledOrderStatus(OrderStatusDelivered) || !IsSettledOrderStatus(OrderStatusCancelled) {
		t.Error("delivered and cancelled are settled")
	}
	for _, s := range []string{OrderStatusPending, OrderStatusPreparing, OrderStatusReady} {
		if IsSettledOrderStatus(s) {
			t.Errorf("%s should be open", s)
		}
	}
}

func TestValidators(t *testing.T) {
	if !IsValidTableStatus(TableStatusNeedsAttention) || IsValidTableStatus("awaiting_payment") {
		t.Error("table status validation accepts only canonical values")
	}
	if !IsValidOrderStatus(OrderStatusDelivered) || IsValidOrderStatus("paid") {
		t.Error("order status validation accepts only canonical values")
	}
	if !IsValidPaymentMethod(PaymentMethodPix) || IsValidPaymentMethod("barter") {
		t.Error("unexpected payment method validation")
	}
}
