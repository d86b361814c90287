package enums

import "testing"

func TestPaymentStatusCanTransitionTo(t *testing.T) {
	cases := []struct {
		name string
		from PaymentStatus
		to   PaymentStatus
		want bool
	}{
		{"forward one step", PaymentStatusRequiresPaymentMethod, PaymentStatusRequiresConfirmation, true},
		{"forward multiple steps", PaymentStatusRequiresPaymentMethod, PaymentStatusSucceeded, true},
		{"processing to succeeded", PaymentStatusProcessing, PaymentStatusSucceeded, true},
		{"cancel from early state", PaymentStatusRequiresConfirmation, PaymentStatusCanceled, true},
		{"fail from processing", PaymentStatusProcessing, PaymentStatusFailed, true},
		{"backward", PaymentStatusProcessing, PaymentStatusRequiresAction, false},
		{"same state", PaymentStatusProcessing, PaymentStatusProcessing, false},
		{"succeeded to canceled", PaymentStatusSucceeded, PaymentStatusCanceled, false},
		{"canceled to succeeded", PaymentStatusCanceled, PaymentStatusSucceeded, false},
		{"failed to processing", PaymentStatusFailed, PaymentStatusProcessing, false},
		{"succeeded to processing", PaymentStatusSucceeded, PaymentStatusProcessing, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
				t.Fatalf("%s -> %s: got %t, want %t", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestPaymentStatusIsTerminal(t *testing.T) {
	terminal := []PaymentStatus{PaymentStatusSucceeded, PaymentStatusCanceled, PaymentStatusFailed}
	for _, status := range terminal {
		if !status.IsTerminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}

	open := []PaymentStatus{
		PaymentStatusRequiresPaymentMethod,
		PaymentStatusRequiresConfirmation,
		PaymentStatusRequiresAction,
		PaymentStatusProcessing,
	}
	for _, status := range open {
		if status.IsTerminal() {
			t.Fatalf("expected %s to be non-terminal", status)
		}
	}
}

func TestParsePaymentStatus(t *testing.T) {
	status, err := ParsePaymentStatus("requires_action")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if status != PaymentStatusRequiresAction {
		t.Fatalf("unexpected status %s", status)
	}

	if _, err := ParsePaymentStatus("refunded"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
