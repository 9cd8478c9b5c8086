package payment

import (
	"strings"
	"testing"
)

func TestDecideOutcome(t *testing.T) {
	cases := []struct {
		name       string
		total      int64
		amount     int64
		method     string
		approved   bool
		wantReason string
	}{
		{name: "exact amount approved", total: 1500, amount: 1500, method: "card", approved: true},
		{name: "underpayment rejected", total: 1500, amount: 1499, method: "card", wantReason: "amount mismatch"},
		{name: "overpayment rejected", total: 1500, amount: 1501, method: "card", wantReason: "amount mismatch"},
		{name: "simulated failure", total: 1500, amount: 1500, method: "simulate-failure", wantReason: "simulated failure"},
		{name: "simulated failure is case insensitive", total: 1500, amount: 1500, method: "Simulate-Failure", wantReason: "simulated failure"},
		{name: "amount check beats method check", total: 1500, amount: 100, method: "simulate-failure", wantReason: "amount mismatch"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := DecideOutcome(tc.total, tc.amount, tc.method)
			if outcome.Approved != tc.approved {
				t.Fatalf("approved = %v, want %v", outcome.Approved, tc.approved)
			}
			if outcome.FailureReason != tc.wantReason {
				t.Fatalf("reason = %q, want %q", outcome.FailureReason, tc.wantReason)
			}
		})
	}
}

func TestNewProviderReference(t *testing.T) {
	ref := newProviderReference()
	if !strings.HasPrefix(ref, "PAY-") {
		t.Fatalf("reference %q must start with PAY-", ref)
	}
	if len(ref) != len("PAY-")+32 {
		t.Fatalf("reference %q has unexpected length", ref)
	}
	if ref == newProviderReference() {
		t.Fatal("references must be unique")
	}
}
