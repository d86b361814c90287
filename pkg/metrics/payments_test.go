package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveDurationRecordsSample(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := NewPaymentMetrics(reg)

	met.ObserveDuration("begin_payment", 25*time.Millisecond)

	count, err := testutil.GatherAndCount(reg, "payment_operation_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one duration series, got %d", count)
	}
}

func TestTimedRecordsDurationAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := NewPaymentMetrics(reg)

	if err := met.Timed("gateway_create_intent", func() error { return nil }); err != nil {
		t.Fatalf("timed: %v", err)
	}
	failure := errors.New("boom")
	if err := met.Timed("gateway_create_intent", func() error { return failure }); err != failure {
		t.Fatalf("timed must return the operation error, got %v", err)
	}

	durations, err := testutil.GatherAndCount(reg, "payment_operation_duration_seconds")
	if err != nil {
		t.Fatalf("gather durations: %v", err)
	}
	if durations != 1 {
		t.Fatalf("expected one duration series, got %d", durations)
	}
	outcomes, err := testutil.GatherAndCount(reg, "payment_operation_total")
	if err != nil {
		t.Fatalf("gather outcomes: %v", err)
	}
	if outcomes != 2 {
		t.Fatalf("expected succeeded and failed outcome series, got %d", outcomes)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var met *PaymentMetrics
	met.ObserveDuration("begin_payment", time.Millisecond)
	met.IncOutcome("begin_payment", OutcomeSucceeded)
	met.IncWebhookEvent("payment_intent.succeeded", "applied")
	if err := met.Timed("gateway_create_intent", func() error { return nil }); err != nil {
		t.Fatalf("timed on nil metrics: %v", err)
	}
}
