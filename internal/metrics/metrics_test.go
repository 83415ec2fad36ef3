package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRevalidation(time.Millisecond, nil)
	m.ObserveRevalidation(time.Millisecond, errors.New("boom"))
	m.ObserveRevalidation(time.Millisecond, nil)
	if got := testutil.ToFloat64(m.revalidations.WithLabelValues("success")); got != 2 {
		t.Fatalf("expected 2 successful revalidations, got %f", got)
	}
	if got := testutil.ToFloat64(m.revalidations.WithLabelValues("failure")); got != 1 {
		t.Fatalf("expected 1 failed revalidation, got %f", got)
	}
	if samples := testutil.CollectAndCount(m.revalidationTime); samples != 1 {
		t.Fatalf("expected one histogram series, got %d", samples)
	}

	m.ObserveAPICall("get_data", 200, time.Millisecond)
	m.ObserveAPICall("get_data", 404, time.Millisecond)
	if got := testutil.ToFloat64(m.apiCalls.WithLabelValues("get_data", "4xx")); got != 1 {
		t.Fatalf("expected 1 client error, got %f", got)
	}

	m.QueueAdd(1)
	m.QueueAdd(1)
	m.QueueAdd(-1)
	if got := testutil.ToFloat64(m.queueLength); got != 1 {
		t.Fatalf("expected queue length 1, got %f", got)
	}

	m.ExportedMessages("bufr", 3)
	if got := testutil.ToFloat64(m.exportedMessages.WithLabelValues("bufr")); got != 3 {
		t.Fatalf("expected 3 exported messages, got %f", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRevalidation(time.Second, nil)
	m.ObserveAPICall("ping", 200, time.Second)
	m.QueueAdd(1)
	m.ExportedMessages("csv", 1)
}
