package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCollectorEmitsOneSeriesPerRegisteredRecord(t *testing.T) {
	c := NewCollector()
	r := NewRecord(4)
	r.Observe("get", true, 2*time.Millisecond, "")
	r.Observe("get", false, 3*time.Millisecond, "boom")
	c.Register("proxy-1", r)

	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)

	var m dto.Metric
	count := 0
	for metric := range ch {
		if err := metric.Write(&m); err != nil {
			t.Fatalf("Write: %v", err)
		}
		count++
	}
	if count != 4 {
		t.Fatalf("got %d metrics, want 4 (invocations, failures, success_rate, duration)", count)
	}
}

func TestCollectorDropsUnregisteredProxies(t *testing.T) {
	c := NewCollector()
	r := NewRecord(4)
	c.Register("proxy-1", r)
	c.Unregister("proxy-1")

	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)

	for range ch {
		t.Fatal("expected no metrics after Unregister")
	}
}
