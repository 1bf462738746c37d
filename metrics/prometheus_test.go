package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/oarkflow/jacc"
	"github.com/oarkflow/jacc/logger"
)

func TestPrometheusRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)

	m.ObserveCheck(jacc.OutcomeSnapshot, true)
	m.ObserveCheck(jacc.OutcomeLoading, false)
	m.ObserveLoad(10*time.Millisecond, nil)
	m.ObserveLoad(time.Millisecond, errors.New("boom"))
	m.ObserveReset()

	if got := testutil.ToFloat64(m.ChecksTotal.WithLabelValues(jacc.OutcomeSnapshot, "true")); got != 1 {
		t.Fatalf("snapshot checks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LoadsTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("failed loads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ResetsTotal); got != 1 {
		t.Fatalf("resets = %v, want 1", got)
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestPrometheusWiredIntoCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)
	policy := jacc.NewMemoryPolicy()
	policy.Grant(jacc.DefaultContextID, nil, jacc.NewFilePermission("/tmp/*", "read"))

	cache, err := jacc.NewPermissionCache(1, policy,
		jacc.WithCacheMetrics(m),
		jacc.WithCacheLogger(logger.NewNullLogger()),
	)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()
	p := jacc.NewFilePermission("/tmp/a", "read")
	var token jacc.Epoch
	for i := 0; i < 3; i++ {
		if !cache.CheckPermission(ctx, p, &token) {
			t.Fatalf("expected grant on check %d", i)
		}
	}
	cache.Reset()

	if got := testutil.ToFloat64(m.ChecksTotal.WithLabelValues(jacc.OutcomeLoaded, "true")); got != 1 {
		t.Fatalf("loaded checks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ChecksTotal.WithLabelValues(jacc.OutcomeToken, "true")); got != 2 {
		t.Fatalf("token checks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.LoadsTotal.WithLabelValues("ok")); got != 1 {
		t.Fatalf("loads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ResetsTotal); got != 1 {
		t.Fatalf("resets = %v, want 1", got)
	}
}
