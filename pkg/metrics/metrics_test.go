package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordExecutionCountsRollbacks(t *testing.T) {
	m := New("proposal_test")
	if err := m.Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m.RecordExecution("executed")
	m.RecordExecution("rolled_back")
	m.RecordExecution("rolled_back")

	if got := testutil.ToFloat64(m.Rollbacks); got != 2 {
		t.Fatalf("rollbacks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Executions.WithLabelValues("executed")); got != 1 {
		t.Fatalf("executed = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordExecution("executed")
	m.RecordLeg("entry", "accepted")
	m.RecordBuild("signal", "")
	m.ObserveExchangeCall("ping", time.Now(), errors.New("down"))
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("proposal_test")
	if err := m.Register(reg); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}
