package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestCollector creates a collector with an isolated registry.
func newTestCollector() (*Collector, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	c := NewCollector(registry)
	return c, registry
}

func TestNewCollector_Registers(t *testing.T) {
	c, registry := newTestCollector()
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}

	c.SetInfo("test", "http://localhost:8001")

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := false
	for _, mf := range families {
		if mf.GetName() == "stackup_info" {
			found = true
		}
	}
	if !found {
		t.Error("stackup_info not registered")
	}
}

func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewCollector(registry)

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic on duplicate registration")
		}
	}()
	NewCollector(registry)
}

func TestCollector_SetServiceState_OneHot(t *testing.T) {
	c, _ := newTestCollector()

	c.SetServiceState("backend", "starting")
	c.SetServiceState("backend", "running")

	for _, state := range knownStates {
		got := testutil.ToFloat64(c.serviceState.WithLabelValues("backend", state))
		want := 0.0
		if state == "running" {
			want = 1.0
		}
		if got != want {
			t.Errorf("state %q = %f, want %f", state, got, want)
		}
	}

	if up := testutil.ToFloat64(c.serviceUp.WithLabelValues("backend")); up != 1.0 {
		t.Errorf("serviceUp = %f, want 1", up)
	}
}

func TestCollector_SetServiceState_UpClearedOnExit(t *testing.T) {
	c, _ := newTestCollector()

	c.SetServiceState("frontend", "running")
	c.SetServiceState("frontend", "failed")

	if up := testutil.ToFloat64(c.serviceUp.WithLabelValues("frontend")); up != 0.0 {
		t.Errorf("serviceUp = %f, want 0 after failure", up)
	}
	if got := testutil.ToFloat64(c.serviceState.WithLabelValues("frontend", "failed")); got != 1.0 {
		t.Errorf("failed state = %f, want 1", got)
	}
}

func TestCollector_SetPhase_SingleSeries(t *testing.T) {
	c, _ := newTestCollector()

	c.SetPhase("starting_backend")
	c.SetPhase("monitoring")

	// Reset clears old phases, so only the current one exists
	if n := testutil.CollectAndCount(c.phase); n != 1 {
		t.Errorf("phase series count = %d, want 1", n)
	}
	if got := testutil.ToFloat64(c.phase.WithLabelValues("monitoring")); got != 1.0 {
		t.Errorf("monitoring phase = %f, want 1", got)
	}
}

func TestCollector_RecordProbeAttempt(t *testing.T) {
	c, _ := newTestCollector()

	c.RecordProbeAttempt("not_ready", 5*time.Millisecond)
	c.RecordProbeAttempt("not_ready", 7*time.Millisecond)
	c.RecordProbeAttempt("ready", 3*time.Millisecond)

	if got := testutil.ToFloat64(c.probeAttempts.WithLabelValues("not_ready")); got != 2 {
		t.Errorf("not_ready attempts = %f, want 2", got)
	}
	if got := testutil.ToFloat64(c.probeAttempts.WithLabelValues("ready")); got != 1 {
		t.Errorf("ready attempts = %f, want 1", got)
	}
}

func TestCollector_RecordUnexpectedExit(t *testing.T) {
	c, _ := newTestCollector()

	c.RecordUnexpectedExit("backend")
	c.RecordUnexpectedExit("backend")

	if got := testutil.ToFloat64(c.unexpectedExits.WithLabelValues("backend")); got != 2 {
		t.Errorf("unexpected exits = %f, want 2", got)
	}
}

func TestCollector_RecordCleanShutdown(t *testing.T) {
	c, _ := newTestCollector()

	c.RecordCleanShutdown()

	if got := testutil.ToFloat64(c.cleanShutdowns); got != 1 {
		t.Errorf("clean shutdowns = %f, want 1", got)
	}
}

func TestCollector_SetServiceUptime(t *testing.T) {
	c, _ := newTestCollector()

	c.SetServiceUptime("backend", 90*time.Second)

	if got := testutil.ToFloat64(c.serviceUptime.WithLabelValues("backend")); got != 90 {
		t.Errorf("uptime = %f, want 90", got)
	}
}
