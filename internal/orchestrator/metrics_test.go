package orchestrator

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCollectorCollectsRegisteredWorkspaces(t *testing.T) {
	o := testOrchestrator(t)
	o.RegisterWorkspace(t.TempDir())

	collector := NewCollector(o, "ckbd")

	ch := make(chan prometheus.Metric, 16)
	collector.Collect(ch)
	close(ch)

	found := false
	for m := range ch {
		var metric dto.Metric
		if err := m.Write(&metric); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if m.Desc().String() == collector.workspaces.String() {
			found = true
			if metric.GetGauge().GetValue() != 1 {
				t.Errorf("workspaces gauge = %v, want 1", metric.GetGauge().GetValue())
			}
		}
	}
	if !found {
		t.Fatal("workspaces metric not collected")
	}
}
