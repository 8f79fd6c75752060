package executor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/seantiz/foundry/internal/model"
)

func TestMetricsRegistered(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	expected := []string{
		"foundry_tasks_total",
		"foundry_task_duration_seconds",
		"foundry_tasks_inflight",
	}

	found := make(map[string]bool)
	for _, fam := range families {
		found[fam.GetName()] = true
	}

	for _, name := range expected {
		if !found[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestTaskDurationSeededPerMode(t *testing.T) {
	if n := testutil.CollectAndCount(taskDuration, "foundry_task_duration_seconds"); n < 2 {
		t.Errorf("duration series = %d, want at least one per mode", n)
	}
}

func TestTaskDurationObserved(t *testing.T) {
	before := histogramCount(t, "foundry_task_duration_seconds", string(ModeParallel))

	observe(ModeParallel, model.TaskResult{Task: model.Task{ID: "d"}, Duration: 250 * time.Millisecond})

	if got := histogramCount(t, "foundry_task_duration_seconds", string(ModeParallel)) - before; got != 1 {
		t.Errorf("observations delta = %d, want 1", got)
	}
}

func histogramCount(t *testing.T, name, mode string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	var fam *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == name {
			fam = f
			break
		}
	}
	if fam == nil {
		return 0
	}
	for _, m := range fam.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "mode" && lp.GetValue() == mode {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}
