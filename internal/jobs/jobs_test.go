package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// counterValue reads one labeled counter out of a gathered family set.
func counterValue(families []*dto.MetricFamily, name string, labels map[string]string) (float64, bool) {
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metric:
		for _, m := range f.GetMetric() {
			for _, pair := range m.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue(), true
		}
	}
	return 0, false
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Registering the same collectors twice must fail.
	if err := m.Register(reg); err == nil {
		t.Error("second Register() should fail with duplicate collectors")
	}
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m.IncJobsTotal(JobTypeRetentionRun, StatusSuccess)
	m.ObserveJobDuration(JobTypeRetentionRun, 0.42)
	m.IncJobErrors(JobTypeAgeOut, "run_failed")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{MetricBackgroundJobsTotal, MetricBackgroundJobsDuration, MetricBackgroundJobErrorsTotal} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}

	got, ok := counterValue(families, MetricBackgroundJobsTotal,
		map[string]string{"job_type": JobTypeRetentionRun, "status": StatusSuccess})
	if !ok || got != 1 {
		t.Errorf("jobs total counter = (%v, %v), want (1, true)", got, ok)
	}
	got, ok = counterValue(families, MetricBackgroundJobErrorsTotal,
		map[string]string{"job_type": JobTypeAgeOut, "error_type": "run_failed"})
	if !ok || got != 1 {
		t.Errorf("job errors counter = (%v, %v), want (1, true)", got, ok)
	}
}

func TestRunner_RunsAndStops(t *testing.T) {
	var runs atomic.Int64
	runner := NewRunner(nil, nil)
	runner.Add(Job{
		Name:     JobTypeTempCleanup,
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	runner.Start()
	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("job did not run twice within deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
	runner.Stop()

	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != after {
		t.Error("job kept running after Stop()")
	}
}

func TestRunner_FailureDoesNotStopSchedule(t *testing.T) {
	var runs atomic.Int64
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	runner := NewRunner(nil, m)
	runner.Add(Job{
		Name:     JobTypeAgeOut,
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	})

	runner.Start()
	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("failing job should keep its schedule")
		case <-time.After(5 * time.Millisecond):
		}
	}
	runner.Stop()
}

func TestRunner_StopWithoutStart(t *testing.T) {
	runner := NewRunner(nil, nil)
	runner.Stop() // must not panic or block
}
