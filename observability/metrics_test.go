package observability

import (
	"sync"
	"testing"
	"time"
)

func TestMetrics_RecordCommand(t *testing.T) {
	m := NewMetrics()

	m.RecordCommand("execute_code", "success", 100*time.Millisecond)
	m.RecordCommand("execute_code", "rejected", 10*time.Millisecond)
	m.RecordCommand("run_macro", "timeout", 500*time.Millisecond)
	m.RecordCommand("ping", "rate_limited", time.Millisecond)
	m.RecordCommand("execute_code", "circuit_open", time.Millisecond)

	s := m.Snapshot()
	if s.TotalCommands != 5 {
		t.Errorf("TotalCommands = %d", s.TotalCommands)
	}
	if s.Successful != 1 || s.Failed != 4 {
		t.Errorf("Successful = %d, Failed = %d", s.Successful, s.Failed)
	}
	if s.Rejected != 1 || s.Timeouts != 1 || s.RateLimited != 1 || s.CircuitOpen != 1 {
		t.Errorf("classification counters wrong: %+v", s)
	}
	if s.MinDuration != time.Millisecond {
		t.Errorf("MinDuration = %v", s.MinDuration)
	}
	if s.MaxDuration != 500*time.Millisecond {
		t.Errorf("MaxDuration = %v", s.MaxDuration)
	}
	if s.SuccessRate() != 20.0 {
		t.Errorf("SuccessRate = %v", s.SuccessRate())
	}

	exec := s.CommandStats["execute_code"]
	if exec == nil || exec.Total != 3 || exec.Successful != 1 || exec.Failed != 2 {
		t.Errorf("execute_code stats = %+v", exec)
	}
	if exec.LastStatus != "circuit_open" {
		t.Errorf("LastStatus = %q", exec.LastStatus)
	}
}

func TestMetrics_SnapshotIsACopy(t *testing.T) {
	m := NewMetrics()
	m.RecordCommand("ping", "success", time.Millisecond)

	s := m.Snapshot()
	s.CommandStats["ping"].Total = 999

	if m.Snapshot().CommandStats["ping"].Total != 1 {
		t.Error("mutating a snapshot must not touch live counters")
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()
	m.RecordCommand("ping", "success", time.Millisecond)
	m.Reset()

	s := m.Snapshot()
	if s.TotalCommands != 0 || len(s.CommandStats) != 0 {
		t.Errorf("Reset left state behind: %+v", s)
	}
	if s.SuccessRate() != 0 {
		t.Errorf("SuccessRate on empty metrics = %v", s.SuccessRate())
	}
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	m := NewMetrics()

	const workers = 8
	const perWorker = 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.RecordCommand("execute_code", "success", time.Millisecond)
			}
		}()
	}
	wg.Wait()

	s := m.Snapshot()
	if s.TotalCommands != workers*perWorker {
		t.Errorf("TotalCommands = %d, want %d", s.TotalCommands, workers*perWorker)
	}
	if s.CommandStats["execute_code"].Total != workers*perWorker {
		t.Errorf("per-command Total = %d", s.CommandStats["execute_code"].Total)
	}
}
