package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects in-process gateway counters. It backs the get_report
// command and is independent of the OTel pipeline so a report is available
// even when no exporter is configured.
type Metrics struct {
	commandStats   map[string]*CommandStats
	totalCommands  int64
	successful     int64
	failed         int64
	rejected       int64
	timeouts       int64
	rateLimited    int64
	circuitOpen    int64
	totalDuration  int64
	durationCount  int64
	minDuration    int64
	maxDuration    int64
	mu             sync.RWMutex
}

// CommandStats contains per-command-type statistics.
type CommandStats struct {
	Command       string
	Total         int64
	Successful    int64
	Failed        int64
	TotalDuration int64
	AvgDuration   int64
	LastStatus    string
	LastAt        time.Time
}

// NewMetrics creates a metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		commandStats: make(map[string]*CommandStats),
		minDuration:  -1,
	}
}

// RecordCommand records one handled command.
func (m *Metrics) RecordCommand(command, status string, duration time.Duration) {
	atomic.AddInt64(&m.totalCommands, 1)

	switch status {
	case "success":
		atomic.AddInt64(&m.successful, 1)
	case "rejected":
		atomic.AddInt64(&m.rejected, 1)
		atomic.AddInt64(&m.failed, 1)
	case "timeout":
		atomic.AddInt64(&m.timeouts, 1)
		atomic.AddInt64(&m.failed, 1)
	case "rate_limited":
		atomic.AddInt64(&m.rateLimited, 1)
		atomic.AddInt64(&m.failed, 1)
	case "circuit_open":
		atomic.AddInt64(&m.circuitOpen, 1)
		atomic.AddInt64(&m.failed, 1)
	default:
		atomic.AddInt64(&m.failed, 1)
	}

	d := duration.Nanoseconds()
	atomic.AddInt64(&m.totalDuration, d)
	atomic.AddInt64(&m.durationCount, 1)

	for {
		old := atomic.LoadInt64(&m.minDuration)
		if old >= 0 && d >= old {
			break
		}
		if atomic.CompareAndSwapInt64(&m.minDuration, old, d) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&m.maxDuration)
		if d <= old {
			break
		}
		if atomic.CompareAndSwapInt64(&m.maxDuration, old, d) {
			break
		}
	}

	m.updateCommandStats(command, status, d)
}

func (m *Metrics) updateCommandStats(command, status string, d int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.commandStats[command]
	if !ok {
		stats = &CommandStats{Command: command}
		m.commandStats[command] = stats
	}

	stats.Total++
	stats.TotalDuration += d
	stats.AvgDuration = stats.TotalDuration / stats.Total
	stats.LastStatus = status
	stats.LastAt = time.Now()

	if status == "success" {
		stats.Successful++
	} else {
		stats.Failed++
	}
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalCommands: atomic.LoadInt64(&m.totalCommands),
		Successful:    atomic.LoadInt64(&m.successful),
		Failed:        atomic.LoadInt64(&m.failed),
		Rejected:      atomic.LoadInt64(&m.rejected),
		Timeouts:      atomic.LoadInt64(&m.timeouts),
		RateLimited:   atomic.LoadInt64(&m.rateLimited),
		CircuitOpen:   atomic.LoadInt64(&m.circuitOpen),
		AvgDuration:   m.avgDuration(),
		MinDuration:   time.Duration(atomic.LoadInt64(&m.minDuration)),
		MaxDuration:   time.Duration(atomic.LoadInt64(&m.maxDuration)),
		CommandStats:  m.getCommandStats(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	TotalCommands int64                    `json:"total_commands"`
	Successful    int64                    `json:"successful"`
	Failed        int64                    `json:"failed"`
	Rejected      int64                    `json:"rejected"`
	Timeouts      int64                    `json:"timeouts"`
	RateLimited   int64                    `json:"rate_limited"`
	CircuitOpen   int64                    `json:"circuit_open"`
	AvgDuration   time.Duration            `json:"avg_duration"`
	MinDuration   time.Duration            `json:"min_duration"`
	MaxDuration   time.Duration            `json:"max_duration"`
	CommandStats  map[string]*CommandStats `json:"command_stats"`
}

// SuccessRate returns the success rate as a percentage.
func (s MetricsSnapshot) SuccessRate() float64 {
	if s.TotalCommands == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.TotalCommands) * 100
}

func (m *Metrics) avgDuration() time.Duration {
	count := atomic.LoadInt64(&m.durationCount)
	if count == 0 {
		return 0
	}
	return time.Duration(atomic.LoadInt64(&m.totalDuration) / count)
}

func (m *Metrics) getCommandStats() map[string]*CommandStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*CommandStats, len(m.commandStats))
	for k, v := range m.commandStats {
		copied := *v
		result[k] = &copied
	}
	return result
}

// Reset clears all counters.
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.totalCommands, 0)
	atomic.StoreInt64(&m.successful, 0)
	atomic.StoreInt64(&m.failed, 0)
	atomic.StoreInt64(&m.rejected, 0)
	atomic.StoreInt64(&m.timeouts, 0)
	atomic.StoreInt64(&m.rateLimited, 0)
	atomic.StoreInt64(&m.circuitOpen, 0)
	atomic.StoreInt64(&m.totalDuration, 0)
	atomic.StoreInt64(&m.durationCount, 0)
	atomic.StoreInt64(&m.minDuration, -1)
	atomic.StoreInt64(&m.maxDuration, 0)

	m.mu.Lock()
	m.commandStats = make(map[string]*CommandStats)
	m.mu.Unlock()
}
