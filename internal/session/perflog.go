package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PerfRecord is one tool invocation outcome. Records are append-only and
// never edited or removed.
type PerfRecord struct {
	ToolName  string        `json:"tool_name"`
	StepID    string        `json:"step_id,omitempty"`
	Success   bool          `json:"success"`
	Latency   time.Duration `json:"latency_ns"`
	ErrorKind string        `json:"error_kind,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// ToolStats aggregates performance per tool.
type ToolStats struct {
	SuccessCount int     `json:"success_count"`
	FailureCount int     `json:"failure_count"`
	TotalCalls   int     `json:"total_calls"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// PerformanceLog is the append-only tool performance log. The coordinator
// thread is the only writer in the current design; the mutex keeps appends
// safe should callers ever parallelize step execution.
type PerformanceLog struct {
	mu      sync.Mutex
	records []PerfRecord
}

// Append adds one record, stamping the creation time if unset.
func (l *PerformanceLog) Append(r PerfRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	l.records = append(l.records, r)
}

// Records returns a copy of all records in append order.
func (l *PerformanceLog) Records() []PerfRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PerfRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *PerformanceLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// SummarizeByTool aggregates statistics per tool name.
func (l *PerformanceLog) SummarizeByTool() map[string]ToolStats {
	summary := make(map[string]ToolStats)
	latencySums := make(map[string]time.Duration)

	for _, r := range l.Records() {
		stats := summary[r.ToolName]
		stats.TotalCalls++
		if r.Success {
			stats.SuccessCount++
		} else {
			stats.FailureCount++
		}
		latencySums[r.ToolName] += r.Latency
		summary[r.ToolName] = stats
	}

	for name, stats := range summary {
		total := stats.TotalCalls
		if total == 0 {
			total = 1
		}
		stats.SuccessRate = float64(stats.SuccessCount) / float64(total)
		stats.AvgLatencyMs = float64(latencySums[name].Milliseconds()) / float64(total)
		summary[name] = stats
	}
	return summary
}

// perfLogFile is the on-disk JSON shape of a performance log.
type perfLogFile struct {
	Records []PerfRecord `json:"records"`
}

// SaveFile persists the log as JSON, creating parent directories as needed.
func (l *PerformanceLog) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	data, err := json.MarshalIndent(perfLogFile{Records: l.Records()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode performance log: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write performance log: %w", err)
	}
	return nil
}

// LoadPerformanceLog reads a persisted performance log from disk.
func LoadPerformanceLog(path string) (*PerformanceLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read performance log: %w", err)
	}
	var file perfLogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode performance log: %w", err)
	}
	log := &PerformanceLog{records: file.Records}
	return log, nil
}
