package stats

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates provider call statistics for one pipeline run
type Collector struct {
	callsMu sync.RWMutex
	calls   map[string]*StreamingStats

	attempts  int64
	retries   int64
	failures  int64
	completed int64
	skipped   int64

	errorsMu sync.RWMutex
	errors   map[string]int64

	startTime time.Time
}

// NewCollector creates a new statistics collector
func NewCollector() *Collector {
	return &Collector{
		calls:     make(map[string]*StreamingStats),
		errors:    make(map[string]int64),
		startTime: time.Now(),
	}
}

// RecordCall records one provider call attempt. kind is empty on success.
func (c *Collector) RecordCall(operation string, duration time.Duration, kind string) {
	atomic.AddInt64(&c.attempts, 1)

	c.callsMu.Lock()
	s, ok := c.calls[operation]
	if !ok {
		s = NewStreamingStats()
		c.calls[operation] = s
	}
	c.callsMu.Unlock()
	s.Observe(duration)

	if kind != "" {
		atomic.AddInt64(&c.failures, 1)
		c.errorsMu.Lock()
		c.errors[kind]++
		c.errorsMu.Unlock()
	}
}

// RecordRetry records that a failed call is being retried
func (c *Collector) RecordRetry() {
	atomic.AddInt64(&c.retries, 1)
}

// RecordSceneOutcome counts terminal scene states
func (c *Collector) RecordSceneOutcome(completed bool, skipped bool) {
	switch {
	case completed:
		atomic.AddInt64(&c.completed, 1)
	case skipped:
		atomic.AddInt64(&c.skipped, 1)
	}
}

// Attempts returns the number of provider call attempts
func (c *Collector) Attempts() int64 {
	return atomic.LoadInt64(&c.attempts)
}

// Retries returns the number of retried calls
func (c *Collector) Retries() int64 {
	return atomic.LoadInt64(&c.retries)
}

// Failures returns the number of failed call attempts
func (c *Collector) Failures() int64 {
	return atomic.LoadInt64(&c.failures)
}

// GetErrors returns a copy of the failure counts by error kind
func (c *Collector) GetErrors() map[string]int64 {
	c.errorsMu.RLock()
	defer c.errorsMu.RUnlock()

	errors := make(map[string]int64, len(c.errors))
	for k, v := range c.errors {
		errors[k] = v
	}
	return errors
}

// OperationSummary is the timing summary for one operation, in milliseconds
type OperationSummary struct {
	Operation string `json:"operation" yaml:"operation"`
	Summary   `yaml:",inline"`
}

// CollectorSummary provides a summary of a run's statistics
type CollectorSummary struct {
	Attempts        int64              `json:"attempts" yaml:"attempts"`
	Retries         int64              `json:"retries" yaml:"retries"`
	Failures        int64              `json:"failures" yaml:"failures"`
	ScenesCompleted int64              `json:"scenes_completed" yaml:"scenes_completed"`
	ScenesSkipped   int64              `json:"scenes_skipped" yaml:"scenes_skipped"`
	Operations      []OperationSummary `json:"operations" yaml:"operations"`
	Errors          map[string]int64   `json:"errors" yaml:"errors"`
	StartTime       time.Time          `json:"start_time" yaml:"start_time"`
	ElapsedTime     string             `json:"elapsed_time" yaml:"elapsed_time"`
}

// GetSummary returns a summary of all statistics, operations sorted by name
func (c *Collector) GetSummary() CollectorSummary {
	c.callsMu.RLock()
	ops := make([]OperationSummary, 0, len(c.calls))
	for name, s := range c.calls {
		ops = append(ops, OperationSummary{Operation: name, Summary: s.GetSummary()})
	}
	c.callsMu.RUnlock()
	sort.Slice(ops, func(i, j int) bool { return ops[i].Operation < ops[j].Operation })

	return CollectorSummary{
		Attempts:        c.Attempts(),
		Retries:         c.Retries(),
		Failures:        c.Failures(),
		ScenesCompleted: atomic.LoadInt64(&c.completed),
		ScenesSkipped:   atomic.LoadInt64(&c.skipped),
		Operations:      ops,
		Errors:          c.GetErrors(),
		StartTime:       c.startTime,
		ElapsedTime:     time.Since(c.startTime).Round(time.Millisecond).String(),
	}
}

// ToJSON returns the summary as JSON
func (c *Collector) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c.GetSummary(), "", "  ")
}
