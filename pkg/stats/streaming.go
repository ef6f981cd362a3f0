package stats

import (
	"math"
	"sync"
	"time"
)

// StreamingStats keeps running count/mean/min/max/variance in constant memory
type StreamingStats struct {
	mu         sync.RWMutex
	count      int64
	sum        float64
	sumSquares float64
	min        float64
	max        float64
}

// NewStreamingStats creates a new StreamingStats instance
func NewStreamingStats() *StreamingStats {
	return &StreamingStats{
		min: math.Inf(1),
		max: math.Inf(-1),
	}
}

// Update adds a new value to the statistics
func (s *StreamingStats) Update(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += value
	s.sumSquares += value * value

	if value < s.min {
		s.min = value
	}
	if value > s.max {
		s.max = value
	}
}

// Observe records a duration in milliseconds
func (s *StreamingStats) Observe(d time.Duration) {
	s.Update(float64(d.Milliseconds()))
}

// Count returns the number of values processed
func (s *StreamingStats) Count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Summary is a point-in-time view of a StreamingStats
type Summary struct {
	Count  int64   `json:"count" yaml:"count"`
	Sum    float64 `json:"sum" yaml:"sum"`
	Mean   float64 `json:"mean" yaml:"mean"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	StdDev float64 `json:"std_dev" yaml:"std_dev"`
}

// GetSummary returns a consistent snapshot under a single lock
func (s *StreamingStats) GetSummary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return Summary{}
	}

	mean := s.sum / float64(s.count)
	var variance float64
	if s.count > 1 {
		// sample variance: (sum_squares - n * mean^2) / (n - 1)
		variance = (s.sumSquares - float64(s.count)*mean*mean) / float64(s.count-1)
		if variance < 0 {
			variance = 0
		}
	}

	return Summary{
		Count:  s.count,
		Sum:    s.sum,
		Mean:   mean,
		Min:    s.min,
		Max:    s.max,
		StdDev: math.Sqrt(variance),
	}
}

// Reset clears all statistics
func (s *StreamingStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count = 0
	s.sum = 0
	s.sumSquares = 0
	s.min = math.Inf(1)
	s.max = math.Inf(-1)
}
