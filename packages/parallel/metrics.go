package parallel

import (
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// Metrics aggregates latency and outcome counts for one parallel block.
type Metrics struct {
	mu        sync.Mutex
	histogram *hdrhistogram.Histogram
	total     int
	failures  int
	skipped   int
	start     time.Time
	elapsed   time.Duration
}

// NewMetrics creates a recorder tracking microsecond latencies up to one
// minute at three significant figures.
func NewMetrics() *Metrics {
	return &Metrics{
		histogram: hdrhistogram.New(1, 60_000_000, 3),
		start:     time.Now(),
	}
}

// Record adds one finished iteration.
func (m *Metrics) Record(duration time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	if !ok {
		m.failures++
	}
	_ = m.histogram.RecordValue(duration.Microseconds())
}

// RecordSkipped counts an iteration cancelled before dispatch.
func (m *Metrics) RecordSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped++
}

// Finish freezes the elapsed wall-clock time.
func (m *Metrics) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elapsed = time.Since(m.start)
}

// Snapshot is a point-in-time view of the metrics.
type Snapshot struct {
	Total    int
	Failures int
	Skipped  int
	Elapsed  time.Duration
	P50      time.Duration
	P95      time.Duration
	P99      time.Duration
	Max      time.Duration
}

// Snapshot returns the aggregated values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Total:    m.total,
		Failures: m.failures,
		Skipped:  m.skipped,
		Elapsed:  m.elapsed,
		P50:      time.Duration(m.histogram.ValueAtQuantile(50)) * time.Microsecond,
		P95:      time.Duration(m.histogram.ValueAtQuantile(95)) * time.Microsecond,
		P99:      time.Duration(m.histogram.ValueAtQuantile(99)) * time.Microsecond,
		Max:      time.Duration(m.histogram.Max()) * time.Microsecond,
	}
}
