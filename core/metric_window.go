package core

import "sync"

// MetricSample is one (simulation-time, value) measurement.
type MetricSample struct {
	// Time is the simulation clock value when the sample was taken, in seconds.
	Time float64
	// Value is the measured quantity (latency in seconds, utilization fraction, ...).
	Value float64
}

// DefaultWindowCapacity bounds per-record sample buffers. At the default
// tick of 100ms this covers well over a minute of simulation time, which
// is far beyond the trailing windows remote pollers ask for.
const DefaultWindowCapacity = 1024

// MetricWindow is a bounded, time-ordered sample buffer supporting
// "average over the trailing W seconds of simulation time" queries.
//
// A single simulation goroutine appends while gateway handlers read
// concurrently; the internal mutex keeps each operation atomic so a
// reader never observes a partially appended buffer.
type MetricWindow struct {
	mu       sync.Mutex
	samples  []MetricSample
	capacity int
}

// NewMetricWindow creates a window holding at most capacity samples.
// A non-positive capacity falls back to DefaultWindowCapacity.
func NewMetricWindow(capacity int) *MetricWindow {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &MetricWindow{
		samples:  make([]MetricSample, 0, capacity),
		capacity: capacity,
	}
}

// Record appends a sample. Samples must arrive in non-decreasing time
// order; an out-of-order sample is clamped to the latest recorded time so
// the buffer stays ordered. When the buffer is full the oldest sample is
// evicted.
func (w *MetricWindow) Record(t, value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.samples); n > 0 && t < w.samples[n-1].Time {
		t = w.samples[n-1].Time
	}

	if len(w.samples) == w.capacity {
		// Shift in place rather than reslicing so the backing array
		// never grows past capacity.
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:w.capacity-1]
	}
	w.samples = append(w.samples, MetricSample{Time: t, Value: value})
}

// Average returns the mean of all samples with Time >= now-window.
// The second return value is false when no sample falls inside the
// window, which is distinct from a true zero average.
func (w *MetricWindow) Average(now, window float64) (float64, bool) {
	if window < 0 {
		return 0, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now - window
	sum := 0.0
	count := 0
	// Newest samples are at the tail; walk backwards and stop at the
	// first sample older than the cutoff.
	for i := len(w.samples) - 1; i >= 0; i-- {
		if w.samples[i].Time < cutoff {
			break
		}
		sum += w.samples[i].Value
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// Len returns the number of buffered samples.
func (w *MetricWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

// Latest returns the most recent sample, or false if the window is empty.
func (w *MetricWindow) Latest() (MetricSample, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == 0 {
		return MetricSample{}, false
	}
	return w.samples[len(w.samples)-1], true
}
