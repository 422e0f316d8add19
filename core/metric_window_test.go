package core

import (
	"math"
	"sync"
	"testing"
)

func TestMetricWindowAverageTrailing(t *testing.T) {
	w := NewMetricWindow(16)
	w.Record(1.0, 10)
	w.Record(2.0, 20)
	w.Record(3.0, 30)

	// Window covering only the last two samples.
	avg, ok := w.Average(3.0, 1.0)
	if !ok {
		t.Fatal("Average reported no samples")
	}
	if avg != 25 {
		t.Fatalf("Average = %v, want 25", avg)
	}

	// Window covering everything.
	avg, ok = w.Average(3.0, 10.0)
	if !ok || avg != 20 {
		t.Fatalf("Average over all = %v, %v; want 20, true", avg, ok)
	}
}

func TestMetricWindowEmptyAndStale(t *testing.T) {
	w := NewMetricWindow(4)
	if _, ok := w.Average(10, 5); ok {
		t.Fatal("empty window reported an average")
	}

	w.Record(1.0, 42)
	// Sample is older than now-window; distinct from "average is zero".
	if _, ok := w.Average(100, 5); ok {
		t.Fatal("stale sample counted inside trailing window")
	}
	if _, ok := w.Average(1.0, -1); ok {
		t.Fatal("negative window reported an average")
	}
}

func TestMetricWindowZeroWindowMatchesExactTime(t *testing.T) {
	w := NewMetricWindow(4)
	w.Record(5.0, 7)

	avg, ok := w.Average(5.0, 0)
	if !ok || avg != 7 {
		t.Fatalf("zero window at sample time = %v, %v; want 7, true", avg, ok)
	}
}

func TestMetricWindowEviction(t *testing.T) {
	w := NewMetricWindow(3)
	for i := 0; i < 5; i++ {
		w.Record(float64(i), float64(i))
	}
	if w.Len() != 3 {
		t.Fatalf("Len = %d, want 3", w.Len())
	}
	// Oldest two evicted; remaining samples are 2, 3, 4.
	avg, ok := w.Average(4, 100)
	if !ok || avg != 3 {
		t.Fatalf("Average after eviction = %v, %v; want 3, true", avg, ok)
	}
	latest, ok := w.Latest()
	if !ok || latest.Time != 4 || latest.Value != 4 {
		t.Fatalf("Latest = %+v, %v; want {4 4}, true", latest, ok)
	}
}

func TestMetricWindowClampsOutOfOrderTime(t *testing.T) {
	w := NewMetricWindow(4)
	w.Record(10, 1)
	w.Record(5, 2)

	latest, ok := w.Latest()
	if !ok || latest.Time != 10 {
		t.Fatalf("out-of-order sample not clamped: latest time = %v", latest.Time)
	}
	avg, ok := w.Average(10, 0)
	if !ok || avg != 1.5 {
		t.Fatalf("Average after clamp = %v, %v; want 1.5, true", avg, ok)
	}
}

func TestMetricWindowConcurrentReadWrite(t *testing.T) {
	w := NewMetricWindow(64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			w.Record(float64(i), float64(i%10))
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if avg, ok := w.Average(1000, 1000); ok {
					if math.IsNaN(avg) || avg < 0 || avg > 9 {
						t.Errorf("torn average: %v", avg)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}
