package timectrl

import (
	"sync"
	"time"
)

// acceleratedBatch is how many accelerated ticks run between brief
// parks of the loop goroutine.
const acceleratedBatch = 64

// SimClock is a read-only view of simulation time. Components that only
// need to observe the clock depend on this interface rather than the
// concrete controller.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// ElapsedSeconds returns simulation seconds since the controller's
	// start time.
	ElapsedSeconds() float64
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances one Tick of simulation time per Tick of wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

// TimeController drives simulation time on its own goroutine and
// notifies registered listeners on every tick. There is no process-wide
// clock: each session owns exactly one controller and hands it to the
// components that need it.
type TimeController struct {
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	mu          sync.RWMutex
	currentTime time.Time

	listeners []func(time.Time)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

// NewTimeController constructs a controller. Listeners must be added
// before Start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	if tick <= 0 {
		tick = time.Second
	}
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// ElapsedSeconds returns simulation seconds since StartTime. Implements SimClock.
func (tc *TimeController) ElapsedSeconds() float64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime.Sub(tc.StartTime).Seconds()
}

// AddListener registers a callback invoked on every tick with the new
// simulation time. Listeners run on the controller's goroutine, so they
// must not block for long.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.listeners = append(tc.listeners, fn)
}

// Start runs the controller on its own goroutine until duration of
// simulation time has elapsed (unbounded when duration <= 0) or Stop is
// called. It returns a channel that is closed when the loop has exited.
// Start is a no-op on a controller that is already running.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	tc.mu.Lock()
	if tc.started {
		tc.mu.Unlock()
		return tc.done
	}
	tc.started = true
	tc.mu.Unlock()

	go tc.run(duration)
	return tc.done
}

// Stop signals the loop to halt. It is idempotent and safe to call from
// any goroutine; callers wait on the channel returned by Start (or Done)
// to join.
func (tc *TimeController) Stop() {
	tc.stopOnce.Do(func() { close(tc.stop) })
}

// Done returns the channel that is closed when the loop has exited.
func (tc *TimeController) Done() <-chan struct{} { return tc.done }

func (tc *TimeController) run(duration time.Duration) {
	defer close(tc.done)

	var ticker *time.Ticker
	if tc.Mode == RealTime {
		ticker = time.NewTicker(tc.Tick)
		defer ticker.Stop()
	}

	elapsed := time.Duration(0)
	simTime := tc.StartTime
	steps := 0

	for {
		if duration > 0 && elapsed >= duration {
			return
		}

		if ticker != nil {
			select {
			case <-tc.stop:
				return
			case <-ticker.C:
			}
		} else {
			select {
			case <-tc.stop:
				return
			default:
			}
			// Accelerated mode steps in batches, then parks so the
			// loop does not pin a core away from the goroutines
			// serving queries.
			steps++
			if steps%acceleratedBatch == 0 {
				time.Sleep(time.Millisecond)
			}
		}

		simTime = simTime.Add(tc.Tick)
		elapsed += tc.Tick

		tc.mu.Lock()
		tc.currentTime = simTime
		tc.mu.Unlock()

		for _, fn := range tc.listeners {
			fn(simTime)
		}
	}
}
