// Package bridge exposes a thread-safe, non-blocking query/command
// façade over the simulation engine's live state. It is the in-process
// contract the remote gateway forwards to; keeping it transport-free
// makes the whole surface testable without a listener.
package bridge

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/netsimworks/sdn-simulator/core"
	"github.com/netsimworks/sdn-simulator/internal/logging"
)

// ErrSessionClosed marks a bridge call made outside a Running session.
// It is the lifecycle-misuse error of the query surface: the caller is
// holding a bridge for a session that has not started or is stopped.
var ErrSessionClosed = errors.New("session not running")

// ErrBadWindow marks a negative trailing-window argument.
var ErrBadWindow = errors.New("window seconds must be non-negative")

// Bridge is a read-mostly façade over one engine. All methods complete
// without waiting on the simulation clock; a call racing a tick observes
// either the pre- or post-tick value, never a torn one.
//
// RerouteFlow is the only mutating operation.
type Bridge struct {
	eng    *core.Engine
	log    logging.Logger
	closed atomic.Bool
}

// New constructs a bridge bound to the engine's live state.
func New(eng *core.Engine, log logging.Logger) *Bridge {
	if log == nil {
		log = logging.Noop()
	}
	return &Bridge{eng: eng, log: log}
}

// Close marks the bridge's session as no longer running. Subsequent
// calls fail with ErrSessionClosed. Close is idempotent.
func (b *Bridge) Close() { b.closed.Store(true) }

// Closed reports whether the bridge has been closed.
func (b *Bridge) Closed() bool { return b.closed.Load() }

func (b *Bridge) guard() error {
	if b.closed.Load() {
		return ErrSessionClosed
	}
	return nil
}

// FlowIDs returns the known flow identifiers in ascending order, as a
// snapshot at call time. Empty when no flows exist.
func (b *Bridge) FlowIDs() ([]int, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}
	return b.eng.KB().FlowIDs(), nil
}

// FlowAvgLatency returns the mean latency sample for a flow over the
// trailing window of simulation seconds. core.ErrUnknownFlow and
// core.ErrNoSamples distinguish "never will have data" from "not yet".
func (b *Bridge) FlowAvgLatency(flowID int, windowSeconds float64) (float64, error) {
	if err := b.guard(); err != nil {
		return 0, err
	}
	if windowSeconds < 0 {
		return 0, fmt.Errorf("%w: %v", ErrBadWindow, windowSeconds)
	}
	return b.eng.FlowAvgLatency(flowID, windowSeconds)
}

// LinkIDs returns all link indices in registration order.
func (b *Bridge) LinkIDs() ([]int, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}
	return b.eng.KB().LinkIndices(), nil
}

// LinkAvgUtilization returns the mean utilization fraction in [0,1] for
// a link over the trailing window.
func (b *Bridge) LinkAvgUtilization(linkIndex int, windowSeconds float64) (float64, error) {
	if err := b.guard(); err != nil {
		return 0, err
	}
	if windowSeconds < 0 {
		return 0, fmt.Errorf("%w: %v", ErrBadWindow, windowSeconds)
	}
	return b.eng.LinkAvgUtilization(linkIndex, windowSeconds)
}

// FlowPath returns the ordered node-id sequence currently in effect for
// the flow, source to destination. An unknown flow yields an empty
// sequence, not an error; a poller that raced a flow teardown should
// degrade, not crash.
func (b *Bridge) FlowPath(flowID int) ([]int, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}
	path, err := b.eng.KB().FlowPath(flowID)
	if err != nil {
		if errors.Is(err, core.ErrUnknownFlow) {
			return []int{}, nil
		}
		return nil, err
	}
	return path, nil
}

// FlowEndpoints returns the flow's (source VM, destination VM) pair.
func (b *Bridge) FlowEndpoints(flowID int) (int, int, error) {
	if err := b.guard(); err != nil {
		return 0, 0, err
	}
	return b.eng.FlowEndpoints(flowID)
}

// RerouteFlow asks the engine to recompute the flow's path and reports
// whether a new path was installed. Unknown flows and "no improving
// alternative" both report false; neither is an error.
func (b *Bridge) RerouteFlow(flowID int) (bool, error) {
	if err := b.guard(); err != nil {
		return false, err
	}
	rerouted, err := b.eng.RerouteFlow(flowID)
	if err != nil {
		if errors.Is(err, core.ErrUnknownFlow) {
			return false, nil
		}
		return false, err
	}
	return rerouted, nil
}

// ExpectedLatency returns the engine's algorithmic latency estimate
// between two VMs, independent of measured samples.
func (b *Bridge) ExpectedLatency(srcVM, dstVM, flowID int) (float64, error) {
	if err := b.guard(); err != nil {
		return 0, err
	}
	return b.eng.ExpectedLatency(srcVM, dstVM, flowID)
}

// RequestedBandwidth returns the configured bandwidth demand of a flow.
func (b *Bridge) RequestedBandwidth(flowID int) (float64, error) {
	if err := b.guard(); err != nil {
		return 0, err
	}
	return b.eng.RequestedBandwidth(flowID)
}

// Time returns the current simulation clock value in seconds. It is
// monotonically non-decreasing for the life of the session.
func (b *Bridge) Time() (float64, error) {
	if err := b.guard(); err != nil {
		return 0, err
	}
	return b.eng.Clock(), nil
}
