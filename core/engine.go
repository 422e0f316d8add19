package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/netsimworks/sdn-simulator/model"
)

// Engine is the discrete-time network simulation engine. It owns the
// knowledge base holding all live flow/link state, advances the
// simulation clock, and applies the configured routing and allocation
// policies.
//
// Concurrency contract: Advance is called by exactly one background
// goroutine per session. RerouteFlow takes the write lock and is the only
// other mutator. All query methods are safe to call concurrently with
// both and never block on simulation progress.
type Engine struct {
	kb      *KnowledgeBase
	linkSel LinkSelectionPolicy
	alloc   VMAllocationPolicy

	clockMu sync.RWMutex
	clock   float64

	// coresMu guards usedCores and makes each PlaceVM
	// (choose host, record placement, charge cores) atomic, so
	// concurrent placements cannot overcommit a host.
	coresMu   sync.Mutex
	usedCores map[int]int

	tick uint64
}

// EngineOption customises Engine construction.
type EngineOption func(*Engine)

// WithLinkSelectionPolicy overrides the default bandwidth-allocation
// link selection policy.
func WithLinkSelectionPolicy(p LinkSelectionPolicy) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.linkSel = p
		}
	}
}

// WithVMAllocationPolicy overrides the default least-full-first VM
// allocation policy.
func WithVMAllocationPolicy(p VMAllocationPolicy) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.alloc = p
		}
	}
}

// NewEngine constructs an engine over an already-populated knowledge base.
func NewEngine(kb *KnowledgeBase, opts ...EngineOption) *Engine {
	e := &Engine{
		kb:        kb,
		linkSel:   NewBandwidthAllocationSelection(),
		alloc:     LeastFullFirstAllocation{},
		usedCores: make(map[int]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// KB exposes the engine's knowledge base.
func (e *Engine) KB() *KnowledgeBase { return e.kb }

// LinkSelectionPolicyName reports the active link selection policy.
func (e *Engine) LinkSelectionPolicyName() string { return e.linkSel.Name() }

// Clock returns the current simulation time in seconds. It is
// monotonically non-decreasing for the life of the session.
func (e *Engine) Clock() float64 {
	e.clockMu.RLock()
	defer e.clockMu.RUnlock()
	return e.clock
}

//
// ---------- Setup ----------
//

// PlaceVM places a VM onto a host chosen by the allocation policy and
// returns the selected host node ID.
func (e *Engine) PlaceVM(vm *model.VM) (int, error) {
	if vm == nil {
		return 0, fmt.Errorf("place vm: nil vm")
	}

	e.coresMu.Lock()
	defer e.coresMu.Unlock()

	node, err := e.alloc.Place(vm, e.hostLoadsLocked())
	if err != nil {
		return 0, fmt.Errorf("place vm %d: %w", vm.ID, err)
	}
	if err := e.kb.PlaceVM(vm, node); err != nil {
		return 0, err
	}
	e.usedCores[node] += vm.Cores
	return node, nil
}

// hostLoadsLocked snapshots per-host core usage. Callers must hold
// e.coresMu.
func (e *Engine) hostLoadsLocked() []HostLoad {
	kb := e.kb
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	loads := make([]HostLoad, 0, len(kb.nodes))
	for _, n := range kb.nodes {
		if n.Kind != model.NodeKindHost {
			continue
		}
		loads = append(loads, HostLoad{
			NodeID:    n.ID,
			Host:      n.Host,
			UsedCores: e.usedCores[n.ID],
		})
	}
	sort.Slice(loads, func(i, j int) bool { return loads[i].NodeID < loads[j].NodeID })
	return loads
}

// CreateFlow registers a live flow for a traffic demand and installs its
// initial path, computed with the configured link selection policy.
func (e *Engine) CreateFlow(cfg model.FlowConfig) (*Flow, error) {
	kb := e.kb
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.flows[cfg.ID]; exists {
		return nil, fmt.Errorf("%w: %d", ErrFlowExists, cfg.ID)
	}
	if cfg.RequestedBandwidth <= 0 {
		return nil, fmt.Errorf("create flow %d: bandwidth must be positive", cfg.ID)
	}

	src, ok := kb.vms[cfg.SrcVMID]
	if !ok {
		return nil, fmt.Errorf("create flow %d: src %w: %d", cfg.ID, ErrUnknownVM, cfg.SrcVMID)
	}
	dst, ok := kb.vms[cfg.DstVMID]
	if !ok {
		return nil, fmt.Errorf("create flow %d: dst %w: %d", cfg.ID, ErrUnknownVM, cfg.DstVMID)
	}

	path, _, err := kb.shortestPathLocked(src.hostNode, dst.hostNode, e.linkSel)
	if err != nil {
		return nil, fmt.Errorf("create flow %d: %w", cfg.ID, err)
	}

	f := &Flow{
		ID:                 cfg.ID,
		SrcVM:              cfg.SrcVMID,
		DstVM:              cfg.DstVMID,
		RequestedBandwidth: cfg.RequestedBandwidth,
		path:               path,
		latency:            NewMetricWindow(0),
	}
	kb.flows[f.ID] = f
	return f, nil
}

//
// ---------- Simulation tick ----------
//

// Advance moves the simulation clock to now (seconds) and processes one
// tick: it re-derives per-link bandwidth allocation from the installed
// flow paths, then records a utilization sample per link and a latency
// sample per flow. The clock never moves backwards.
func (e *Engine) Advance(now float64) {
	e.clockMu.Lock()
	if now < e.clock {
		now = e.clock
	}
	e.clock = now
	e.clockMu.Unlock()

	kb := e.kb
	kb.mu.Lock()
	defer kb.mu.Unlock()

	e.tick++

	for _, l := range kb.links {
		l.allocated = 0
	}
	for _, f := range kb.flows {
		for i := 0; i+1 < len(f.path); i++ {
			if l, err := kb.linkBetweenLocked(f.path[i], f.path[i+1]); err == nil {
				l.allocated += f.RequestedBandwidth
			}
		}
	}

	for _, l := range kb.links {
		util := 0.0
		if l.Capacity > 0 {
			util = l.allocated / l.Capacity
			if util > 1 {
				util = 1
			}
		}
		l.utilization.Record(now, util)
	}

	for _, f := range kb.flows {
		lat := 0.0
		for i := 0; i+1 < len(f.path); i++ {
			l, err := kb.linkBetweenLocked(f.path[i], f.path[i+1])
			if err != nil {
				continue
			}
			util := 0.0
			if l.Capacity > 0 {
				util = l.allocated / l.Capacity
				if util > 1 {
					util = 1
				}
			}
			// Congestion inflates traversal latency linearly; a fully
			// loaded link doubles its base latency.
			lat += l.BaseLatency * (1 + util)
		}
		lat *= 1 + tickJitter(e.tick, f.ID)
		f.latency.Record(now, lat)
	}
}

// tickJitter derives a small deterministic perturbation in [0, 0.02) so
// latency samples vary tick to tick without a shared RNG.
func tickJitter(tick uint64, flowID int) float64 {
	return 0.02 * float64((tick*31+uint64(flowID)*17)%8) / 8
}

//
// ---------- Queries and commands ----------
//

// FlowAvgLatency returns the mean latency sample for the flow over the
// trailing window (seconds of simulation time). ErrUnknownFlow marks a
// nonexistent flow; ErrNoSamples marks a known flow with nothing in the
// window yet.
func (e *Engine) FlowAvgLatency(id int, window float64) (float64, error) {
	f, err := e.kb.Flow(id)
	if err != nil {
		return 0, err
	}
	avg, ok := f.latency.Average(e.Clock(), window)
	if !ok {
		return 0, fmt.Errorf("%w: flow %d", ErrNoSamples, id)
	}
	return avg, nil
}

// LinkAvgUtilization returns the mean utilization fraction in [0,1] for
// the link over the trailing window.
func (e *Engine) LinkAvgUtilization(index int, window float64) (float64, error) {
	l, err := e.kb.Link(index)
	if err != nil {
		return 0, err
	}
	avg, ok := l.utilization.Average(e.Clock(), window)
	if !ok {
		return 0, fmt.Errorf("%w: link %d", ErrNoSamples, index)
	}
	return avg, nil
}

// FlowEndpoints returns the flow's (source VM, destination VM) pair.
func (e *Engine) FlowEndpoints(id int) (int, int, error) {
	f, err := e.kb.Flow(id)
	if err != nil {
		return 0, 0, err
	}
	return f.SrcVM, f.DstVM, nil
}

// RequestedBandwidth returns the flow's configured bandwidth demand.
func (e *Engine) RequestedBandwidth(id int) (float64, error) {
	f, err := e.kb.Flow(id)
	if err != nil {
		return 0, err
	}
	return f.RequestedBandwidth, nil
}

// ExpectedLatency computes a fresh algorithmic latency estimate between
// two VMs using the link selection policy's current weights. It is
// independent of measured samples and is never cached. The flowID mirrors
// the wire signature; the estimate itself does not depend on it.
func (e *Engine) ExpectedLatency(srcVM, dstVM, flowID int) (float64, error) {
	kb := e.kb

	kb.mu.RLock()
	defer kb.mu.RUnlock()

	src, ok := kb.vms[srcVM]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownVM, srcVM)
	}
	dst, ok := kb.vms[dstVM]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownVM, dstVM)
	}
	_, cost, err := kb.shortestPathLocked(src.hostNode, dst.hostNode, e.linkSel)
	if err != nil {
		return 0, err
	}
	return cost, nil
}

// RerouteFlow recomputes the flow's path with the link selection policy
// and installs it when it differs from, and weighs less than, the path
// currently in effect. It reports whether a new path was installed.
// Any caller reading the path after a true result observes the new path.
func (e *Engine) RerouteFlow(id int) (bool, error) {
	kb := e.kb
	kb.mu.Lock()
	defer kb.mu.Unlock()

	f, ok := kb.flows[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownFlow, id)
	}
	src, ok := kb.vms[f.SrcVM]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownVM, f.SrcVM)
	}
	dst, ok := kb.vms[f.DstVM]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownVM, f.DstVM)
	}

	candidate, cost, err := kb.shortestPathLocked(src.hostNode, dst.hostNode, e.linkSel)
	if err != nil {
		// No alternative at all is "no improving path", not a failure.
		return false, nil
	}
	if samePath(candidate, f.path) {
		return false, nil
	}
	current, err := kb.pathWeightLocked(f.path, e.linkSel)
	if err == nil && cost >= current {
		return false, nil
	}

	// Copy-on-write: replace the slice, never mutate in place.
	f.path = candidate
	return true, nil
}

func samePath(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
