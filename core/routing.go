package core

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/netsimworks/sdn-simulator/model"
)

// ErrNoCapacity is returned when no host can fit a VM.
var ErrNoCapacity = errors.New("no host with sufficient capacity")

// LinkSelectionPolicy assigns a routing weight to a link. The shortest
// weighted path is the path the engine installs. Implementations are
// selected at configuration time and must be side-effect free; Weight is
// only invoked while the knowledge-base lock is held.
type LinkSelectionPolicy interface {
	Name() string
	Weight(l *Link) float64
}

// BandwidthAllocationSelection weights links by their base latency
// inflated by current bandwidth allocation, so congested links are
// avoided when an alternative exists.
type BandwidthAllocationSelection struct {
	// CongestionPenalty scales how strongly allocation inflates the
	// weight. Zero means "shortest latency regardless of load".
	CongestionPenalty float64
}

// NewBandwidthAllocationSelection returns the policy with the default
// congestion penalty.
func NewBandwidthAllocationSelection() *BandwidthAllocationSelection {
	return &BandwidthAllocationSelection{CongestionPenalty: 4.0}
}

func (p *BandwidthAllocationSelection) Name() string { return "bandwidth-allocation" }

func (p *BandwidthAllocationSelection) Weight(l *Link) float64 {
	util := 0.0
	if l.Capacity > 0 {
		util = l.allocated / l.Capacity
		if util > 1 {
			util = 1
		}
	}
	return l.BaseLatency * (1 + p.CongestionPenalty*util)
}

// HostLoad pairs a host node with its current core usage, for the
// allocation policy to bin VMs against.
type HostLoad struct {
	NodeID    int
	Host      *model.Host
	UsedCores int
}

// VMAllocationPolicy picks the host node a VM is placed on.
type VMAllocationPolicy interface {
	Name() string
	Place(vm *model.VM, hosts []HostLoad) (int, error)
}

// LeastFullFirstAllocation places each VM on the host with the lowest
// core-usage fraction, breaking ties by node ID so placement is
// deterministic.
type LeastFullFirstAllocation struct{}

func (LeastFullFirstAllocation) Name() string { return "least-full-first" }

func (LeastFullFirstAllocation) Place(vm *model.VM, hosts []HostLoad) (int, error) {
	if vm == nil {
		return 0, fmt.Errorf("place: nil vm")
	}

	sorted := make([]HostLoad, len(hosts))
	copy(sorted, hosts)
	sort.Slice(sorted, func(i, j int) bool {
		fi := usageFraction(sorted[i])
		fj := usageFraction(sorted[j])
		if fi != fj {
			return fi < fj
		}
		return sorted[i].NodeID < sorted[j].NodeID
	})

	for _, h := range sorted {
		if h.Host == nil {
			continue
		}
		if h.Host.Cores-h.UsedCores >= vm.Cores {
			return h.NodeID, nil
		}
	}
	return 0, fmt.Errorf("%w: vm %d wants %d cores", ErrNoCapacity, vm.ID, vm.Cores)
}

func usageFraction(h HostLoad) float64 {
	if h.Host == nil || h.Host.Cores == 0 {
		return math.Inf(1)
	}
	return float64(h.UsedCores) / float64(h.Host.Cores)
}

// shortestPathLocked runs Dijkstra from src to dst using the policy's
// link weights. It returns the node path (src..dst inclusive) and its
// total weight. Callers must hold kb.mu (read or write).
//
// Ties are broken towards lower node IDs so repeated computations on an
// unchanged fabric yield the same path.
func (kb *KnowledgeBase) shortestPathLocked(src, dst int, policy LinkSelectionPolicy) ([]int, float64, error) {
	if _, ok := kb.nodes[src]; !ok {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownNode, src)
	}
	if _, ok := kb.nodes[dst]; !ok {
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownNode, dst)
	}
	if src == dst {
		return []int{src}, 0, nil
	}

	dist := map[int]float64{src: 0}
	prev := map[int]int{}
	visited := map[int]bool{}

	for {
		// Pick the unvisited node with the smallest distance, lowest ID
		// on ties. Topologies here are small; linear scan is fine.
		current := -1
		best := math.Inf(1)
		for id, d := range dist {
			if visited[id] {
				continue
			}
			if d < best || (d == best && (current == -1 || id < current)) {
				best = d
				current = id
			}
		}
		if current == -1 {
			return nil, 0, fmt.Errorf("%w: %d -> %d", ErrNoPath, src, dst)
		}
		if current == dst {
			break
		}
		visited[current] = true

		for _, l := range kb.linksByNode[current] {
			next := l.Other(current)
			if visited[next] {
				continue
			}
			cand := dist[current] + policy.Weight(l)
			d, seen := dist[next]
			if !seen || cand < d || (cand == d && current < prev[next]) {
				dist[next] = cand
				prev[next] = current
			}
		}
	}

	path := []int{dst}
	for at := dst; at != src; {
		at = prev[at]
		path = append(path, at)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, dist[dst], nil
}

// pathWeightLocked sums the policy weights of the links along a node
// path. Callers must hold kb.mu.
func (kb *KnowledgeBase) pathWeightLocked(path []int, policy LinkSelectionPolicy) (float64, error) {
	total := 0.0
	for i := 0; i+1 < len(path); i++ {
		l, err := kb.linkBetweenLocked(path[i], path[i+1])
		if err != nil {
			return 0, err
		}
		total += policy.Weight(l)
	}
	return total, nil
}

func (kb *KnowledgeBase) linkBetweenLocked(a, b int) (*Link, error) {
	for _, l := range kb.linksByNode[a] {
		if l.Other(a) == b {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: %d-%d", ErrUnknownLink, a, b)
}
