package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/netsimworks/sdn-simulator/model"
)

var (
	ErrNodeExists  = errors.New("node already exists")
	ErrLinkExists  = errors.New("link already exists")
	ErrVMExists    = errors.New("vm already exists")
	ErrFlowExists  = errors.New("flow already exists")
	ErrUnknownNode = errors.New("unknown node")
	ErrUnknownLink = errors.New("unknown link")
	ErrUnknownVM   = errors.New("unknown vm")
	ErrUnknownFlow = errors.New("unknown flow")
	ErrNotAHost    = errors.New("node is not a host")

	// ErrNoSamples marks a valid entity that has no samples inside the
	// requested trailing window yet.
	ErrNoSamples = errors.New("no samples in window")
	// ErrNoPath is returned when the fabric has no route between two nodes.
	ErrNoPath = errors.New("no path between nodes")
)

// Node is one vertex of the fabric graph: either a compute host or a
// switch. Node IDs are dense integers assigned in creation order and are
// stable for the lifetime of a session.
type Node struct {
	ID   int
	Name string
	Kind model.NodeKind

	// Exactly one of Host/Switch is set, matching Kind.
	Host   *model.Host
	Switch *model.Switch
}

// Link is a bidirectional network edge between two nodes. The utilization
// window is written by the simulation tick and read by gateway handlers.
type Link struct {
	Index int
	Name  string
	A, B  int

	// Capacity in bandwidth units per second.
	Capacity float64
	// BaseLatency is the uncongested traversal latency in seconds.
	BaseLatency float64

	// allocated is the bandwidth currently claimed by flows routed over
	// this link. Written only by the simulation tick while it holds the
	// knowledge-base write lock.
	allocated float64

	utilization *MetricWindow
}

// UtilizationWindow exposes the link's utilization sample buffer.
func (l *Link) UtilizationWindow() *MetricWindow { return l.utilization }

// Other returns the endpoint of the link opposite to node.
func (l *Link) Other(node int) int {
	if l.A == node {
		return l.B
	}
	return l.A
}

// Flow is a live traffic demand between two VMs. The path reflects the
// routing decision currently in effect; it is replaced wholesale on
// reroute (copy-on-write) so concurrent readers never observe a torn
// sequence.
type Flow struct {
	ID    int
	SrcVM int
	DstVM int

	// RequestedBandwidth in bandwidth units per second.
	RequestedBandwidth float64

	// path is an ordered node-id sequence, source host to destination
	// host. Guarded by the knowledge base lock; replaced, never mutated
	// in place.
	path []int

	latency *MetricWindow
}

// LatencyWindow exposes the flow's latency sample buffer.
func (f *Flow) LatencyWindow() *MetricWindow { return f.latency }

type vmPlacement struct {
	vm       *model.VM
	hostNode int
}

// KnowledgeBase is the concurrency-safe store of all live simulation
// state: fabric nodes and links, VM placements, and flows. The simulation
// tick is the sole writer of sample and allocation fields; RerouteFlow is
// the sole writer of flow paths; everything else reads.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes      map[int]*Node
	nodeByName map[string]int
	nextNodeID int

	links []*Link

	linksByNode map[int][]*Link

	vms   map[int]*vmPlacement
	flows map[int]*Flow
}

// NewKnowledgeBase creates an empty knowledge base.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes:       make(map[int]*Node),
		nodeByName:  make(map[string]int),
		linksByNode: make(map[int][]*Link),
		vms:         make(map[int]*vmPlacement),
		flows:       make(map[int]*Flow),
	}
}

//
// ---------- Nodes ----------
//

// AddHost registers a compute host and returns its assigned node ID.
func (kb *KnowledgeBase) AddHost(h *model.Host) (int, error) {
	if h == nil || h.Name == "" {
		return 0, fmt.Errorf("add host: nil or unnamed host")
	}
	return kb.addNode(&Node{Name: h.Name, Kind: model.NodeKindHost, Host: h})
}

// AddSwitch registers a switch and returns its assigned node ID.
func (kb *KnowledgeBase) AddSwitch(sw *model.Switch) (int, error) {
	if sw == nil || sw.Name == "" {
		return 0, fmt.Errorf("add switch: nil or unnamed switch")
	}
	return kb.addNode(&Node{Name: sw.Name, Kind: model.NodeKindSwitch, Switch: sw})
}

func (kb *KnowledgeBase) addNode(n *Node) (int, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.nodeByName[n.Name]; exists {
		return 0, fmt.Errorf("%w: %q", ErrNodeExists, n.Name)
	}
	n.ID = kb.nextNodeID
	kb.nextNodeID++
	kb.nodes[n.ID] = n
	kb.nodeByName[n.Name] = n.ID
	return n.ID, nil
}

// Node returns the node with the given ID.
func (kb *KnowledgeBase) Node(id int) (*Node, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	n, ok := kb.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return n, nil
}

// NodeIDByName resolves a topology-file node name to its ID.
func (kb *KnowledgeBase) NodeIDByName(name string) (int, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	id, ok := kb.nodeByName[name]
	return id, ok
}

// NodeCount returns the number of registered nodes.
func (kb *KnowledgeBase) NodeCount() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.nodes)
}

//
// ---------- Links ----------
//

// AddLink registers a bidirectional link between two existing nodes and
// returns its assigned index. Indices are dense, in registration order.
func (kb *KnowledgeBase) AddLink(a, b int, capacity, baseLatency float64) (int, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	na, ok := kb.nodes[a]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownNode, a)
	}
	nb, ok := kb.nodes[b]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownNode, b)
	}
	for _, l := range kb.linksByNode[a] {
		if l.Other(a) == b {
			return 0, fmt.Errorf("%w: %s-%s", ErrLinkExists, na.Name, nb.Name)
		}
	}
	if capacity <= 0 {
		return 0, fmt.Errorf("add link %s-%s: capacity must be positive", na.Name, nb.Name)
	}

	link := &Link{
		Index:       len(kb.links),
		Name:        na.Name + "-" + nb.Name,
		A:           a,
		B:           b,
		Capacity:    capacity,
		BaseLatency: baseLatency,
		utilization: NewMetricWindow(0),
	}
	kb.links = append(kb.links, link)
	kb.linksByNode[a] = append(kb.linksByNode[a], link)
	kb.linksByNode[b] = append(kb.linksByNode[b], link)
	return link.Index, nil
}

// Link returns the link at the given index.
func (kb *KnowledgeBase) Link(index int) (*Link, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	if index < 0 || index >= len(kb.links) {
		return nil, fmt.Errorf("%w: index %d", ErrUnknownLink, index)
	}
	return kb.links[index], nil
}

// LinkCount returns the number of registered links.
func (kb *KnowledgeBase) LinkCount() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.links)
}

// LinkIndices returns all link indices in registration order.
func (kb *KnowledgeBase) LinkIndices() []int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]int, len(kb.links))
	for i := range kb.links {
		out[i] = i
	}
	return out
}

// AdjacentLinks returns the links attached to a node. The returned slice
// is a copy; the *Link values are shared live records.
func (kb *KnowledgeBase) AdjacentLinks(node int) []*Link {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	ls := kb.linksByNode[node]
	out := make([]*Link, len(ls))
	copy(out, ls)
	return out
}

//
// ---------- VMs ----------
//

// PlaceVM records that vm runs on the given host node.
func (kb *KnowledgeBase) PlaceVM(vm *model.VM, hostNode int) error {
	if vm == nil {
		return fmt.Errorf("place vm: nil vm")
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	n, ok := kb.nodes[hostNode]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, hostNode)
	}
	if n.Kind != model.NodeKindHost {
		return fmt.Errorf("%w: %s", ErrNotAHost, n.Name)
	}
	if _, exists := kb.vms[vm.ID]; exists {
		return fmt.Errorf("%w: %d", ErrVMExists, vm.ID)
	}
	kb.vms[vm.ID] = &vmPlacement{vm: vm, hostNode: hostNode}
	return nil
}

// VMHostNode returns the node ID of the host a VM is placed on.
func (kb *KnowledgeBase) VMHostNode(vmID int) (int, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	p, ok := kb.vms[vmID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownVM, vmID)
	}
	return p.hostNode, nil
}

// VMCount returns the number of placed VMs.
func (kb *KnowledgeBase) VMCount() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.vms)
}

//
// ---------- Flows ----------
//

// AddFlow registers a live flow record with its initial path.
func (kb *KnowledgeBase) AddFlow(f *Flow) error {
	if f == nil {
		return fmt.Errorf("add flow: nil flow")
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.flows[f.ID]; exists {
		return fmt.Errorf("%w: %d", ErrFlowExists, f.ID)
	}
	if f.latency == nil {
		f.latency = NewMetricWindow(0)
	}
	kb.flows[f.ID] = f
	return nil
}

// Flow returns the live flow record for an ID.
func (kb *KnowledgeBase) Flow(id int) (*Flow, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	f, ok := kb.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFlow, id)
	}
	return f, nil
}

// FlowIDs returns all flow IDs in ascending order.
func (kb *KnowledgeBase) FlowIDs() []int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]int, 0, len(kb.flows))
	for id := range kb.flows {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// FlowCount returns the number of registered flows.
func (kb *KnowledgeBase) FlowCount() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.flows)
}

// FlowPath returns a copy of the flow's current path.
func (kb *KnowledgeBase) FlowPath(id int) ([]int, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	f, ok := kb.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFlow, id)
	}
	out := make([]int, len(f.path))
	copy(out, f.path)
	return out, nil
}
