package model

// NodeKind distinguishes the two kinds of topology nodes.
type NodeKind int

const (
	NodeKindUnknown NodeKind = iota
	NodeKindHost             // compute host, can run VMs
	NodeKindSwitch           // forwarding element only
)

// SwitchTier is a coarse position of a switch in the datacenter fabric.
type SwitchTier string

const (
	TierEdge        SwitchTier = "edge"
	TierAggregation SwitchTier = "aggregation"
	TierCore        SwitchTier = "core"
)

// Host represents a physical compute host attached to the network fabric.
// Capacity fields are what the VM allocation policy bins VMs against.
type Host struct {
	Name string

	// Cores is the number of processing cores available for VMs.
	Cores int
	// MIPSPerCore is the per-core processing capacity.
	MIPSPerCore float64
	// RAMMB is the memory capacity in megabytes.
	RAMMB int
}

// Switch represents a forwarding element in the fabric.
type Switch struct {
	Name string
	Tier SwitchTier
}
