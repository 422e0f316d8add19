package model

// VM represents a virtual machine placed onto a host by the allocation
// policy. The ID is assigned at creation and stable for the session.
type VM struct {
	ID   int
	Name string

	// Requested capacity, matched against Host capacity by the
	// VM allocation policy.
	Cores int
	MIPS  float64
	RAMMB int
}

// FlowConfig describes a traffic demand between two VMs. It is the
// declarative input from which the engine creates a live flow record.
type FlowConfig struct {
	// ID is the flow's stable identifier. IDs are assigned at creation
	// and never reused within a session.
	ID int

	SrcVMID int
	DstVMID int

	// RequestedBandwidth is the demand in bandwidth units per second
	// (the same units link capacities are declared in).
	RequestedBandwidth float64
}
