// core/topology_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/netsimworks/sdn-simulator/model"
)

// TopologySummary is a small summary of what was loaded from JSON.
// It’s mainly useful for logging or debugging from main().
type TopologySummary struct {
	HostIDs   []int
	SwitchIDs []int
	LinkCount int
}

// internal JSON shapes – keep them unexported so we’re free to evolve them.
type topologyJSON struct {
	Hosts    []hostJSON   `json:"hosts"`
	Switches []switchJSON `json:"switches"`
	Links    []linkJSON   `json:"links"`
}

type hostJSON struct {
	Name        string  `json:"name"`
	Cores       int     `json:"cores"`
	MIPSPerCore float64 `json:"mips_per_core"`
	RAMMB       int     `json:"ram_mb"`
}

type switchJSON struct {
	Name string `json:"name"`
	Tier string `json:"tier"` // "edge" | "aggregation" | "core"
}

type linkJSON struct {
	A         string  `json:"a"`
	B         string  `json:"b"`
	Bandwidth float64 `json:"bandwidth"`
	// Latency is the uncongested traversal latency in seconds.
	Latency float64 `json:"latency"`
}

// LoadTopology reads a JSON physical topology from r, populates the
// KnowledgeBase with hosts, switches, and links, and returns a summary
// of what was loaded.
//
// Node IDs are assigned densely in file order, hosts first, then
// switches; link indices follow the file's link order. Both stay stable
// for the whole session.
func LoadTopology(kb *KnowledgeBase, r io.Reader) (*TopologySummary, error) {
	if kb == nil {
		return nil, fmt.Errorf("LoadTopology: kb is nil")
	}

	var payload topologyJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadTopology: decode failed: %w", err)
	}
	if len(payload.Hosts) == 0 {
		return nil, fmt.Errorf("LoadTopology: topology declares no hosts")
	}

	result := &TopologySummary{
		HostIDs:   make([]int, 0, len(payload.Hosts)),
		SwitchIDs: make([]int, 0, len(payload.Switches)),
	}

	for _, h := range payload.Hosts {
		if h.Name == "" {
			return nil, fmt.Errorf("LoadTopology: host with empty name")
		}
		id, err := kb.AddHost(&model.Host{
			Name:        h.Name,
			Cores:       h.Cores,
			MIPSPerCore: h.MIPSPerCore,
			RAMMB:       h.RAMMB,
		})
		if err != nil {
			return nil, fmt.Errorf("LoadTopology: host %q: %w", h.Name, err)
		}
		result.HostIDs = append(result.HostIDs, id)
	}

	for _, s := range payload.Switches {
		if s.Name == "" {
			return nil, fmt.Errorf("LoadTopology: switch with empty name")
		}
		id, err := kb.AddSwitch(&model.Switch{
			Name: s.Name,
			Tier: tierFromString(s.Tier),
		})
		if err != nil {
			return nil, fmt.Errorf("LoadTopology: switch %q: %w", s.Name, err)
		}
		result.SwitchIDs = append(result.SwitchIDs, id)
	}

	for _, l := range payload.Links {
		a, ok := kb.NodeIDByName(l.A)
		if !ok {
			return nil, fmt.Errorf("LoadTopology: link references unknown node %q", l.A)
		}
		b, ok := kb.NodeIDByName(l.B)
		if !ok {
			return nil, fmt.Errorf("LoadTopology: link references unknown node %q", l.B)
		}
		if _, err := kb.AddLink(a, b, l.Bandwidth, l.Latency); err != nil {
			return nil, fmt.Errorf("LoadTopology: link %s-%s: %w", l.A, l.B, err)
		}
		result.LinkCount++
	}

	return result, nil
}

// tierFromString maps the JSON "tier" string to our Tier* constants.
//
// We keep this tolerant: unknown / empty values default to TierEdge,
// because that’s where most declared switches sit in small topologies.
func tierFromString(s string) model.SwitchTier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "core":
		return model.TierCore
	case "aggregation", "agg":
		return model.TierAggregation
	case "edge", "":
		return model.TierEdge
	default:
		return model.TierEdge
	}
}
