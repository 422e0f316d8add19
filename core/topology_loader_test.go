package core

import (
	"strings"
	"testing"

	"github.com/netsimworks/sdn-simulator/model"
)

const loaderTopology = `{
	"hosts": [
		{"name": "h0", "cores": 8, "mips_per_core": 2000, "ram_mb": 16384},
		{"name": "h1", "cores": 8, "mips_per_core": 2000, "ram_mb": 16384}
	],
	"switches": [
		{"name": "edge0", "tier": "edge"},
		{"name": "core0", "tier": "core"},
		{"name": "agg0", "tier": "agg"}
	],
	"links": [
		{"a": "h0", "b": "edge0", "bandwidth": 100000, "latency": 0.1},
		{"a": "h1", "b": "edge0", "bandwidth": 100000, "latency": 0.1},
		{"a": "edge0", "b": "core0", "bandwidth": 200000, "latency": 0.05}
	]
}`

func TestLoadTopology(t *testing.T) {
	kb := NewKnowledgeBase()
	summary, err := LoadTopology(kb, strings.NewReader(loaderTopology))
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}

	if len(summary.HostIDs) != 2 || len(summary.SwitchIDs) != 3 || summary.LinkCount != 3 {
		t.Fatalf("summary = %+v, want 2 hosts, 3 switches, 3 links", summary)
	}

	// IDs are dense, hosts first in file order, then switches.
	h0, err := kb.Node(0)
	if err != nil || h0.Kind != model.NodeKindHost || h0.Host.Cores != 8 {
		t.Fatalf("Node(0) = %+v, %v; want host h0 with 8 cores", h0, err)
	}
	edge0, err := kb.Node(2)
	if err != nil || edge0.Kind != model.NodeKindSwitch || edge0.Switch.Tier != model.TierEdge {
		t.Fatalf("Node(2) = %+v, %v; want edge switch", edge0, err)
	}
	agg0, err := kb.Node(4)
	if err != nil || agg0.Switch.Tier != model.TierAggregation {
		t.Fatalf("Node(4) = %+v, %v; want aggregation switch", agg0, err)
	}

	l, err := kb.Link(2)
	if err != nil || l.Name != "edge0-core0" || l.Capacity != 200000 || l.BaseLatency != 0.05 {
		t.Fatalf("Link(2) = %+v, %v", l, err)
	}
}

func TestLoadTopologyRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"malformed json", `{"hosts": [`},
		{"no hosts", `{"switches": [{"name": "edge0"}]}`},
		{"unnamed host", `{"hosts": [{"cores": 4}]}`},
		{"unknown link endpoint", `{
			"hosts": [{"name": "h0", "cores": 4}],
			"links": [{"a": "h0", "b": "nope", "bandwidth": 100, "latency": 0.1}]
		}`},
		{"duplicate node name", `{
			"hosts": [{"name": "h0", "cores": 4}, {"name": "h0", "cores": 4}]
		}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadTopology(NewKnowledgeBase(), strings.NewReader(tc.in)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestTierFromStringIsTolerant(t *testing.T) {
	cases := map[string]model.SwitchTier{
		"core":        model.TierCore,
		" CORE ":      model.TierCore,
		"aggregation": model.TierAggregation,
		"agg":         model.TierAggregation,
		"edge":        model.TierEdge,
		"":            model.TierEdge,
		"mystery":     model.TierEdge,
	}
	for in, want := range cases {
		if got := tierFromString(in); got != want {
			t.Errorf("tierFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
