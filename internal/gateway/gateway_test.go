package gateway

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/netsimworks/sdn-simulator/core"
	"github.com/netsimworks/sdn-simulator/internal/bridge"
	"github.com/netsimworks/sdn-simulator/model"
)

func testGateway(t *testing.T) (*Gateway, *bridge.Bridge, *core.Engine) {
	t.Helper()
	kb := core.NewKnowledgeBase()

	for _, name := range []string{"h0", "h1"} {
		if _, err := kb.AddHost(&model.Host{Name: name, Cores: 4}); err != nil {
			t.Fatalf("AddHost(%s): %v", name, err)
		}
	}
	if _, err := kb.AddSwitch(&model.Switch{Name: "edge0", Tier: model.TierEdge}); err != nil {
		t.Fatalf("AddSwitch: %v", err)
	}
	if _, err := kb.AddLink(0, 2, 100000, 0.1); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if _, err := kb.AddLink(1, 2, 100000, 0.1); err != nil {
		t.Fatalf("AddLink: %v", err)
	}

	eng := core.NewEngine(kb)
	if err := kb.PlaceVM(&model.VM{ID: 0, Name: "vm-0", Cores: 1}, 0); err != nil {
		t.Fatalf("PlaceVM(0): %v", err)
	}
	if err := kb.PlaceVM(&model.VM{ID: 1, Name: "vm-1", Cores: 1}, 1); err != nil {
		t.Fatalf("PlaceVM(1): %v", err)
	}
	if _, err := eng.CreateFlow(model.FlowConfig{ID: 0, SrcVMID: 0, DstVMID: 1, RequestedBandwidth: 50000}); err != nil {
		t.Fatalf("CreateFlow: %v", err)
	}

	br := bridge.New(eng, nil)
	g := New(br, nil, WithAddr("127.0.0.1:0"))
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(g.Close)

	return g, br, eng
}

func dialGateway(t *testing.T, g *Gateway) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+g.Addr()+"/bridge", nil)
	if err != nil {
		t.Fatalf("dial %s: %v", g.Addr(), err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req Request) Response {
	t.Helper()
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write %s: %v", req.Op, err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp Response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read %s: %v", req.Op, err)
	}
	return resp
}

func intPtr(v int) *int { return &v }

func TestGatewayQueryRoundTrips(t *testing.T) {
	g, _, eng := testGateway(t)
	eng.Advance(1.0)
	conn := dialGateway(t, g)

	resp := roundTrip(t, conn, Request{ID: 1, Op: OpGetFlowIDs})
	if resp.Status != StatusOK || resp.ID != 1 {
		t.Fatalf("getFlowIds = %+v", resp)
	}
	if len(resp.IDs) != 1 || resp.IDs[0] != 0 {
		t.Fatalf("getFlowIds ids = %v, want [0]", resp.IDs)
	}

	resp = roundTrip(t, conn, Request{ID: 2, Op: OpGetAllLinkIDs})
	if resp.Status != StatusOK || len(resp.IDs) != 2 {
		t.Fatalf("getAllLinkIds = %+v", resp)
	}

	resp = roundTrip(t, conn, Request{ID: 3, Op: OpGetFlowAvgLatency, FlowID: intPtr(0), WindowSeconds: floatPtr(2)})
	if resp.Status != StatusOK || resp.Value == nil || *resp.Value <= 0 {
		t.Fatalf("getFlowAvgLatency = %+v", resp)
	}

	resp = roundTrip(t, conn, Request{ID: 4, Op: OpGetLinkAvgUtilization, LinkIndex: intPtr(0), WindowSeconds: floatPtr(2)})
	if resp.Status != StatusOK || resp.Value == nil || *resp.Value != 0.5 {
		t.Fatalf("getLinkAvgUtilization = %+v", resp)
	}

	resp = roundTrip(t, conn, Request{ID: 5, Op: OpGetFlowPath, FlowID: intPtr(0)})
	if resp.Status != StatusOK || len(resp.Path) != 3 {
		t.Fatalf("getFlowPath = %+v", resp)
	}

	resp = roundTrip(t, conn, Request{ID: 6, Op: OpGetFlowEndpoints, FlowID: intPtr(0)})
	if resp.Status != StatusOK || len(resp.Endpoints) != 2 || resp.Endpoints[0] != 0 || resp.Endpoints[1] != 1 {
		t.Fatalf("getFlowEndpoints = %+v", resp)
	}

	resp = roundTrip(t, conn, Request{ID: 7, Op: OpGetExpectedLatency, SrcVM: intPtr(0), DstVM: intPtr(1), FlowID: intPtr(0)})
	if resp.Status != StatusOK || resp.Value == nil || *resp.Value <= 0 {
		t.Fatalf("getExpectedLatency = %+v", resp)
	}

	resp = roundTrip(t, conn, Request{ID: 8, Op: OpGetRequestedBandwidth, FlowID: intPtr(0)})
	if resp.Status != StatusOK || resp.Value == nil || *resp.Value != 50000 {
		t.Fatalf("getRequestedBandwidth = %+v", resp)
	}

	resp = roundTrip(t, conn, Request{ID: 9, Op: OpGetTime})
	if resp.Status != StatusOK || resp.Value == nil || *resp.Value != 1.0 {
		t.Fatalf("getTime = %+v", resp)
	}

	resp = roundTrip(t, conn, Request{ID: 10, Op: OpRerouteFlow, FlowID: intPtr(0)})
	if resp.Status != StatusOK || resp.Rerouted == nil {
		t.Fatalf("rerouteFlow = %+v", resp)
	}
}

func TestGatewaySentinels(t *testing.T) {
	g, _, _ := testGateway(t)
	conn := dialGateway(t, g)

	// Known flow, no samples yet.
	resp := roundTrip(t, conn, Request{Op: OpGetFlowAvgLatency, FlowID: intPtr(0), WindowSeconds: floatPtr(2)})
	if resp.Status != StatusNoData {
		t.Fatalf("no-data status = %q, want %q", resp.Status, StatusNoData)
	}
	if resp.Value == nil || *resp.Value != NoDataValue {
		t.Fatalf("no-data value = %v, want %v", resp.Value, NoDataValue)
	}

	// Unknown flow.
	resp = roundTrip(t, conn, Request{Op: OpGetFlowAvgLatency, FlowID: intPtr(42), WindowSeconds: floatPtr(2)})
	if resp.Status != StatusUnknownEntity || resp.Value == nil || *resp.Value != NoDataValue {
		t.Fatalf("unknown-flow latency = %+v", resp)
	}

	// Unknown flow path degrades to an empty sequence.
	resp = roundTrip(t, conn, Request{Op: OpGetFlowPath, FlowID: intPtr(42)})
	if resp.Status != StatusOK || len(resp.Path) != 0 {
		t.Fatalf("unknown-flow path = %+v", resp)
	}

	// Unknown flow endpoints come back as the sentinel pair.
	resp = roundTrip(t, conn, Request{Op: OpGetFlowEndpoints, FlowID: intPtr(42)})
	if resp.Status != StatusUnknownEntity {
		t.Fatalf("unknown-flow endpoints status = %q", resp.Status)
	}
	if len(resp.Endpoints) != 2 || resp.Endpoints[0] != -1 || resp.Endpoints[1] != -1 {
		t.Fatalf("unknown-flow endpoints = %v, want [-1 -1]", resp.Endpoints)
	}

	// Unknown flow reroute is "nothing changed", not an error.
	resp = roundTrip(t, conn, Request{Op: OpRerouteFlow, FlowID: intPtr(42)})
	if resp.Status != StatusOK || resp.Rerouted == nil || *resp.Rerouted {
		t.Fatalf("unknown-flow reroute = %+v", resp)
	}
}

func TestGatewayBadRequests(t *testing.T) {
	g, _, _ := testGateway(t)
	conn := dialGateway(t, g)

	cases := []Request{
		{Op: OpGetFlowAvgLatency},                                                       // missing args
		{Op: OpGetLinkAvgUtilization, LinkIndex: intPtr(0)},                             // missing window
		{Op: OpGetFlowPath},                                                             // missing flow
		{Op: OpGetExpectedLatency, SrcVM: intPtr(0)},                                    // missing dst and flow
		{Op: "selfDestruct"},                                                            // unknown op
		{Op: OpGetFlowAvgLatency, FlowID: intPtr(0), WindowSeconds: floatPtr(-1)},       // negative window
	}
	for _, req := range cases {
		resp := roundTrip(t, conn, req)
		if resp.Status != StatusBadRequest {
			t.Fatalf("%s: status = %q, want %q (%+v)", req.Op, resp.Status, StatusBadRequest, resp)
		}
		if resp.Error == "" {
			t.Fatalf("%s: bad request carries no error message", req.Op)
		}
	}
}

func TestGatewaySessionClosedStatus(t *testing.T) {
	g, br, _ := testGateway(t)
	conn := dialGateway(t, g)

	br.Close()
	resp := roundTrip(t, conn, Request{Op: OpGetTime})
	if resp.Status != StatusSessionClosed {
		t.Fatalf("status after bridge close = %q, want %q", resp.Status, StatusSessionClosed)
	}
}

func TestGatewayReconnect(t *testing.T) {
	g, _, _ := testGateway(t)

	first := dialGateway(t, g)
	resp := roundTrip(t, first, Request{Op: OpGetFlowIDs})
	if resp.Status != StatusOK {
		t.Fatalf("first connection: %+v", resp)
	}
	first.Close()

	// The session outlives any one client connection.
	second := dialGateway(t, g)
	resp = roundTrip(t, second, Request{Op: OpGetFlowIDs})
	if resp.Status != StatusOK {
		t.Fatalf("reconnected client: %+v", resp)
	}
}

func TestGatewayHealthz(t *testing.T) {
	g, _, _ := testGateway(t)

	resp, err := http.Get("http://" + g.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestGatewayCloseDropsConnections(t *testing.T) {
	g, _, _ := testGateway(t)
	conn := dialGateway(t, g)

	g.Close()
	g.Close() // idempotent

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp Response
	if err := conn.ReadJSON(&resp); err == nil {
		t.Fatal("read succeeded on a connection the gateway closed")
	}
}
