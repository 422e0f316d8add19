// Package gateway binds the metrics bridge to a WebSocket endpoint for a
// remote control client. It is pure protocol translation: every inbound
// command is forwarded to the bridge and the result mapped onto the wire
// shape, with no business logic of its own.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/netsimworks/sdn-simulator/internal/bridge"
	"github.com/netsimworks/sdn-simulator/internal/logging"
	"github.com/netsimworks/sdn-simulator/internal/observability"
)

const requestIDHeader = "X-Request-Id"

// Gateway serves the bridge protocol on a WebSocket endpoint. Each
// connection gets its own reader goroutine and each command its own
// handler goroutine, so a slow client can never stall the simulation
// clock or other clients. Clients may disconnect and reconnect freely
// for the life of the session.
type Gateway struct {
	bridge    *bridge.Bridge
	log       logging.Logger
	collector *observability.BridgeCollector
	tracer    trace.Tracer

	addr     string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	lis     net.Listener
	srv     *http.Server
	conns   map[*websocket.Conn]struct{}
	started bool
	closed  bool
}

// Option customises Gateway construction.
type Option func(*Gateway)

// WithCollector wires request metrics.
func WithCollector(c *observability.BridgeCollector) Option {
	return func(g *Gateway) { g.collector = c }
}

// WithAddr overrides the listen address (host:port; ":0" picks a free port).
func WithAddr(addr string) Option {
	return func(g *Gateway) {
		if addr != "" {
			g.addr = addr
		}
	}
}

// New constructs a gateway over an existing bridge. The gateway does not
// listen until Start.
func New(b *bridge.Bridge, log logging.Logger, opts ...Option) *Gateway {
	if log == nil {
		log = logging.Noop()
	}
	g := &Gateway{
		bridge: b,
		log:    log,
		tracer: otel.Tracer("github.com/netsimworks/sdn-simulator/internal/gateway"),
		addr:   ":9797",
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The control client is trusted infrastructure, not a browser.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start opens the listener and begins accepting connections. It returns
// once the listener is bound; serving happens on background goroutines.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return fmt.Errorf("gateway already started")
	}

	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", g.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/bridge", g.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	g.lis = lis
	g.srv = &http.Server{Handler: mux}
	g.started = true

	go func() {
		if err := g.srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			g.log.Warn(context.Background(), "gateway server exited", logging.Err(err))
		}
	}()

	g.log.Info(context.Background(), "gateway listening", logging.String("addr", lis.Addr().String()))
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lis == nil {
		return ""
	}
	return g.lis.Addr().String()
}

// Close stops accepting new connections and closes every open one.
// WebSocket connections are hijacked from the HTTP server, so they are
// closed explicitly here. Close is idempotent.
func (g *Gateway) Close() {
	g.mu.Lock()
	if !g.started || g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	srv := g.srv
	open := make([]*websocket.Conn, 0, len(g.conns))
	for c := range g.conns {
		open = append(open, c)
	}
	g.mu.Unlock()

	if srv != nil {
		_ = srv.Close()
	}
	for _, c := range open {
		_ = c.Close()
	}
	g.log.Info(context.Background(), "gateway closed", logging.Int("dropped_conns", len(open)))
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		_ = conn.Close()
		return
	}
	g.conns[conn] = struct{}{}
	total := len(g.conns)
	g.mu.Unlock()

	ctx := r.Context()
	if incoming := r.Header.Get(requestIDHeader); incoming != "" {
		ctx = logging.ContextWithRequestID(ctx, incoming)
	}
	g.log.Info(ctx, "client connected",
		logging.String("remote", conn.RemoteAddr().String()),
		logging.Int("clients", total),
	)

	go g.readLoop(conn)
}

func (g *Gateway) readLoop(conn *websocket.Conn) {
	defer func() {
		g.mu.Lock()
		delete(g.conns, conn)
		g.mu.Unlock()
		_ = conn.Close()
		g.log.Info(context.Background(), "client disconnected",
			logging.String("remote", conn.RemoteAddr().String()),
		)
	}()

	// Writes are serialised per connection; handler goroutines run
	// concurrently but responses interleave whole-message.
	var writeMu sync.Mutex

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				g.log.Warn(context.Background(), "read failed", logging.Err(err))
			}
			return
		}

		// Dispatch on a fresh goroutine so one slow command never
		// blocks the connection's read loop.
		go func(req Request) {
			resp := g.handle(context.Background(), req)
			writeMu.Lock()
			err := conn.WriteJSON(resp)
			writeMu.Unlock()
			if err != nil {
				g.log.Warn(context.Background(), "write failed",
					logging.String("op", req.Op), logging.Err(err))
			}
		}(req)
	}
}

// handle executes one command against the bridge and maps the outcome
// onto the wire shape.
func (g *Gateway) handle(ctx context.Context, req Request) Response {
	ctx, reqLog := logging.WithRequestLogger(ctx, g.log.With(logging.String("op", req.Op)))

	ctx, span := g.tracer.Start(ctx, "gateway."+req.Op,
		trace.WithAttributes(attribute.String("bridge.op", req.Op)),
	)
	defer span.End()

	start := time.Now()
	resp := g.dispatch(req)
	span.SetAttributes(attribute.String("bridge.status", resp.Status))

	if g.collector != nil {
		g.collector.ObserveRequest(req.Op, resp.Status, time.Since(start))
	}
	reqLog.Debug(ctx, "handled bridge op", logging.String("status", resp.Status))
	return resp
}

func (g *Gateway) dispatch(req Request) Response {
	resp := Response{ID: req.ID, Op: req.Op}

	switch req.Op {
	case OpGetFlowIDs:
		ids, err := g.bridge.FlowIDs()
		return finishIDs(resp, ids, err)

	case OpGetAllLinkIDs:
		ids, err := g.bridge.LinkIDs()
		return finishIDs(resp, ids, err)

	case OpGetFlowAvgLatency:
		if req.FlowID == nil || req.WindowSeconds == nil {
			return badRequest(resp, "flow_id and window_seconds are required")
		}
		v, err := g.bridge.FlowAvgLatency(*req.FlowID, *req.WindowSeconds)
		return finishScalar(resp, v, err)

	case OpGetLinkAvgUtilization:
		if req.LinkIndex == nil || req.WindowSeconds == nil {
			return badRequest(resp, "link_index and window_seconds are required")
		}
		v, err := g.bridge.LinkAvgUtilization(*req.LinkIndex, *req.WindowSeconds)
		return finishScalar(resp, v, err)

	case OpGetFlowPath:
		if req.FlowID == nil {
			return badRequest(resp, "flow_id is required")
		}
		path, err := g.bridge.FlowPath(*req.FlowID)
		if err != nil {
			return failed(resp, err)
		}
		resp.Status = StatusOK
		resp.Path = path
		return resp

	case OpGetFlowEndpoints:
		if req.FlowID == nil {
			return badRequest(resp, "flow_id is required")
		}
		src, dst, err := g.bridge.FlowEndpoints(*req.FlowID)
		if err != nil {
			resp = failed(resp, err)
			if resp.Status == StatusUnknownEntity {
				// Sentinel pair: pollers read endpoints without
				// branching on status.
				resp.Endpoints = []int{-1, -1}
			}
			return resp
		}
		resp.Status = StatusOK
		resp.Endpoints = []int{src, dst}
		return resp

	case OpRerouteFlow:
		if req.FlowID == nil {
			return badRequest(resp, "flow_id is required")
		}
		rerouted, err := g.bridge.RerouteFlow(*req.FlowID)
		if err != nil {
			return failed(resp, err)
		}
		resp.Status = StatusOK
		resp.Rerouted = boolPtr(rerouted)
		return resp

	case OpGetExpectedLatency:
		if req.SrcVM == nil || req.DstVM == nil || req.FlowID == nil {
			return badRequest(resp, "src_vm, dst_vm, and flow_id are required")
		}
		v, err := g.bridge.ExpectedLatency(*req.SrcVM, *req.DstVM, *req.FlowID)
		return finishScalar(resp, v, err)

	case OpGetRequestedBandwidth:
		if req.FlowID == nil {
			return badRequest(resp, "flow_id is required")
		}
		v, err := g.bridge.RequestedBandwidth(*req.FlowID)
		return finishScalar(resp, v, err)

	case OpGetTime:
		v, err := g.bridge.Time()
		return finishScalar(resp, v, err)

	default:
		return badRequest(resp, fmt.Sprintf("unknown op %q", req.Op))
	}
}

func finishScalar(resp Response, v float64, err error) Response {
	if err != nil {
		resp = failed(resp, err)
		if resp.Status == StatusNoData || resp.Status == StatusUnknownEntity {
			resp.Value = floatPtr(NoDataValue)
		}
		return resp
	}
	resp.Status = StatusOK
	resp.Value = floatPtr(v)
	return resp
}

func finishIDs(resp Response, ids []int, err error) Response {
	if err != nil {
		return failed(resp, err)
	}
	if ids == nil {
		ids = []int{}
	}
	resp.Status = StatusOK
	resp.IDs = ids
	return resp
}

func failed(resp Response, err error) Response {
	resp.Status = statusFromError(err)
	resp.Error = err.Error()
	return resp
}

func badRequest(resp Response, msg string) Response {
	resp.Status = StatusBadRequest
	resp.Error = msg
	return resp
}
