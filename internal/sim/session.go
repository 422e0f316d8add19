// Package sim owns the simulation session lifecycle: one engine, one
// background clock goroutine, one bridge, and one gateway per session,
// started and torn down together.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netsimworks/sdn-simulator/core"
	"github.com/netsimworks/sdn-simulator/internal/bridge"
	"github.com/netsimworks/sdn-simulator/internal/gateway"
	"github.com/netsimworks/sdn-simulator/internal/logging"
	"github.com/netsimworks/sdn-simulator/internal/observability"
	"github.com/netsimworks/sdn-simulator/model"
	"github.com/netsimworks/sdn-simulator/timectrl"
)

var (
	// ErrAlreadyStarted marks a Start on a session that is not in the
	// NotStarted state. Sessions run exactly once; transitions never go
	// backwards.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrInitialization wraps any setup failure surfaced from Start.
	// When it is returned, nothing was spawned and nothing is listening.
	ErrInitialization = errors.New("session initialization failed")
)

// State is the session lifecycle state.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config describes one simulation session.
type Config struct {
	// TopologyPath is the JSON physical topology file. Ignored when
	// Topology is set (tests inject readers directly).
	TopologyPath string
	Topology     io.Reader

	// Tick is the simulation time step; Mode selects wall-clock pacing.
	Tick time.Duration
	Mode timectrl.Mode

	// RunDuration bounds the simulation clock in simulation time.
	// Zero means "run until Stop".
	RunDuration time.Duration

	// ListenAddr is the gateway's host:port (":0" picks a free port).
	ListenAddr string

	// Seed workload: VMCount VMs placed by the allocation policy and
	// FlowCount chain flows (VM i -> VM i+1) at FlowBandwidth each.
	VMCount       int
	FlowCount     int
	FlowBandwidth float64

	// Policies; nil selects the engine defaults.
	LinkSelection core.LinkSelectionPolicy
	Allocation    core.VMAllocationPolicy

	// StopTimeout bounds how long Stop waits for the clock goroutine to
	// join before giving up and completing anyway.
	StopTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 100 * time.Millisecond
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":9797"
	}
	if c.VMCount <= 0 {
		c.VMCount = 4
	}
	if c.FlowCount <= 0 {
		c.FlowCount = 3
	}
	if c.FlowBandwidth <= 0 {
		c.FlowBandwidth = 50000
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	return c
}

// Session is the lifecycle manager for one simulation run. It owns the
// engine, the background clock goroutine, the bridge, and the gateway,
// and moves strictly NotStarted -> Running -> Stopped.
type Session struct {
	cfg       Config
	log       logging.Logger
	collector *observability.BridgeCollector

	// state is read lock-free by IsRunning; transitions happen under mu.
	state atomic.Int32

	mu     sync.Mutex
	eng    *core.Engine
	bridge *bridge.Bridge
	gw     *gateway.Gateway
	clock  *timectrl.TimeController
	done   <-chan struct{}
}

// NewSession constructs a session; nothing runs until Start.
func NewSession(cfg Config, log logging.Logger, collector *observability.BridgeCollector) *Session {
	if log == nil {
		log = logging.Noop()
	}
	return &Session{
		cfg:       cfg.withDefaults(),
		log:       log,
		collector: collector,
	}
}

// Start builds the engine from the configured topology, seeds the
// workload, opens the gateway, and spawns the background clock goroutine
// that drives the simulation. It returns as soon as everything is up;
// the simulation keeps advancing until Stop.
//
// Start is atomic: on any setup failure it returns an error wrapping
// ErrInitialization, the session stays NotStarted, and no goroutine or
// listener is left behind. Starting a session that is Running or Stopped
// fails with ErrAlreadyStarted and has no side effects.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := State(s.state.Load()); st != StateNotStarted {
		return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, st)
	}

	cfg := s.cfg

	topo := cfg.Topology
	if topo == nil {
		f, err := os.Open(cfg.TopologyPath)
		if err != nil {
			return fmt.Errorf("%w: open topology: %v", ErrInitialization, err)
		}
		defer f.Close()
		topo = f
	}

	kb := core.NewKnowledgeBase()
	summary, err := core.LoadTopology(kb, topo)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitialization, err)
	}

	var engOpts []core.EngineOption
	if cfg.LinkSelection != nil {
		engOpts = append(engOpts, core.WithLinkSelectionPolicy(cfg.LinkSelection))
	}
	if cfg.Allocation != nil {
		engOpts = append(engOpts, core.WithVMAllocationPolicy(cfg.Allocation))
	}
	eng := core.NewEngine(kb, engOpts...)

	if err := seedWorkload(eng, cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInitialization, err)
	}

	br := bridge.New(eng, s.log)

	gw := gateway.New(br, s.log,
		gateway.WithAddr(cfg.ListenAddr),
		gateway.WithCollector(s.collector),
	)
	if err := gw.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrInitialization, err)
	}

	s.collector.SetScenarioCounts(kb.VMCount(), kb.FlowCount(), kb.LinkCount())

	clock := timectrl.NewTimeController(time.Now().UTC(), cfg.Tick, cfg.Mode)
	clock.AddListener(func(time.Time) {
		eng.Advance(clock.ElapsedSeconds())
		s.collector.SetSimClock(eng.Clock())
	})

	s.eng = eng
	s.bridge = br
	s.gw = gw
	s.clock = clock
	s.done = clock.Start(cfg.RunDuration)
	s.state.Store(int32(StateRunning))

	s.log.Info(ctx, "session started",
		logging.Int("hosts", len(summary.HostIDs)),
		logging.Int("switches", len(summary.SwitchIDs)),
		logging.Int("links", summary.LinkCount),
		logging.Int("vms", kb.VMCount()),
		logging.Int("flows", kb.FlowCount()),
		logging.String("gateway_addr", gw.Addr()),
		logging.Duration("tick", cfg.Tick),
	)
	return nil
}

// Stop tears the session down: it closes the gateway first so no new
// remote calls are accepted, marks the bridge closed, then signals the
// clock goroutine and waits up to StopTimeout for it to join. The
// session is marked Stopped unconditionally; a clock goroutine that
// misses the deadline is logged, not fatal. Stop is idempotent and never
// returns an error.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch State(s.state.Load()) {
	case StateStopped:
		return nil
	case StateNotStarted:
		s.state.Store(int32(StateStopped))
		return nil
	}

	ctx := context.Background()

	s.gw.Close()
	s.bridge.Close()
	s.clock.Stop()

	select {
	case <-s.done:
	case <-time.After(s.cfg.StopTimeout):
		s.log.Warn(ctx, "clock goroutine did not acknowledge stop within bound",
			logging.Duration("timeout", s.cfg.StopTimeout),
		)
	}

	s.state.Store(int32(StateStopped))
	s.log.Info(ctx, "session stopped", logging.Float64("sim_time", s.eng.Clock()))
	return nil
}

// IsRunning reports whether the session is in the Running state. It is a
// pure state read, safe to call concurrently with Start and Stop without
// blocking on either.
func (s *Session) IsRunning() bool {
	return State(s.state.Load()) == StateRunning
}

// Bridge returns the session's metrics bridge, or nil before Start.
func (s *Session) Bridge() *bridge.Bridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge
}

// GatewayAddr returns the gateway's bound address, or "" before Start.
func (s *Session) GatewayAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gw == nil {
		return ""
	}
	return s.gw.Addr()
}

// Done returns the channel closed when the clock loop exits (bounded
// RunDuration elapsed or Stop), or nil before Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// seedWorkload places the initial VMs and registers the chain flows the
// session is configured with.
func seedWorkload(eng *core.Engine, cfg Config) error {
	if cfg.FlowCount > cfg.VMCount-1 {
		return fmt.Errorf("seed workload: %d chain flows need at least %d VMs, have %d",
			cfg.FlowCount, cfg.FlowCount+1, cfg.VMCount)
	}

	for i := 0; i < cfg.VMCount; i++ {
		vm := &model.VM{
			ID:    i,
			Name:  fmt.Sprintf("vm-%d", i),
			Cores: 1,
			MIPS:  1000,
			RAMMB: 512,
		}
		if _, err := eng.PlaceVM(vm); err != nil {
			return err
		}
	}

	for i := 0; i < cfg.FlowCount; i++ {
		if _, err := eng.CreateFlow(model.FlowConfig{
			ID:                 i,
			SrcVMID:            i,
			DstVMID:            i + 1,
			RequestedBandwidth: cfg.FlowBandwidth,
		}); err != nil {
			return err
		}
	}
	return nil
}
