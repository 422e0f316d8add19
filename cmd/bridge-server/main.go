package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/netsimworks/sdn-simulator/internal/logging"
	"github.com/netsimworks/sdn-simulator/internal/observability"
	"github.com/netsimworks/sdn-simulator/internal/sim"
	"github.com/netsimworks/sdn-simulator/timectrl"
)

func main() {
	listenAddr := flag.String("listen-addr", ":9797", "TCP address the bridge WebSocket gateway listens on")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for Prometheus /metrics")
	topologyPath := flag.String("topology", "configs/topology.json", "Path to the JSON physical topology")
	tick := flag.Duration("tick", 100*time.Millisecond, "simulation tick interval")
	duration := flag.Duration("duration", 0, "bound on simulation time (0 = run until interrupted)")
	accelerated := flag.Bool("accelerated", false, "run in accelerated mode (vs real-time)")
	wait := flag.Bool("wait", false, "keep the gateway open after a bounded -duration run until interrupted")
	vms := flag.Int("vms", 4, "number of VMs to place at startup")
	flows := flag.Int("flows", 3, "number of chain flows to create at startup")
	flowBandwidth := flag.Float64("flow-bandwidth", 50000, "requested bandwidth per seeded flow")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	collector, err := observability.NewBridgeCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		os.Exit(1)
	}

	metricsSrv := serveMetrics(*metricsAddr, collector, log)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.Err(err))
		shutdownTracing = nil
	}

	mode := timectrl.RealTime
	if *accelerated {
		mode = timectrl.Accelerated
	}

	session := sim.NewSession(sim.Config{
		TopologyPath:  *topologyPath,
		Tick:          *tick,
		Mode:          mode,
		RunDuration:   *duration,
		ListenAddr:    *listenAddr,
		VMCount:       *vms,
		FlowCount:     *flows,
		FlowBandwidth: *flowBandwidth,
	}, log, collector)

	if err := session.Start(ctx); err != nil {
		log.Error(ctx, "failed to start simulation session", logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	waitForShutdown(*wait, *duration, session.Done(), stopCtx.Done())

	log.Info(ctx, "shutting down bridge server")
	_ = session.Stop()

	if shutdownTracing != nil {
		observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}

// waitForShutdown blocks until the process should exit. A bounded run
// (-duration > 0) ends as soon as the simulation clock finishes, unless
// -wait asked to hold the gateway open for an explicit signal. A signal
// always ends the run.
func waitForShutdown(wait bool, duration time.Duration, done <-chan struct{}, sig <-chan struct{}) {
	if wait || duration <= 0 {
		<-sig
		return
	}
	select {
	case <-done:
	case <-sig:
	}
}

func serveMetrics(addr string, collector *observability.BridgeCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
