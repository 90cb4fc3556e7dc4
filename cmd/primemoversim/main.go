// Command primemoversim runs a small demonstration simulation over the
// kernel, wiring up structured logging, Prometheus metrics, and tracing the
// way a long-running server built on this kernel would.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/signalsfoundry/primemover/controller"
	"github.com/signalsfoundry/primemover/internal/logging"
	"github.com/signalsfoundry/primemover/internal/observability"
	"github.com/signalsfoundry/primemover/kernel"
	"go.opentelemetry.io/otel"
)

type Config struct {
	Variant        string
	EndTime        int64
	Tick           time.Duration
	MetricsAddress string
	LogLevel       string
	LogFormat      string
	Debug          bool
	TrackSources   bool
}

func main() {
	cfg := loadConfig()
	log := logging.New(logging.Config{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		AddSource: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(context.Background(), "primemoversim exited with error", logging.String("error", err.Error()))
		os.Exit(1)
	}
}

func loadConfig() Config {
	variant := flag.String("variant", envOrDefault("PRIMEMOVER_VARIANT", "run-to-end"), "controller variant: run-to-end, stepping, or paced")
	endTime := flag.Int64("end-time", envInt64("PRIMEMOVER_END_TIME", 100), "simulated time at which to end the run")
	tick := flag.Duration("tick", envDuration("PRIMEMOVER_TICK", 10*time.Millisecond), "wall-clock duration of one simulated time unit in the paced variant")
	metricsAddr := flag.String("metrics-address", envOrDefault("PRIMEMOVER_METRICS_ADDRESS", ":9090"), "HTTP address for Prometheus /metrics (empty to disable)")
	logLevel := flag.String("log-level", envOrDefault("LOG_LEVEL", "info"), "Log level: debug, info, warn")
	logFormat := flag.String("log-format", envOrDefault("LOG_FORMAT", "text"), "Log format: text or json")
	debug := flag.Bool("debug-events", envBool("PRIMEMOVER_DEBUG_EVENTS", false), "capture source locations on posted events")
	trackSources := flag.Bool("track-event-sources", envBool("PRIMEMOVER_TRACK_EVENT_SOURCES", false), "record weak event source backlinks for debugging")

	flag.Parse()

	return Config{
		Variant:        *variant,
		EndTime:        *endTime,
		Tick:           *tick,
		MetricsAddress: *metricsAddr,
		LogLevel:       *logLevel,
		LogFormat:      *logFormat,
		Debug:          *debug,
		TrackSources:   *trackSources,
	}
}

func run(ctx context.Context, cfg Config, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}

	traceShutdown := func(context.Context) error { return nil }
	if shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log); err != nil {
		log.Warn(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
	} else {
		traceShutdown = shutdown
	}
	defer observability.ShutdownWithTimeout(context.Background(), traceShutdown, log)

	collector, err := observability.NewKernelCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics collector: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddress != "" {
		metricsSrv = serveMetrics(cfg.MetricsAddress, collector, log)
		defer metricsSrv.Close()
	}

	sched := kernel.NewScheduler(kernel.Config{
		Name:              "primemoversim",
		DebugEvents:       cfg.Debug,
		TrackEventSources: cfg.TrackSources,
		Logger:            log,
		Metrics:           collector,
		Tracer:            otel.Tracer("primemover-kernel"),
	})

	producer := &producerEntity{name: "producer", consumer: &consumerEntity{name: "consumer"}}
	sched.PostEvent(producer, 0, nil)
	if err := sched.EndSimulationAt(cfg.EndTime); err != nil {
		return fmt.Errorf("schedule end sentinel: %w", err)
	}

	log.Info(ctx, "starting simulation", logging.String("variant", cfg.Variant), logging.Int("end_time", int(cfg.EndTime)))

	switch cfg.Variant {
	case "run-to-end":
		err = controller.RunToEnd(sched, cfg.EndTime)
	case "stepping":
		err = runStepping(sched)
	case "paced":
		err = controller.NewWallClockPaced(sched, cfg.Tick).Run()
	default:
		return fmt.Errorf("unknown controller variant %q", cfg.Variant)
	}
	if err != nil {
		return fmt.Errorf("simulation run: %w", err)
	}

	report := sched.Report()
	log.Info(ctx, "simulation complete",
		logging.Int("total_events", report.TotalEvents),
		logging.Int("sim_end", int(report.SimEnd)),
	)
	fmt.Printf("%s: %d events processed, ended at t=%d\n", report.Name, report.TotalEvents, report.SimEnd)
	for sig, count := range report.Spectrum {
		fmt.Printf("  %-32s %d\n", sig, count)
	}
	return nil
}

func runStepping(sched *kernel.Scheduler) error {
	stepper := controller.NewStepping(sched)
	for {
		done, err := stepper.Step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func serveMetrics(addr string, collector *observability.KernelCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()
	return srv
}

// producerEntity posts its next tick one simulated time unit after finishing
// the current one and, on every third tick, blocks on consumerEntity (which
// advances the clock by one unit) to demonstrate the continuation protocol
// end to end.
type producerEntity struct {
	kernel.BaseEntity
	name     string
	consumer *consumerEntity
	ticks    int
}

func (p *producerEntity) Invoke(ctx *kernel.Context, ordinal int32, args []kernel.Value) (kernel.Value, error) {
	p.ticks++
	if p.ticks%3 == 0 {
		v, err := ctx.PostContinuingEvent(p.consumer, 0, []kernel.Value{p.ticks})
		if err != nil {
			return nil, err
		}
		_ = v
	}
	if err := ctx.PostEventAt(ctx.Now()+1, p, 0, nil); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *producerEntity) Signature(ordinal int32) string { return p.name + "#tick" }

// consumerEntity advances simulated time to model processing latency before
// returning a value to its blocked caller.
type consumerEntity struct {
	kernel.BaseEntity
	name string
}

func (c *consumerEntity) Invoke(ctx *kernel.Context, ordinal int32, args []kernel.Value) (kernel.Value, error) {
	ctx.Advance(1)
	return args[0], nil
}

func (c *consumerEntity) Signature(ordinal int32) string { return c.name + "#process" }

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
