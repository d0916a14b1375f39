package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/samaelod/wirebench/config"
	"github.com/samaelod/wirebench/engine"
	"github.com/samaelod/wirebench/metrics"
	"github.com/samaelod/wirebench/tui"
	"github.com/samaelod/wirebench/types"
)

var version = "dev"

func main() {
	var (
		profilePath = flag.String("profile", "", "Lua profile or pcap/pcapng capture to load")
		headless    = flag.Bool("headless", false, "run every endpoint without the dashboard")
		metricsAddr = flag.String("metrics", "", "serve Prometheus metrics on this address")
		configPath  = flag.String("config", "", "app config file (.json or .yaml)")
		duration    = flag.Duration("duration", 0, "headless: stop after this long (0 waits for a signal)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *metricsAddr == "" {
		*metricsAddr = cfg.MetricsAddr
	}

	collector := metrics.NewCollector(nil)
	stopMetrics := func() {}
	if *metricsAddr != "" {
		stopMetrics = serveMetrics(*metricsAddr, collector)
	}
	defer stopMetrics()

	if *headless {
		if err := runHeadless(cfg, *profilePath, *duration, collector); err != nil {
			stopMetrics()
			log.Fatal(err)
		}
		return
	}

	// Only create debug log in dev builds
	if version == "dev" {
		f, err := os.OpenFile("debug.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err == nil {
			log.SetOutput(f)
		}
	}

	opts := tui.Options{
		Version:     version,
		Config:      cfg,
		ProfilePath: *profilePath,
		OnLoad:      func(r *engine.Registry) { collector.SetSource(r) },
	}
	if err := tui.Run(opts); err != nil {
		stopMetrics()
		log.Fatal(err)
	}
}

func serveMetrics(addr string, c *metrics.Collector) func() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c, collectors.NewGoCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// runHeadless starts servers first, then everything else, replays scripts
// and waits for a signal or the duration.
func runHeadless(cfg *config.Config, path string, d time.Duration, c *metrics.Collector) error {
	p, err := tui.LoadProfile(cfg, path)
	if err != nil {
		return err
	}

	name := "headless"
	if path != "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	ring := engine.NewLogger(filepath.Join(cfg.LogsDir, name+".log"), p.Globals.LogLines)
	defer ring.Close()
	zl := engine.NewZapLogger(ring, p.Globals.LogLevel, zapcore.Lock(os.Stderr))
	defer zl.Sync()

	reg, err := engine.Build(p, zl)
	if err != nil {
		return err
	}
	c.SetSource(reg)
	defer reg.StopAll()

	names := reg.Names()
	for _, servers := range []bool{true, false} {
		for _, n := range names {
			comp, _ := reg.Get(n)
			if types.IsServerKind(comp.Kind()) != servers {
				continue
			}
			if err := reg.Run(n); err != nil {
				zl.Warn("endpoint failed to start", zap.String("engine", n), zap.Error(err))
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	<-ctx.Done()

	for n, snap := range reg.Stats() {
		fields := make([]zap.Field, 0, len(snap))
		for _, k := range snap.Keys() {
			fields = append(fields, zap.Float64(k, snap[k]))
		}
		zl.Info("final stats", append([]zap.Field{zap.String("engine", n)}, fields...)...)
	}
	return nil
}
