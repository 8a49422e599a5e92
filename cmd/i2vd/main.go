package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/YallaPapi/i2v-sub001/config"
	"github.com/YallaPapi/i2v-sub001/engine"
	"github.com/YallaPapi/i2v-sub001/events"
	"github.com/YallaPapi/i2v-sub001/httpapi"
	"github.com/YallaPapi/i2v-sub001/logger"
	"github.com/YallaPapi/i2v-sub001/observability"
	"github.com/YallaPapi/i2v-sub001/pipeline"
	"github.com/YallaPapi/i2v-sub001/pricing"
	"github.com/YallaPapi/i2v-sub001/provider"
	"github.com/YallaPapi/i2v-sub001/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init(logger.Config{Level: "info", Format: "console"}, "i2vd")
		logger.Fatal("loading configuration", logger.Fields("error", err.Error()))
	}

	logger.Init(cfg.Logging, cfg.Name)
	log := logger.WithComponent("main")
	build := version.Get()
	log.Info("starting", logger.Fields(
		"version", build.String(),
		"environment", cfg.Environment,
	))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Observability.Enabled {
		tp, err := observability.InitTracer(ctx, observability.TracerConfig{
			ServiceName:    cfg.Name,
			ServiceVersion: build.Version,
			Environment:    cfg.Environment,
			Endpoint:       cfg.Observability.Endpoint,
			Insecure:       cfg.Observability.Insecure,
			SampleRate:     cfg.Observability.SampleRate,
		})
		if err != nil {
			log.Fatal("initializing tracer", logger.Fields("error", err.Error()))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()

		mp, err := observability.InitMeter(ctx, observability.MeterConfig{
			ServiceName:    cfg.Name,
			ServiceVersion: build.Version,
			Environment:    cfg.Environment,
			Endpoint:       cfg.Observability.Endpoint,
			Insecure:       cfg.Observability.Insecure,
			Interval:       cfg.Observability.MetricInterval,
		})
		if err != nil {
			log.Fatal("initializing meter", logger.Fields("error", err.Error()))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mp.Shutdown(shutdownCtx)
		}()

		metrics, err = observability.NewMetrics(observability.Meter(cfg.Name))
		if err != nil {
			log.Fatal("creating metrics", logger.Fields("error", err.Error()))
		}
	}

	table := pricing.DefaultTable()
	if len(cfg.Pricing) > 0 {
		table = cfg.Pricing.Table()
	}

	registry := provider.NewRegistry()
	registerSimulated(registry, table)

	store := pipeline.NewMemoryStore()
	hub := events.NewHub()

	eng := engine.New(engine.Deps{
		Store:     store,
		Registry:  registry,
		Estimator: pricing.NewEstimator(table),
		Events:    hub,
		Metrics:   metrics,
	}, cfg.Engine)

	handler := httpapi.NewHandler(eng, store, hub, logger.GetGlobalLogger())
	server := httpapi.NewServer(cfg.HTTP, handler, logger.GetGlobalLogger())

	if err := server.Start(ctx); err != nil {
		log.Fatal("starting http server", logger.Fields("error", err.Error()))
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("http shutdown", logger.Fields("error", err.Error()))
	}
	eng.Shutdown()
	log.Info("stopped")
	os.Exit(0)
}

// registerSimulated wires the local capability for every priced model so
// the daemon runs end to end without external providers. Real capability
// adapters replace these registrations per deployment.
func registerSimulated(registry *provider.Registry, table pricing.Table) {
	sim := provider.NewSimulated("simulated", 2*time.Second)
	for _, models := range table {
		for model := range models {
			registry.Register(sim, model)
		}
	}
}
