package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	sponsorreport "github.com/ujujhuang-cpu/youtube-scheduler/agents/sponsor-report"
	"github.com/ujujhuang-cpu/youtube-scheduler/agents/sponsor-report/api"
	"github.com/ujujhuang-cpu/youtube-scheduler/agents/sponsor-report/youtube"
	"github.com/ujujhuang-cpu/youtube-scheduler/shared/config"
	"github.com/ujujhuang-cpu/youtube-scheduler/shared/email"
	"github.com/ujujhuang-cpu/youtube-scheduler/shared/logging"
	"github.com/ujujhuang-cpu/youtube-scheduler/shared/monitoring"
)

const (
	exitSuccess = 0
	exitFailure = 1

	shutdownTimeout = 30 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	once := flag.Bool("once", false, "run every configured schedule once and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return exitFailure
	}

	logger := logging.New(cfg.LogLevel, "sponsor-report")

	loc, err := cfg.Location()
	if err != nil {
		logger.Error().Err(err).Str("timezone", cfg.Timezone).Msg("invalid timezone")
		return exitFailure
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	monitor := monitoring.NewMonitor(monitoring.NewMetrics(reg), logger)

	ytClient := youtube.NewClient(logger)
	sender := email.NewSender(&cfg.Email, loc, logger)
	pipeline := sponsorreport.NewPipeline(ytClient, sender, sponsorreport.PipelineConfig{
		CallTimeout: cfg.YouTube.RequestTimeout(),
		MaxResults:  cfg.YouTube.MaxResults,
		Location:    loc,
	}, logger)
	svc := sponsorreport.NewService(pipeline, monitor, loc, logger)

	var seeded []string
	for _, in := range cfg.Schedules {
		sched, err := svc.Create(in)
		if err != nil {
			logger.Error().Err(err).Str("schedule", in.Name).Msg("failed to create configured schedule")
			return exitFailure
		}
		seeded = append(seeded, sched.ID)
	}

	if *once {
		return runOnce(svc, seeded, logger)
	}
	return serve(cfg, svc, ytClient, monitor, reg, logger)
}

// runOnce runs each configured schedule in turn and fails if any report could
// not be delivered.
func runOnce(svc *sponsorreport.Service, ids []string, logger zerolog.Logger) int {
	if len(ids) == 0 {
		logger.Warn().Msg("no schedules configured, nothing to run")
		return exitSuccess
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	code := exitSuccess
	for _, id := range ids {
		sched, err := svc.Get(id)
		if err != nil {
			continue
		}
		summary := svc.RunSync(ctx, sched)
		if summary.Err != nil {
			code = exitFailure
		}
	}
	return code
}

func serve(cfg *config.Config, svc *sponsorreport.Service, verifier api.KeyVerifier, monitor *monitoring.Monitor, reg *prometheus.Registry, logger zerolog.Logger) int {
	mux := http.NewServeMux()
	monitoring.NewHealthServer(monitor, reg).Register(mux)
	handler := api.NewHandler(svc, verifier, logger)
	if cfg.Server.StaticDir != "" {
		handler = handler.WithStaticDir(cfg.Server.StaticDir)
	}
	handler.Register(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc.Registry().Start()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("timezone", cfg.Timezone).Msg("🚀 sponsor report service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	code := exitSuccess
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
			code = exitFailure
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	// in-flight runs are allowed to finish and send their reports
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("runs still in flight at shutdown")
		code = exitFailure
	}

	logger.Info().Msg("stopped")
	return code
}
