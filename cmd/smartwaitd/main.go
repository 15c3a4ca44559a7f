// Command smartwaitd runs the Smart-Wait daemon: a single long-lived
// process that watches registered visual conditions and wakes the
// requesting agent exactly once per job, either on resolution, timeout,
// cancellation, or internal error.
//
// A cobra root command wraps a single "serve" subcommand that loads YAML
// config, wires the storage and metrics layers, starts the core engine,
// and waits for SIGINT/SIGTERM to shut everything down in order.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chuliyu/smart-wait/internal/api"
	"github.com/chuliyu/smart-wait/internal/capture"
	"github.com/chuliyu/smart-wait/internal/config"
	"github.com/chuliyu/smart-wait/internal/diffgate"
	"github.com/chuliyu/smart-wait/internal/engine"
	"github.com/chuliyu/smart-wait/internal/metrics"
	"github.com/chuliyu/smart-wait/internal/notify"
	"github.com/chuliyu/smart-wait/internal/store"
	"github.com/chuliyu/smart-wait/internal/tasksink"
	"github.com/chuliyu/smart-wait/internal/vision"
)

var configFile string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "smartwaitd",
		Short:   "Smart-Wait Engine: background visual-condition watcher",
		Version: "1.0.0",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon: engine, storage, metrics, and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("smartwaitd: load config: %w", err)
	}

	logger := log.New(os.Stderr, "smartwaitd: ", log.LstdFlags)

	st, err := store.Open(cfg.Store.Path, cfg.Store.BufferSize, cfg.StoreFlushInterval())
	if err != nil {
		return fmt.Errorf("smartwaitd: open store: %w", err)
	}
	defer st.Close()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(nil)
	}

	deps := engine.Deps{
		Capture: capture.X11{
			Command: cfg.Capture.Command,
			Timeout: cfg.CaptureTimeout(),
		}.Capture,
		Vision: vision.HTTPAdapter{
			Endpoint:   cfg.Vision.Endpoint,
			MaxElapsed: cfg.VisionMaxElapsed(),
		},
		Notifier: notify.WithTimeout(
			notify.ProcessNotifier{Command: cfg.Notify.Command, Args: cfg.Notify.Args},
			cfg.WakeNotifyTimeout(),
		),
		Sink:    buildTaskSink(cfg),
		Store:   st,
		Gate:    diffgate.New(diffgate.Config{DownsampleWidth: cfg.DiffGate.DownsampleWidth, PixelThreshold: uint8(cfg.DiffGate.PixelThreshold), ChangeRatio: cfg.DiffGate.ChangeRatio}),
		Logger:  logger,
	}
	if collector != nil {
		deps.Metrics = collector
	}

	engCfg := engine.DefaultConfig()
	engCfg.MinPollS = cfg.Engine.MinPollS
	engCfg.MaxPollS = cfg.Engine.MaxPollS
	engCfg.DefaultTimeoutS = cfg.Engine.DefaultTimeoutS
	engCfg.WakeNotifyTimeout = cfg.WakeNotifyTimeout()
	engCfg.WakeStatePrefix = cfg.Engine.WakeStatePrefix

	eng := engine.New(engCfg, deps)
	if err := eng.Start(); err != nil {
		return fmt.Errorf("smartwaitd: start engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	if interval := cfg.CompactInterval(); interval > 0 {
		go runCompactionLoop(ctx, st, interval, logger)
	}

	apiServer := api.New(eng)
	httpSrv := &http.Server{Addr: cfg.API.Addr, Handler: apiServer}
	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("api server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Println("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	eng.Stop()
	return nil
}

func runCompactionLoop(ctx context.Context, st *store.Store, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.Compact(); err != nil {
				logger.Printf("store compact failed: %v", err)
			}
		}
	}
}

func buildTaskSink(cfg config.Config) tasksink.Sink {
	if !cfg.TaskSink.Enabled {
		return tasksink.Noop{}
	}
	return tasksink.HTTPSink{Endpoint: cfg.TaskSink.Endpoint}
}
