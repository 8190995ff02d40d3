package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ckb/internal/config"
	"ckb/internal/logging"
	"ckb/internal/orchestrator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	serveRepoRoot  string
	serveStateDir  string
	serveMetricsOn string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ckbd daemon",
	Long: `Start ckbd: spawn the language server pool, load the per-workspace cache
router, and begin accepting workspace registration and indexing requests
until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveRepoRoot, "workspace", "", "Workspace root to register on startup (optional)")
	serveCmd.Flags().StringVar(&serveStateDir, "state-dir", "", "Directory for PID file and per-workspace caches (default: $CKBD_STATE_DIR or ~/.ckbd)")
	serveCmd.Flags().StringVar(&serveMetricsOn, "metrics-addr", "127.0.0.1:9090", "Address to serve Prometheus metrics on")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.NewLogger(logging.Config{Format: logging.HumanFormat, Level: logging.InfoLevel})

	cfg, err := loadCkbdConfig()
	if err != nil {
		return err
	}

	stateDir, err := resolveStateDir()
	if err != nil {
		return err
	}

	o, err := buildOrchestrator(cfg, stateDir, logger)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := o.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	if serveRepoRoot != "" {
		id := o.RegisterWorkspace(serveRepoRoot)
		logger.Info("workspace registered", map[string]interface{}{"id": string(id), "root": serveRepoRoot})
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(orchestrator.NewCollector(o, "ckbd"))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := o.Readiness(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{Addr: serveMetricsOn, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	logger.Info("ckbd serving", map[string]interface{}{"metricsAddr": serveMetricsOn, "stateDir": stateDir})

	<-ctx.Done()

	logger.Info("shutting down", nil)
	shutdownTimeout := time.Duration(cfg.WorkspaceDaemon.Indexing.PerTaskTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	return o.Stop(shutdownCtx)
}

func loadCkbdConfig() (*config.Config, error) {
	return config.LoadConfig(".")
}

func resolveStateDir() (string, error) {
	if serveStateDir != "" {
		return serveStateDir, nil
	}
	return defaultStateDir()
}
