package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/auleOS/internal/adapters/cachefs"
	"github.com/manthysbr/auleOS/internal/adapters/duckdb"
	"github.com/manthysbr/auleOS/internal/adapters/worker"
	"github.com/manthysbr/auleOS/internal/core/ports"
	"github.com/manthysbr/auleOS/internal/core/services"
	"github.com/manthysbr/auleOS/pkg/kernel/orchestration"
)

// staticSkillRegistry is a minimal ports.SkillRegistry for the demo
// entrypoint; a real deployment would back this with the same skill
// content lookup the LM agent's tool registry uses.
type staticSkillRegistry map[string]string

func (r staticSkillRegistry) Lookup(name string) (string, bool) { body, ok := r[name]; return body, ok }
func (r staticSkillRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	return names
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting aule orchestrator")

	if err := run(logger); err != nil {
		logger.Error("orchestrator startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	configPath := os.Getenv("AULE_ORCHESTRATION_CONFIG_PATH")
	if configPath == "" {
		configPath = "aule-orchestration.json"
	}
	configStore, err := services.NewConfigStore(logger, configPath)
	if err != nil {
		return fmt.Errorf("failed to load orchestration config: %w", err)
	}
	cfg := configStore.Get()

	cacheDir := os.Getenv("AULE_ORCHESTRATION_CACHE_DIR")
	if cacheDir == "" {
		cacheDir = "aule-orchestration-cache"
	}
	diskBackend, err := cachefs.NewStore(cacheDir)
	if err != nil {
		return fmt.Errorf("failed to init cache store: %w", err)
	}

	cache := services.NewCache(logger, services.CacheConfig{
		Strategy:            cfg.DefaultCacheStrategy,
		MaxSize:             2000,
		TTL:                 cfg.DefaultCacheTTL,
		IncludeDependencies: true,
	}, diskBackend)

	router := services.NewRouter(logger, cfg.AgentRouting)

	workers := map[string]ports.Worker{
		"general-purpose": worker.EchoWorker{},
		"code-analyzer":   worker.EchoWorker{},
		"code-generator":  worker.EchoWorker{},
		"test-specialist": worker.EchoWorker{},
		"doc-writer":      worker.EchoWorker{},
		"data-processor":  worker.EchoWorker{},
		"researcher":      worker.EchoWorker{},
	}

	if image := os.Getenv("AULE_ORCHESTRATION_WORKER_IMAGE"); image != "" {
		containerWorker, err := worker.NewContainerWorker(image, nil)
		if err != nil {
			logger.Warn("container worker unavailable, falling back to echo workers", "error", err)
		} else {
			workers["general-purpose"] = containerWorker
		}
	}

	dbPath := os.Getenv("AULE_ORCHESTRATION_DB_PATH")
	if dbPath == "" {
		dbPath = "aule-orchestration.db"
	}
	runStore, err := duckdb.NewRunStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to init run store: %w", err)
	}
	defer runStore.Close()

	skills := staticSkillRegistry{}

	orchestrator := services.NewOrchestrator(logger, router, cache, skills, workers, runStore)

	apiServer := orchestration.NewServer(logger, orchestrator)
	handler, err := apiServer.Handler()
	if err != nil {
		return fmt.Errorf("failed to build orchestration http handler: %w", err)
	}

	httpServer := &http.Server{
		Addr:    ":8090",
		Handler: handler,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting orchestration api server", "addr", ":8090")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("orchestration api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down orchestration api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
