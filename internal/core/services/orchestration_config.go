package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
)

// OrchestrationConfig holds the tuning knobs a host process sets once at
// startup and may hot-reload later, mirroring the fields
// original_source/.../models.py's OrchestrationConfig dataclass exposes.
type OrchestrationConfig struct {
	AgentRouting            []WorkerRouting    `json:"agent_routing"`
	EnableParallelExecution bool               `json:"enable_parallel_execution"`
	DefaultMaxParallelTasks int                `json:"default_max_parallel_tasks"`
	DefaultRetryPolicy      orchestration.RetryPolicy `json:"default_retry_policy"`
	DefaultCacheStrategy    CacheStrategy      `json:"default_cache_strategy"`
	DefaultCacheTTL         time.Duration      `json:"default_cache_ttl"`
	MaxWorkflowDuration     time.Duration      `json:"max_workflow_duration"`
	EnableTaskMonitoring    bool               `json:"enable_task_monitoring"`
}

// DefaultOrchestrationConfig returns the configuration a fresh orchestrator
// runs with when nothing overrides it.
func DefaultOrchestrationConfig() *OrchestrationConfig {
	return &OrchestrationConfig{
		AgentRouting:            DefaultWorkerRoutings(),
		EnableParallelExecution: true,
		DefaultMaxParallelTasks: 5,
		DefaultRetryPolicy:      orchestration.DefaultRetryPolicy(),
		DefaultCacheStrategy:    CacheStrategyMemory,
		DefaultCacheTTL:         time.Hour,
		EnableTaskMonitoring:    true,
	}
}

// LoadConfig reads a JSON-encoded OrchestrationConfig from path, merging
// zero-valued fields with DefaultOrchestrationConfig's values so a partial
// override file (e.g. just {"default_max_parallel_tasks": 10}) still
// produces a fully populated config.
func LoadConfig(path string) (*OrchestrationConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read orchestration config: %w", err)
	}

	cfg := DefaultOrchestrationConfig()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal orchestration config: %w", err)
	}

	if len(cfg.AgentRouting) == 0 {
		cfg.AgentRouting = DefaultWorkerRoutings()
	}
	if cfg.DefaultMaxParallelTasks == 0 {
		cfg.DefaultMaxParallelTasks = 5
	}
	if cfg.DefaultCacheStrategy == "" {
		cfg.DefaultCacheStrategy = CacheStrategyMemory
	}
	return cfg, nil
}

// ConfigOnChangeFunc is invoked with the newly loaded config whenever
// ConfigStore.Reload picks up a change.
type ConfigOnChangeFunc func(cfg *OrchestrationConfig)

// ConfigStore holds the live OrchestrationConfig for a running process and
// lets callers hot-reload it from disk, the same shape as
// internal/config.SettingsStore's OnChange hook but file-backed rather
// than DB-backed since orchestration tuning knobs carry no secrets.
type ConfigStore struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	path     string
	config   *OrchestrationConfig
	onChange []ConfigOnChangeFunc
}

// NewConfigStore loads path if it exists, falling back to
// DefaultOrchestrationConfig when it doesn't.
func NewConfigStore(logger *slog.Logger, path string) (*ConfigStore, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		logger.Warn("orchestration config not found, using defaults", "path", path)
		cfg = DefaultOrchestrationConfig()
	}
	return &ConfigStore{logger: logger, path: path, config: cfg}, nil
}

// OnChange registers fn to run after every successful Reload.
func (s *ConfigStore) OnChange(fn ConfigOnChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Get returns the currently active config.
func (s *ConfigStore) Get() *OrchestrationConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := *s.config
	return &cp
}

// Reload re-reads the config file and, if it parses successfully, swaps it
// in and fires every registered OnChange callback.
func (s *ConfigStore) Reload() error {
	cfg, err := LoadConfig(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.config = cfg
	callbacks := append([]ConfigOnChangeFunc(nil), s.onChange...)
	s.mu.Unlock()

	s.logger.Info("orchestration config reloaded", "path", s.path)
	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}
