package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// orchestratorFile is the config file the typed manager tracks.
const orchestratorFile = "orchestrator.yaml"

// ChangeCallback is notified after a validated config replaces the current one.
type ChangeCallback func(old, new *Config) error

// TypedManager layers the typed orchestrator config on top of a Manager.
// It validates candidate files by decoding them over the defaults, and
// swaps the active config only when decoding and validation both pass.
type TypedManager struct {
	mu        sync.RWMutex
	manager   *Manager
	current   *Config
	callbacks []ChangeCallback
	logger    *zap.Logger
}

// NewTypedManager wires typed config tracking into a file manager.
func NewTypedManager(manager *Manager, logger *zap.Logger) *TypedManager {
	tm := &TypedManager{
		manager: manager,
		current: Default(),
		logger:  logger,
	}
	manager.RegisterValidator(orchestratorFile, tm.validate)
	manager.RegisterHandler(orchestratorFile, tm.apply)
	return tm
}

// Initialize applies the map the manager already loaded, if any.
func (tm *TypedManager) Initialize() error {
	data, ok := tm.manager.GetConfig(orchestratorFile)
	if !ok {
		tm.logger.Info("No orchestrator.yaml found, using defaults")
		return nil
	}
	return tm.apply(orchestratorFile, data)
}

// GetConfig returns a copy of the active config.
func (tm *TypedManager) GetConfig() Config {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.current
}

// RegisterCallback adds a listener for config swaps.
func (tm *TypedManager) RegisterCallback(cb ChangeCallback) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.callbacks = append(tm.callbacks, cb)
}

func (tm *TypedManager) validate(name string, data map[string]interface{}) error {
	_, err := decodeOver(Default(), data)
	return err
}

func (tm *TypedManager) apply(name string, data map[string]interface{}) error {
	next, err := decodeOver(Default(), data)
	if err != nil {
		return err
	}
	applyEnvOverrides(next)
	if err := next.Validate(); err != nil {
		return err
	}

	tm.mu.Lock()
	old := tm.current
	tm.current = next
	callbacks := append([]ChangeCallback(nil), tm.callbacks...)
	tm.mu.Unlock()

	tm.logger.Info("Orchestrator config updated",
		zap.String("environment", next.Environment))

	for _, cb := range callbacks {
		if err := cb(old, next); err != nil {
			tm.logger.Error("Config change callback failed", zap.Error(err))
		}
	}
	return nil
}

// decodeOver merges a raw config map onto a base config. Duration strings
// such as "30s" decode through viper's standard hooks.
func decodeOver(base *Config, data map[string]interface{}) (*Config, error) {
	v := viper.New()
	if err := v.MergeConfigMap(data); err != nil {
		return nil, fmt.Errorf("merge config map: %w", err)
	}
	if err := v.Unmarshal(base); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return base, nil
}
