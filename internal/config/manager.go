package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Handler is called after a config file change passes validation.
type Handler func(name string, data map[string]interface{}) error

// Validator inspects a candidate config map before it is applied.
type Validator func(name string, data map[string]interface{}) error

// PolicyHandler is called when a .rego file under the watched tree changes.
type PolicyHandler func(path string) error

// Manager watches a configuration directory and hot-reloads files.
// Changes are staged: validate, apply, then notify handlers asynchronously
// so a broken edit never replaces a known-good config.
type Manager struct {
	mu             sync.RWMutex
	configDir      string
	configs        map[string]map[string]interface{}
	handlers       map[string][]Handler
	validators     map[string][]Validator
	policyHandlers []PolicyHandler

	watcher  *fsnotify.Watcher
	debounce map[string]*time.Timer
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates a manager for the given directory.
func NewManager(configDir string, logger *zap.Logger) (*Manager, error) {
	if configDir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Manager{
		configDir:  configDir,
		configs:    make(map[string]map[string]interface{}),
		handlers:   make(map[string][]Handler),
		validators: make(map[string][]Validator),
		watcher:    watcher,
		debounce:   make(map[string]*time.Timer),
		logger:     logger,
		stopCh:     make(chan struct{}),
	}, nil
}

// RegisterHandler adds a change handler for a config file name.
func (m *Manager) RegisterHandler(name string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[name] = append(m.handlers[name], h)
}

// RegisterValidator adds a validator for a config file name.
func (m *Manager) RegisterValidator(name string, v Validator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators[name] = append(m.validators[name], v)
}

// RegisterPolicyHandler adds a handler for policy file changes.
func (m *Manager) RegisterPolicyHandler(h PolicyHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policyHandlers = append(m.policyHandlers, h)
}

// GetConfig returns the last applied map for a config file name.
func (m *Manager) GetConfig(name string) (map[string]interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.configs[name]
	return data, ok
}

// Start loads existing files and begins watching for changes.
func (m *Manager) Start() error {
	if err := m.loadAll(); err != nil {
		return err
	}
	if err := m.watchTree(); err != nil {
		return err
	}
	go m.watchLoop()
	m.logger.Info("Config manager started", zap.String("dir", m.configDir))
	return nil
}

// Stop terminates watching.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.watcher.Close()
	})
}

// loadAll applies every config file already present in the tree.
func (m *Manager) loadAll() error {
	return filepath.Walk(m.configDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == m.configDir {
				return nil
			}
			return err
		}
		if info.IsDir() || !isConfigFile(path) {
			return nil
		}
		if err := m.loadConfigFile(path); err != nil {
			m.logger.Warn("Skipping invalid config file",
				zap.String("path", path),
				zap.Error(err))
		}
		return nil
	})
}

// watchTree registers the config dir and its immediate subdirectories.
// fsnotify watches are not recursive, and policy files live one level down.
func (m *Manager) watchTree() error {
	if err := m.watcher.Add(m.configDir); err != nil {
		return fmt.Errorf("watch %s: %w", m.configDir, err)
	}
	entries, err := os.ReadDir(m.configDir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(m.configDir, e.Name())
		if err := m.watcher.Add(sub); err != nil {
			m.logger.Warn("Cannot watch config subdirectory",
				zap.String("path", sub),
				zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) watchLoop() {
	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

// handleEvent debounces rapid write bursts from editors before reloading.
func (m *Manager) handleEvent(event fsnotify.Event) {
	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		if !isConfigFile(event.Name) && !isPolicyFile(event.Name) {
			return
		}
		path := event.Name
		m.mu.Lock()
		if timer, ok := m.debounce[path]; ok {
			timer.Stop()
		}
		m.debounce[path] = time.AfterFunc(100*time.Millisecond, func() {
			m.reload(path)
		})
		m.mu.Unlock()
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if isConfigFile(event.Name) {
			m.handleFileRemoval(event.Name)
		}
	}
}

func (m *Manager) reload(path string) {
	if isPolicyFile(path) {
		m.notifyPolicyHandlers(path)
		return
	}
	if err := m.loadConfigFile(path); err != nil {
		m.logger.Error("Config reload failed, keeping previous version",
			zap.String("path", path),
			zap.Error(err))
	}
}

// loadConfigFile parses, validates, applies, then notifies handlers.
func (m *Manager) loadConfigFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	data := make(map[string]interface{})
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	name := filepath.Base(path)

	m.mu.RLock()
	validators := append([]Validator(nil), m.validators[name]...)
	m.mu.RUnlock()
	for _, v := range validators {
		if err := v(name, data); err != nil {
			return fmt.Errorf("validate %s: %w", name, err)
		}
	}

	m.mu.Lock()
	m.configs[name] = data
	handlers := append([]Handler(nil), m.handlers[name]...)
	m.mu.Unlock()

	m.logger.Info("Config file applied", zap.String("name", name))

	go func() {
		for _, h := range handlers {
			if err := h(name, data); err != nil {
				m.logger.Error("Config handler failed",
					zap.String("name", name),
					zap.Error(err))
			}
		}
	}()
	return nil
}

// handleFileRemoval keeps the last known config but tells operators about it.
func (m *Manager) handleFileRemoval(path string) {
	name := filepath.Base(path)
	m.mu.RLock()
	_, known := m.configs[name]
	m.mu.RUnlock()
	if !known {
		return
	}
	m.logger.Warn("Config file removed, retaining last applied version",
		zap.String("name", name))
}

func (m *Manager) notifyPolicyHandlers(path string) {
	m.mu.RLock()
	handlers := append([]PolicyHandler(nil), m.policyHandlers...)
	m.mu.RUnlock()
	for _, h := range handlers {
		if err := h(path); err != nil {
			m.logger.Error("Policy reload handler failed",
				zap.String("path", path),
				zap.Error(err))
		}
	}
}

func isConfigFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func isPolicyFile(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".rego"
}
