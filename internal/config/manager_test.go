package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestManagerLoadsExistingConfigs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "orchestrator.yaml"), "service:\n  port: 9999\n")

	m, err := NewManager(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	data, ok := m.GetConfig("orchestrator.yaml")
	if !ok {
		t.Fatal("expected orchestrator.yaml to be loaded")
	}
	service, ok := data["service"].(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected service shape: %#v", data["service"])
	}
	if service["port"] != 9999 {
		t.Errorf("port = %v", service["port"])
	}
}

func TestManagerValidatorRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "guard.yaml"), "mode: bogus\n")

	m, err := NewManager(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	m.RegisterValidator("guard.yaml", func(name string, data map[string]interface{}) error {
		if data["mode"] == "bogus" {
			return fmt.Errorf("bogus mode")
		}
		return nil
	})
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	if _, ok := m.GetConfig("guard.yaml"); ok {
		t.Error("invalid file should not be applied")
	}
}

func TestManagerHotReload(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	applied := make(chan map[string]interface{}, 1)
	m.RegisterHandler("orchestrator.yaml", func(name string, data map[string]interface{}) error {
		applied <- data
		return nil
	})
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	writeFile(t, filepath.Join(dir, "orchestrator.yaml"), "environment: staging\n")

	select {
	case data := <-applied:
		if data["environment"] != "staging" {
			t.Errorf("environment = %v", data["environment"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler not invoked after file write")
	}
}

func TestManagerPolicyReload(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	changed := make(chan string, 1)
	m.RegisterPolicyHandler(func(path string) error {
		changed <- path
		return nil
	})
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	regoPath := filepath.Join(dir, "guard.rego")
	writeFile(t, regoPath, "package designdrill.calc\n")

	select {
	case path := <-changed:
		if path != regoPath {
			t.Errorf("path = %s", path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("policy handler not invoked after rego write")
	}
}

func TestTypedManagerAppliesMap(t *testing.T) {
	m, err := NewManager(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	tm := NewTypedManager(m, zaptest.NewLogger(t))

	var oldPort, newPort int
	tm.RegisterCallback(func(old, new *Config) error {
		oldPort = old.Service.Port
		newPort = new.Service.Port
		return nil
	})

	err = tm.apply(orchestratorFile, map[string]interface{}{
		"service":   map[string]interface{}{"port": 9090},
		"interview": map[string]interface{}{"answer_timeout": "48h"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	cfg := tm.GetConfig()
	if cfg.Service.Port != 9090 {
		t.Errorf("port = %d", cfg.Service.Port)
	}
	if cfg.Interview.AnswerTimeout != 48*time.Hour {
		t.Errorf("answer timeout = %v", cfg.Interview.AnswerTimeout)
	}
	if cfg.LLM.Model != "gemma3:27b" {
		t.Errorf("unset keys should keep defaults, model = %s", cfg.LLM.Model)
	}
	if oldPort != 8080 || newPort != 9090 {
		t.Errorf("callback saw %d -> %d", oldPort, newPort)
	}
}

func TestTypedManagerRejectsInvalidMap(t *testing.T) {
	m, err := NewManager(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	tm := NewTypedManager(m, zaptest.NewLogger(t))

	err = tm.apply(orchestratorFile, map[string]interface{}{
		"service": map[string]interface{}{"port": 99999999},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := tm.GetConfig().Service.Port; got != 8080 {
		t.Errorf("config should be unchanged, port = %d", got)
	}
}
