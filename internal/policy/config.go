package policy

import (
	"os"
	"strconv"
	"strings"
)

// Mode defines the guard's operating mode.
type Mode string

const (
	// ModeOff disables script policy evaluation entirely.
	ModeOff Mode = "off"
	// ModeDryRun evaluates policies but only logs what would be denied.
	ModeDryRun Mode = "dry-run"
	// ModeEnforce evaluates and enforces policies.
	ModeEnforce Mode = "enforce"
)

// Config holds the script guard configuration.
type Config struct {
	// Enabled controls whether the guard is active.
	Enabled bool

	// Mode controls enforcement behavior.
	Mode Mode

	// Path to the directory containing .rego policy files.
	Path string

	// FailClosed determines behavior when policies can't be loaded.
	// true: reject all scripts if policies fail to load
	// false: run all scripts if policies fail to load (fail-open)
	FailClosed bool

	// Environment context for policy evaluation.
	Environment string
}

// LoadConfig loads guard configuration from environment variables.
func LoadConfig() *Config {
	config := &Config{
		Enabled:     getEnvBool("DRILL_POLICY_ENABLED", false),
		Mode:        Mode(getEnvString("DRILL_POLICY_MODE", "off")),
		Path:        getEnvString("DRILL_POLICY_PATH", "config/policies"),
		FailClosed:  getEnvBool("DRILL_POLICY_FAIL_CLOSED", false),
		Environment: getEnvString("ENVIRONMENT", "dev"),
	}
	config.normalize()
	return config
}

func (c *Config) normalize() {
	switch c.Mode {
	case ModeOff, ModeDryRun, ModeEnforce:
	default:
		c.Mode = ModeOff
	}
	if c.Mode == ModeOff {
		c.Enabled = false
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on", "enable", "enabled":
		return true
	case "false", "0", "no", "off", "disable", "disabled":
		return false
	default:
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		return defaultValue
	}
}
