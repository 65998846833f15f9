// Package config loads the CLI's tunables: the control-transfer
// timeout, the re-enumeration wait, and the default verify-after-write
// behavior. It follows the same .env-or-environment layering as the
// teacher's device config: a .env file found by walking up to the
// module root, then process environment variables override it.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RuntimeConfig holds the values internal/device and internal/helper
// otherwise default internally.
type RuntimeConfig struct {
	ControlTimeout     time.Duration
	RediscoverAttempts int
	RediscoverDelay    time.Duration
	VerifyByDefault    bool
}

func defaults() RuntimeConfig {
	return RuntimeConfig{
		ControlTimeout:     5 * time.Second,
		RediscoverAttempts: 10,
		RediscoverDelay:    1 * time.Second,
		VerifyByDefault:    false,
	}
}

var (
	runtimeConfig *RuntimeConfig
	configLoaded  bool
)

// Load returns the runtime config, reading a .env file near the
// module root (if any) and applying DD_* environment overrides. The
// result is cached after the first call.
func Load() *RuntimeConfig {
	if runtimeConfig != nil && configLoaded {
		return runtimeConfig
	}

	cfg := defaults()

	envPath := filepath.Join(findProjectRoot(), ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), &cfg)
	}

	applyEnvOverrides(&cfg)

	runtimeConfig = &cfg
	configLoaded = true
	return runtimeConfig
}

func applyEnvOverrides(cfg *RuntimeConfig) {
	if v := os.Getenv("DD_CONTROL_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.ControlTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("DD_REDISCOVER_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RediscoverAttempts = n
		}
	}
	if v := os.Getenv("DD_REDISCOVER_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.RediscoverDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("DD_VERIFY_BY_DEFAULT"); v != "" {
		cfg.VerifyByDefault = v == "1" || strings.EqualFold(v, "true")
	}
}

func parseEnvFile(content string, cfg *RuntimeConfig) {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "DD_CONTROL_TIMEOUT_MS":
			if ms, err := strconv.Atoi(value); err == nil {
				cfg.ControlTimeout = time.Duration(ms) * time.Millisecond
			}
		case "DD_REDISCOVER_ATTEMPTS":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.RediscoverAttempts = n
			}
		case "DD_REDISCOVER_DELAY_MS":
			if ms, err := strconv.Atoi(value); err == nil {
				cfg.RediscoverDelay = time.Duration(ms) * time.Millisecond
			}
		case "DD_VERIFY_BY_DEFAULT":
			cfg.VerifyByDefault = value == "1" || strings.EqualFold(value, "true")
		}
	}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}
