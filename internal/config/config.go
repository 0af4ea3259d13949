// package config loads the engine's runtime configuration from a YAML file
// and environment variables, the latter taking priority. No command-line
// flags are bound to configuration keys.
// It mirrors the layered viper setup the rest of this codebase's lineage
// has always used, narrowed to the keys the reconciliation engine reads.
package config // import "github.com/securesshmanager/ssm/internal/config"

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every value the engine's constructors need. Nothing in the
// core reads viper or the filesystem directly; main wires this struct in.
type Config struct {
	Database struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	SSH struct {
		PrivateKeyPath   string        `mapstructure:"private_key_path"`
		ConnectTimeoutMS time.Duration `mapstructure:"connect_timeout_ms"`
		CommandTimeoutMS time.Duration `mapstructure:"command_timeout_ms"`
	} `mapstructure:"ssh"`

	Cache struct {
		DefaultTTLMS time.Duration `mapstructure:"default_ttl_ms"`
		Capacity     int           `mapstructure:"capacity"`
	} `mapstructure:"cache"`

	Reconcile struct {
		FleetConcurrency   int `mapstructure:"fleet_concurrency"`
		PerHostConcurrency int `mapstructure:"per_host_concurrency"`
	} `mapstructure:"reconcile"`

	Traversal struct {
		MaxJumpDepth int `mapstructure:"max_jump_depth"`
	} `mapstructure:"traversal"`
}

// GetConfigPath returns the default path searched for a config file.
// When system is true it returns the system-wide path (/etc on Unix,
// ProgramData on Windows); otherwise the current user's config dir.
func GetConfigPath(system bool) (string, error) {
	var dir string
	if system {
		switch runtime.GOOS {
		case "windows":
			dir = filepath.Join(os.Getenv("ProgramData"), "ssm")
		default:
			dir = "/etc/ssm"
		}
		return filepath.Join(dir, "ssm.yaml"), nil
	}

	if env := os.Getenv("XDG_CONFIG_HOME"); env != "" {
		dir = env
	} else {
		var err error
		dir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("could not get user config directory: %w", err)
		}
	}
	return filepath.Join(dir, "ssm", "ssm.yaml"), nil
}

// Load reads configuration from, in priority order, environment variables
// (SSM_-prefixed), an explicit config file path (if non-empty), and the
// default user/system config file locations, falling back to the defaults
// below for anything left unset.
func Load(explicitPath string) (Config, error) {
	var cfg Config

	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./ssm.db")
	v.SetDefault("ssh.connect_timeout_ms", 15000)
	v.SetDefault("ssh.command_timeout_ms", 30000)
	v.SetDefault("cache.default_ttl_ms", 5*60*1000)
	v.SetDefault("cache.capacity", 1024)
	v.SetDefault("reconcile.fleet_concurrency", 10)
	v.SetDefault("reconcile.per_host_concurrency", 4)
	v.SetDefault("traversal.max_jump_depth", 8)

	candidates := []string{explicitPath}
	if explicitPath == "" {
		if p, err := GetConfigPath(false); err == nil {
			candidates = append(candidates, p)
		}
		if p, err := GetConfigPath(true); err == nil {
			candidates = append(candidates, p)
		}
	}

	for _, p := range candidates {
		if p == "" {
			continue
		}
		if fi, err := os.Stat(p); err == nil && fi.Size() > 0 {
			v.SetConfigFile(p)
			if err := v.ReadInConfig(); err != nil {
				return cfg, fmt.Errorf("reading config %s: %w", p, err)
			}
			break
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ssm")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Millisecond durations arrive from YAML/env as plain integers; decode
	// them by hand into time.Duration rather than pulling in a mapstructure
	// hook for three fields.
	cfg.Database.Driver = v.GetString("database.driver")
	cfg.Database.DSN = v.GetString("database.dsn")
	cfg.SSH.PrivateKeyPath = v.GetString("ssh.private_key_path")
	cfg.SSH.ConnectTimeoutMS = time.Duration(v.GetInt64("ssh.connect_timeout_ms")) * time.Millisecond
	cfg.SSH.CommandTimeoutMS = time.Duration(v.GetInt64("ssh.command_timeout_ms")) * time.Millisecond
	cfg.Cache.DefaultTTLMS = time.Duration(v.GetInt64("cache.default_ttl_ms")) * time.Millisecond
	cfg.Cache.Capacity = v.GetInt("cache.capacity")
	cfg.Reconcile.FleetConcurrency = v.GetInt("reconcile.fleet_concurrency")
	cfg.Reconcile.PerHostConcurrency = v.GetInt("reconcile.per_host_concurrency")
	cfg.Traversal.MaxJumpDepth = v.GetInt("traversal.max_jump_depth")

	return cfg, nil
}
