package config

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment overrides, e.g.
// BLOCKSITES_STATE_DIR sets state_dir.
const EnvPrefix = "BLOCKSITES_"

// AnchorName is the pf anchor that owns the firewall rules.
const AnchorName = "com.blocksites"

// JobLabel identifies the recurring enforcer job.
const JobLabel = "com.blocksites.enforcer"

// AppConfig holds the settings shared by the setup CLI and the enforcer.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// StateDir holds config.json, ip_cache.json, hosts.backup and the
	// enforcer state and lock files.
	StateDir string `koanf:"state_dir" validate:"required"`

	HostsPath    string `koanf:"hosts_path" validate:"required"`
	AnchorPath   string `koanf:"anchor_path" validate:"required"`
	PFConfPath   string `koanf:"pf_conf_path" validate:"required"`
	PlistPath    string `koanf:"plist_path" validate:"required"`
	EnforcerPath string `koanf:"enforcer_path" validate:"required"`
	LogPath      string `koanf:"log_path" validate:"required"`

	// Marker tags every hosts line owned by blocksites.
	Marker string `koanf:"marker" validate:"required,startswith=#"`

	// Interval between enforcement passes.
	Interval time.Duration `koanf:"interval" validate:"gte=10s"`

	// Resolver is the upstream used for IP resolution in ip:port form.
	// It is never the local resolver, which would see our own hosts entries.
	Resolver           string        `koanf:"resolver" validate:"required,ip_port"`
	ResolveTimeout     time.Duration `koanf:"resolve_timeout" validate:"gte=100ms"`
	ResolveConcurrency int           `koanf:"resolve_concurrency" validate:"gte=1,lte=64"`
	CommandTimeout     time.Duration `koanf:"command_timeout" validate:"gte=1s"`

	// Scheduler selects how the enforcer is registered: "launchd" writes a
	// LaunchDaemon plist, "service" installs a system service.
	Scheduler string `koanf:"scheduler" validate:"required,oneof=launchd service"`
}

// Default returns the platform defaults.
func Default() AppConfig {
	cfg := AppConfig{
		Env:                "prod",
		LogLevel:           "info",
		HostsPath:          "/etc/hosts",
		AnchorPath:         "/etc/pf.anchors/" + AnchorName,
		PFConfPath:         "/etc/pf.conf",
		PlistPath:          "/Library/LaunchDaemons/" + JobLabel + ".plist",
		EnforcerPath:       "/usr/local/bin/blocksites-enforcer",
		LogPath:            "/var/log/blocksites.log",
		Marker:             "# BLOCKSITES",
		Interval:           60 * time.Second,
		Resolver:           "8.8.8.8:53",
		ResolveTimeout:     3 * time.Second,
		ResolveConcurrency: 8,
		CommandTimeout:     15 * time.Second,
	}
	if runtime.GOOS == "darwin" {
		cfg.StateDir = "/Library/Application Support/BlockSites"
		cfg.Scheduler = "launchd"
	} else {
		cfg.StateDir = "/var/lib/blocksites"
		cfg.Scheduler = "service"
	}
	return cfg
}

// validIPPort accepts "IP:Port" with a literal IP and a port in 1-65535.
func validIPPort(fl validator.FieldLevel) bool {
	ip, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || ip == "" || port == "" {
		return false
	}
	if net.ParseIP(ip) == nil {
		return false
	}
	n, err := strconv.ParseUint(port, 10, 16)
	return err == nil && n > 0
}

// envLoader loads BLOCKSITES_* variables. Values are kept whole because
// paths such as the macOS state directory contain spaces.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(Default(), "koanf"), nil)
}

var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("ip_port", validIPPort)
}

// Load applies defaults, then environment overrides, and validates the
// result.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &cfg, nil
}
