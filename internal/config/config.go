package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CermakM/osiris-build-observer/internal/retry"
)

// Config captures the runtime settings for the observer.
type Config struct {
	OsirisHost     string        `yaml:"osirisHost"`
	OsirisPort     int           `yaml:"osirisPort"`
	ClusterServer  string        `yaml:"clusterServer"`
	Namespace      string        `yaml:"namespace"`
	KubeconfigPath string        `yaml:"kubeconfig"`
	LogLevel       string        `yaml:"logLevel"`
	Debug          bool          `yaml:"debug"`
	DryRun         bool          `yaml:"dryRun"`
	ListenAddr     string        `yaml:"listenAddr"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	Gzip           bool          `yaml:"gzip"`
	Retry          RetryConfig   `yaml:"retry"`
}

// RetryConfig tunes the retry policy applied to Osiris traffic.
type RetryConfig struct {
	Total      int           `yaml:"total"`
	Connect    int           `yaml:"connect"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"maxBackoff"`
}

// DefaultConfig returns the defaults used when nothing else is configured.
func DefaultConfig() Config {
	policy := retry.DefaultPolicy()
	return Config{
		OsirisHost:     "http://0.0.0.0",
		OsirisPort:     5000,
		LogLevel:       "info",
		ListenAddr:     ":8080",
		RequestTimeout: 60 * time.Second,
		Retry: RetryConfig{
			Total:   policy.Total,
			Connect: policy.Connect,
			Backoff: policy.BackoffFactor,
		},
	}
}

// BaseURL joins the Osiris host and port.
func (c Config) BaseURL() string {
	host := strings.TrimRight(c.OsirisHost, "/")
	if c.OsirisPort <= 0 {
		return host
	}
	return fmt.Sprintf("%s:%d", host, c.OsirisPort)
}

// EffectiveLogLevel resolves the debug toggle against the level name.
func (c Config) EffectiveLogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.LogLevel
}

// RetryPolicy builds the retry policy for Osiris requests.
func (c Config) RetryPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	policy.Total = c.Retry.Total
	policy.Connect = c.Retry.Connect
	policy.BackoffFactor = c.Retry.Backoff
	policy.MaxBackoff = c.Retry.MaxBackoff
	return policy
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.OsirisHost)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("osiris host %q must be an absolute URL", c.OsirisHost)
	}
	if u.Port() != "" {
		return fmt.Errorf("osiris host %q must not carry a port, use the port setting", c.OsirisHost)
	}
	if c.OsirisPort < 0 || c.OsirisPort > 65535 {
		return fmt.Errorf("osiris port %d out of range", c.OsirisPort)
	}
	if c.ClusterServer != "" {
		if u, err := url.Parse(c.ClusterServer); err != nil || u.Host == "" {
			return fmt.Errorf("cluster server %q must be an absolute URL", c.ClusterServer)
		}
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if c.Retry.Total < 0 || c.Retry.Connect < 0 {
		return errors.New("retry budgets must be non-negative")
	}
	if c.Retry.Backoff < 0 || c.Retry.MaxBackoff < 0 {
		return errors.New("retry backoff must be non-negative")
	}
	return nil
}

// Load builds the configuration from os.Args.
func Load() (Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs merges defaults, the optional file, environment and flags, in that
// order of increasing precedence.
func LoadArgs(args []string) (Config, error) {
	cfg := DefaultConfig()

	// First pass only discovers the config file and rejects bad flags.
	configFile := envOrDefault("OSIRIS_OBSERVER_CONFIG_FILE", "")
	scratch := cfg
	probe := newFlagSet(&scratch, &configFile)
	if err := probe.Parse(args); err != nil { // flag set already prints errors
		return Config{}, err
	}

	if configFile != "" {
		if err := loadFromFile(configFile, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	// Flags bound on the merged values only overwrite what was passed.
	fs := newFlagSet(&cfg, &configFile)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newFlagSet(cfg *Config, configFile *string) *flag.FlagSet {
	fs := flag.NewFlagSet("osiris-build-observer", flag.ContinueOnError)
	fs.StringVar(configFile, "config", *configFile, "Path to YAML config file")
	fs.StringVar(&cfg.OsirisHost, "osiris-host", cfg.OsirisHost, "Osiris base URL without port")
	fs.IntVar(&cfg.OsirisPort, "osiris-port", cfg.OsirisPort, "Osiris port")
	fs.StringVar(&cfg.ClusterServer, "cluster-server", cfg.ClusterServer, "Cluster API server URL sent at login and used for build links")
	fs.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "Namespace to watch (defaults to the service account namespace)")
	fs.StringVar(&cfg.KubeconfigPath, "kubeconfig", cfg.KubeconfigPath, "Path to kubeconfig (optional, $KUBECONFIG is honored when unset)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Build and log requests without sending them")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "Status and metrics listen address, empty disables")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Timeout for each Osiris request attempt")
	fs.BoolVar(&cfg.Gzip, "gzip", cfg.Gzip, "Gzip notification bodies")
	fs.IntVar(&cfg.Retry.Total, "retry-total", cfg.Retry.Total, "Maximum retries per request")
	fs.IntVar(&cfg.Retry.Connect, "retry-connect", cfg.Retry.Connect, "Maximum connection-error retries per request")
	fs.DurationVar(&cfg.Retry.Backoff, "retry-backoff", cfg.Retry.Backoff, "Delay before the first retry, doubled on each retry")
	fs.DurationVar(&cfg.Retry.MaxBackoff, "retry-max-backoff", cfg.Retry.MaxBackoff, "Cap for a single retry delay, zero for none")
	return fs
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path provided by cluster operator
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	// Decoding onto cfg keeps every key the file does not mention.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("OSIRIS_HOST_NAME"); v != "" {
		cfg.OsirisHost = v
	}
	if v := os.Getenv("OSIRIS_HOST_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse OSIRIS_HOST_PORT: %w", err)
		}
		cfg.OsirisPort = port
	}
	if v := os.Getenv("OC_HOST_NAME"); v != "" {
		cfg.ClusterServer = v
	}
	if v := os.Getenv("OSIRIS_CLUSTER_SERVER"); v != "" {
		cfg.ClusterServer = v
	}
	if v := os.Getenv("OC_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("OSIRIS_DEBUG"); v != "" {
		if bv, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = bv
		}
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		if bv, err := strconv.ParseBool(v); err == nil {
			cfg.DryRun = bv
		}
	}
	if v, ok := os.LookupEnv("OSIRIS_OBSERVER_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("OSIRIS_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse OSIRIS_REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if v := os.Getenv("OSIRIS_GZIP"); v != "" {
		if bv, err := strconv.ParseBool(v); err == nil {
			cfg.Gzip = bv
		}
	}
	if v := os.Getenv("OSIRIS_RETRY_TOTAL"); v != "" {
		iv, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse OSIRIS_RETRY_TOTAL: %w", err)
		}
		cfg.Retry.Total = iv
	}
	if v := os.Getenv("OSIRIS_RETRY_CONNECT"); v != "" {
		iv, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse OSIRIS_RETRY_CONNECT: %w", err)
		}
		cfg.Retry.Connect = iv
	}
	if v := os.Getenv("OSIRIS_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse OSIRIS_RETRY_BACKOFF: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if v := os.Getenv("OSIRIS_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse OSIRIS_RETRY_MAX_BACKOFF: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
