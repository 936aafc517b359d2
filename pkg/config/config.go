package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	TLSCertFile    string   `yaml:"tlsCertFile"`
	TLSKeyFile     string   `yaml:"tlsKeyFile"`
	TrustedProxies []string `yaml:"trustedProxies"` // IPs/CIDRs to trust for X-Forwarded-For headers
}

type Storage struct {
	// Driver selects the persistence backend: "memory" or "sqlite".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file path (sqlite driver only).
	Path string `yaml:"path"`
}

type Scheduler struct {
	// SweepInterval controls how often the escalation sweep runs (e.g. "30s", "5m").
	SweepInterval string `yaml:"sweepInterval"`
	// TaskLimit bounds how many overdue Tasks one sweep pass processes.
	TaskLimit int `yaml:"taskLimit"`
	// InstanceLimit bounds how many due escalation instances one sweep pass processes.
	InstanceLimit int `yaml:"instanceLimit"`
}

type Rules struct {
	// Paths lists rule source files, loaded in order.
	Paths []string `yaml:"paths"`
	// PolicyPath points at the escalation policy definitions file.
	PolicyPath string `yaml:"policyPath"`
}

type Profiles struct {
	// Path points at the organization profile definitions file.
	Path string `yaml:"path"`
}

type Mail struct {
	Enabled            bool   `yaml:"enabled"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	SenderAddress      string `yaml:"senderAddress"`
	SenderName         string `yaml:"senderName"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	RetryCount         int    `yaml:"retryCount"`
	RetryBackoffMs     int    `yaml:"retryBackoffMs"`
	// DefaultReceivers receive lifecycle notifications when no role/user resolution applies.
	DefaultReceivers []string `yaml:"defaultReceivers"`
}

type NotifyWebhook struct {
	Enabled   bool              `yaml:"enabled"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	TimeoutMs int               `yaml:"timeoutMs"`
}

type AuditKafka struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	// SASLMechanism is "PLAIN" or empty for no authentication.
	SASLMechanism string `yaml:"saslMechanism"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
}

type Audit struct {
	Kafka   AuditKafka    `yaml:"kafka"`
	Webhook NotifyWebhook `yaml:"webhook"`
}

type Config struct {
	Server    Server        `yaml:"server"`
	Storage   Storage       `yaml:"storage"`
	Scheduler Scheduler     `yaml:"scheduler"`
	Rules     Rules         `yaml:"rules"`
	Profiles  Profiles      `yaml:"profiles"`
	Mail      Mail          `yaml:"mail"`
	Webhook   NotifyWebhook `yaml:"webhook"`
	Audit     Audit         `yaml:"audit"`
}

// Defaults fills in values for fields that were left empty in the config file.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "./taskrouter.db"
	}
	if c.Scheduler.SweepInterval == "" {
		c.Scheduler.SweepInterval = "30s"
	}
	if c.Scheduler.TaskLimit <= 0 {
		c.Scheduler.TaskLimit = 200
	}
	if c.Scheduler.InstanceLimit <= 0 {
		c.Scheduler.InstanceLimit = 200
	}
}

// SweepInterval parses the configured sweep interval, falling back to 30s on
// empty or invalid values.
func (c Config) SweepInterval() time.Duration {
	d, err := time.ParseDuration(c.Scheduler.SweepInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Load loads the taskrouter configuration from a file path.
// If configPath is empty, defaults to "./config.yaml".
// The config file path can also be overridden via the TASKROUTER_CONFIG_PATH
// environment variable.
func Load(configPath ...string) (Config, error) {
	var path string

	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	} else if env := os.Getenv("TASKROUTER_CONFIG_PATH"); env != "" {
		path = env
	} else {
		path = "./config.yaml"
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open taskrouter config file %s: %v", path, err)
	}

	err = yaml.Unmarshal(content, &config)
	if err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %v", path, err)
	}
	return config, nil
}

// CachedLoader caches a loaded Config and re-reads it from disk at most once
// per TTL. Managers hold one of these instead of hitting the disk per request.
type CachedLoader struct {
	path string
	ttl  time.Duration

	mu       sync.Mutex
	cached   Config
	loadedAt time.Time
	valid    bool
}

// NewCachedLoader creates a CachedLoader for the given path and TTL.
func NewCachedLoader(path string, ttl time.Duration) *CachedLoader {
	return &CachedLoader{path: path, ttl: ttl}
}

// Get returns the cached config, reloading from disk when the TTL has expired.
// A failed reload keeps serving the last good config.
func (cl *CachedLoader) Get() (Config, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.valid && time.Since(cl.loadedAt) < cl.ttl {
		return cl.cached, nil
	}

	cfg, err := Load(cl.path)
	if err != nil {
		if cl.valid {
			return cl.cached, nil
		}
		return Config{}, err
	}
	cfg.Defaults()
	cl.cached = cfg
	cl.loadedAt = time.Now()
	cl.valid = true
	return cl.cached, nil
}
