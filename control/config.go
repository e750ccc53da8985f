// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Configuration model, viper loading, and a thread-safe store that
// propagates reloads to registered listeners.

package control

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Strategy names an IoProvider implementation.
type Strategy string

const (
	StrategyDual     Strategy = "dual"
	StrategySingle   Strategy = "single"
	StrategyStealing Strategy = "stealing"
)

// IOConfig tunes the readiness multiplexer and dispatchers.
type IOConfig struct {
	Strategy            Strategy `mapstructure:"strategy"`
	Selectors           int      `mapstructure:"selectors"`
	Workers             int      `mapstructure:"workers"`
	QueueSize           int      `mapstructure:"queue_size"`
	BufferSize          int      `mapstructure:"buffer_size"`
	MaxFrameLength      uint32   `mapstructure:"max_frame_length"`
	MaxCallbackFailures int      `mapstructure:"max_callback_failures"`
}

// SchedulerConfig sizes the timer worker and delivery pools.
type SchedulerConfig struct {
	Workers         int `mapstructure:"workers"`
	DeliveryWorkers int `mapstructure:"delivery_workers"`
}

// SessionConfig holds per-connection maintenance settings.
type SessionConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	PeerTimeout time.Duration `mapstructure:"peer_timeout"`
	CacheDir    string        `mapstructure:"cache_dir"`
}

// BridgeConfig sizes relay buffers.
type BridgeConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// LogConfig selects log level, format and optional rotating file output.
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   FileLogConfig `mapstructure:"file"`
}

// FileLogConfig configures lumberjack rotation.
type FileLogConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ServerConfig and ClientConfig are used by the CLI.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

type ClientConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the root configuration.
type Config struct {
	IO        IOConfig        `mapstructure:"io"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Session   SessionConfig   `mapstructure:"session"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Server    ServerConfig    `mapstructure:"server"`
	Client    ClientConfig    `mapstructure:"client"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		IO: IOConfig{
			Strategy:            StrategyStealing,
			Selectors:           4,
			Workers:             4,
			QueueSize:           4096,
			BufferSize:          256,
			MaxFrameLength:      1 << 30,
			MaxCallbackFailures: 3,
		},
		Scheduler: SchedulerConfig{Workers: 2, DeliveryWorkers: 4},
		Session: SessionConfig{
			IdleTimeout: 10 * time.Second,
			PeerTimeout: 30 * time.Second,
		},
		Bridge: BridgeConfig{BufferSize: 512},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   FileLogConfig{MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 7},
		},
		Metrics: MetricsConfig{Listen: ":9102"},
		Server:  ServerConfig{Listen: ":30401"},
		Client:  ClientConfig{Addr: "127.0.0.1:30401"},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("io.strategy", string(d.IO.Strategy))
	v.SetDefault("io.selectors", d.IO.Selectors)
	v.SetDefault("io.workers", d.IO.Workers)
	v.SetDefault("io.queue_size", d.IO.QueueSize)
	v.SetDefault("io.buffer_size", d.IO.BufferSize)
	v.SetDefault("io.max_frame_length", d.IO.MaxFrameLength)
	v.SetDefault("io.max_callback_failures", d.IO.MaxCallbackFailures)
	v.SetDefault("scheduler.workers", d.Scheduler.Workers)
	v.SetDefault("scheduler.delivery_workers", d.Scheduler.DeliveryWorkers)
	v.SetDefault("session.idle_timeout", d.Session.IdleTimeout)
	v.SetDefault("session.peer_timeout", d.Session.PeerTimeout)
	v.SetDefault("session.cache_dir", d.Session.CacheDir)
	v.SetDefault("bridge.buffer_size", d.Bridge.BufferSize)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file.enabled", d.Log.File.Enabled)
	v.SetDefault("log.file.path", d.Log.File.Path)
	v.SetDefault("log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", d.Log.File.Compress)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("client.addr", d.Client.Addr)
}

// NewViper returns a viper instance with defaults and HIOLINK_ env binding.
// path may be empty to use defaults and environment only.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix("HIOLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Decode unmarshals v into a validated Config.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads path (may be empty) and returns the decoded Config.
func LoadConfig(path string) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	switch c.IO.Strategy {
	case StrategyDual, StrategySingle, StrategyStealing:
	default:
		return fmt.Errorf("io.strategy: unknown strategy %q", c.IO.Strategy)
	}
	if c.IO.BufferSize < 16 {
		return fmt.Errorf("io.buffer_size must be >= 16, got %d", c.IO.BufferSize)
	}
	if c.Session.IdleTimeout > 0 && c.Session.PeerTimeout > 0 &&
		c.Session.PeerTimeout <= c.Session.IdleTimeout {
		return fmt.Errorf("session.peer_timeout (%s) must exceed session.idle_timeout (%s)",
			c.Session.PeerTimeout, c.Session.IdleTimeout)
	}
	return nil
}

// ConfigStore holds the current Config and notifies listeners on change.
type ConfigStore struct {
	mu        sync.RWMutex
	config    *Config
	listeners []func(*Config)
}

// NewConfigStore initializes a store with cfg (defaults when nil).
func NewConfigStore(cfg *Config) *ConfigStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &ConfigStore{config: cfg}
}

// Get returns the current configuration snapshot.
func (cs *ConfigStore) Get() *Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// Set replaces the configuration and dispatches reload to listeners.
func (cs *ConfigStore) Set(cfg *Config) {
	cs.mu.Lock()
	cs.config = cfg
	listeners := append([]func(*Config){}, cs.listeners...)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func(*Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// Watch feeds file changes seen by v into the store. Invalid configs are
// reported to onErr and leave the current one in place.
func (cs *ConfigStore) Watch(v *viper.Viper, onErr func(error)) {
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := Decode(v)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		cs.Set(cfg)
	})
	v.WatchConfig()
}
