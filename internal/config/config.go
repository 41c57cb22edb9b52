package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

type Config struct {
	API       APIConfig       `yaml:"api"`
	Capture   CaptureConfig   `yaml:"capture"`
	Bus       BusConfig       `yaml:"bus"`
	Detect    DetectConfig    `yaml:"detect"`
	Probe     ProbeConfig     `yaml:"probe"`
	Response  ResponseConfig  `yaml:"response"`
	Graph     GraphConfig     `yaml:"graph"`
	Session   SessionConfig   `yaml:"session"`
	ML        MLConfig        `yaml:"ml"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
	Key  string `yaml:"key"`
}

type CaptureConfig struct {
	// Interface is the NIC to sniff; empty means all interfaces.
	Interface  string `yaml:"interface"`
	BufferSize int    `yaml:"buffer_size"`
}

type BusConfig struct {
	Topic string `yaml:"topic"`
	// RedisAddr switches the bus to Redis Pub/Sub when set. Empty keeps
	// the in-process bus.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type DetectConfig struct {
	// Plugins toggles individual detector plugins by name. Plugins absent
	// from the map stay enabled.
	Plugins map[string]bool `yaml:"plugins"`
}

type ProbeConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxPerMinute int  `yaml:"max_per_minute"`
	CooldownS    int  `yaml:"cooldown_s"`
	TimeoutS     int  `yaml:"timeout_s"`
}

type ResponseConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxBlocked int  `yaml:"max_blocked"`
	TTLS       int  `yaml:"ttl_s"`
}

type GraphConfig struct {
	// DSN selects the Postgres store when set; empty keeps the in-memory
	// store.
	DSN                 string  `yaml:"dsn"`
	CentralityIntervalS int     `yaml:"centrality_interval_s"`
	CentralityThreshold float64 `yaml:"centrality_threshold"`
	MinConnections      int     `yaml:"min_connections"`
}

type SessionConfig struct {
	WindowMinutes int `yaml:"window_minutes"`
}

type MLConfig struct {
	Enabled  bool   `yaml:"enabled"`
	ModelDir string `yaml:"model_dir"`
}

type SimulatorConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Addr: ":8000",
		},
		Capture: CaptureConfig{
			BufferSize: 1000,
		},
		Bus: BusConfig{
			Topic: "sh.telemetry.traffic.v1",
		},
		Probe: ProbeConfig{
			Enabled:      true,
			MaxPerMinute: 10,
			CooldownS:    300,
			TimeoutS:     5,
		},
		Response: ResponseConfig{
			Enabled:    true,
			MaxBlocked: 500,
			TTLS:       3600,
		},
		Graph: GraphConfig{
			CentralityIntervalS: 60,
			CentralityThreshold: 0.3,
			MinConnections:      3,
		},
		Session: SessionConfig{
			WindowMinutes: 30,
		},
		ML: MLConfig{
			Enabled: true,
		},
	}
}

// LoadConfig reads a YAML config file over the defaults and then applies
// environment overrides. A missing file is not an error; environment
// overrides still apply.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			decoder := yaml.NewDecoder(f)
			if derr := decoder.Decode(cfg); derr != nil {
				f.Close()
				return nil, fmt.Errorf("parse config %s: %w", path, derr)
			}
			f.Close()
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv maps SH_-prefixed environment variables onto the config. These
// win over both defaults and file values so containers can override without
// a mounted file.
func (c *Config) applyEnv() {
	if v := os.Getenv("SH_CAPTURE_INTERFACE"); v != "" {
		c.Capture.Interface = v
	}
	if v := os.Getenv("SH_CAPTURE_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Capture.BufferSize = n
		}
	}
	if v := os.Getenv("SH_BUS_TOPIC"); v != "" {
		c.Bus.Topic = v
	}
	if v := os.Getenv("SH_REDIS_ADDR"); v != "" {
		c.Bus.RedisAddr = v
	}
	if v := os.Getenv("SH_GRAPH_DSN"); v != "" {
		c.Graph.DSN = v
	}
	if v := os.Getenv("SH_API_KEY"); v != "" {
		c.API.Key = v
	}
	if v := os.Getenv("SH_API_ADDR"); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.API.Addr = ":" + v
	}
}
