package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Agent   AgentConfig
	Session SessionConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type AgentConfig struct {
	// BinPath is the external agent binary invoked for stage work. Empty
	// means no binary; stages then advance without real agent runs.
	BinPath        string
	TimeoutSeconds int
}

type SessionConfig struct {
	// TTLHours is the idle window after which a forgotten active session is
	// reclaimed on the next start.
	TTLHours int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Agent: AgentConfig{
			TimeoutSeconds: 300,
		},
		Session: SessionConfig{
			TTLHours: 24,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "devflow-data"
		}
	}
	return filepath.Join(dir, "devflow")
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/devflow/config.json, then applies DEVFLOW_* environment
// variable overrides.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	return cfg, nil
}

// AgentTimeout is the Agent.TimeoutSeconds field as a duration.
func (c Config) AgentTimeout() time.Duration {
	return time.Duration(c.Agent.TimeoutSeconds) * time.Second
}

// SessionTTL is the Session.TTLHours field as a duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLHours) * time.Hour
}
