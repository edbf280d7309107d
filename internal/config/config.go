package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" toml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" toml:"databases"`
	Redis       RedisConfig               `json:"redis" toml:"redis"`
	Log         LogConfig                 `json:"log" toml:"log"`
	Replicate   ReplicateConfig           `json:"replicate" toml:"replicate"`
	Providers   map[string]ProviderConfig `json:"providers" toml:"providers"`
	Models      []ModelEntry              `json:"models" toml:"models"`
}

type BasicConfig struct {
	ServerAddress     string   `json:"server_address" toml:"server_address"`
	Database          string   `json:"database" toml:"database"`
	MinWorkers        int      `json:"min_workers" toml:"min_workers"`
	MaxWorkers        int      `json:"max_workers" toml:"max_workers"`
	QueueSize         int      `json:"queue_size" toml:"queue_size"`
	WorkerIdleTimeout int      `json:"worker_idle_timeout" toml:"worker_idle_timeout"` // minutes
	TurnTimeout       int      `json:"turn_timeout" toml:"turn_timeout"`               // seconds
	SessionTTL        int      `json:"session_ttl" toml:"session_ttl"`                 // hours
	AllowedOrigins    []string `json:"allowed_origins" toml:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" toml:"dsn"`
	Host     string `json:"host" toml:"host"`
	Port     int    `json:"port" toml:"port"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
	DBName   string `json:"db_name" toml:"db_name"`
	Params   string `json:"params" toml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" toml:"enabled"`
	Host     string `json:"host" toml:"host"`
	Port     int    `json:"port" toml:"port"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
	DB       int    `json:"db" toml:"db"`
}

type LogConfig struct {
	Level     string `json:"level" toml:"level"`
	Format    string `json:"format" toml:"format"`
	Output    string `json:"output" toml:"output"`
	FilePath  string `json:"file_path" toml:"file_path"`
	AddSource bool   `json:"add_source" toml:"add_source"`
}

// ReplicateConfig holds the process default credential and endpoint override.
// The credential is only a default: every session may replace it with its own.
type ReplicateConfig struct {
	APIKey  string `json:"api_key" toml:"api_key"`
	BaseURL string `json:"base_url" toml:"base_url"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" toml:"base_url"`
	Model   string `json:"model" toml:"model"`
	APIKey  string `json:"api_key" toml:"api_key"`
}

// ModelEntry adds a named model to the catalog on top of the built-in Llama2 variants.
type ModelEntry struct {
	Name       string `json:"name" toml:"name"`
	Provider   string `json:"provider" toml:"provider"`
	Identifier string `json:"identifier" toml:"identifier"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:     ":8090",
			Database:          "sqlite3",
			MinWorkers:        2,
			MaxWorkers:        8,
			QueueSize:         64,
			WorkerIdleTimeout: 5,
			TurnTimeout:       120,
			SessionTTL:        24,
		},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
		Redis: RedisConfig{Host: "127.0.0.1", Port: 6379},
		Log:   LogConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

// Load reads configuration from the provided path (defaults to config.json).
// A .env file in the working directory is loaded first; a missing config file
// is not an error and yields Default().
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(filepath.Dir(absPath)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("TRAVELBOT_DB")); v != "" {
		c.BasicConfig.Database = v
	}
	if v := strings.TrimSpace(os.Getenv("TRAVELBOT_ADDR")); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("REPLICATE_BASE_URL")); v != "" {
		c.Replicate.BaseURL = v
	}
}

func (c *Config) validate(baseDir string) error {
	dbType := strings.ToLower(c.BasicConfig.Database)
	if dbType == "" {
		return errors.New("basic_config.database must be configured")
	}
	dbCfg, ok := c.Databases[dbType]
	if !ok {
		return fmt.Errorf("database config for %s not found", dbType)
	}
	if (dbType == "sqlite" || dbType == "sqlite3") && dbCfg.DSN != "" && !isMemoryDSN(dbCfg.DSN) && !filepath.IsAbs(dbCfg.DSN) && !strings.HasPrefix(dbCfg.DSN, "file:") {
		dbCfg.DSN = filepath.Join(baseDir, dbCfg.DSN)
		c.Databases[dbType] = dbCfg
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be >= min_workers (%d)", c.BasicConfig.MaxWorkers, c.BasicConfig.MinWorkers)
	}
	for i, m := range c.Models {
		if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.Identifier) == "" {
			return fmt.Errorf("models[%d]: name and identifier are required", i)
		}
	}
	return nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
