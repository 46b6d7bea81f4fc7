package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries the daemon settings. Environment variables override file
// values so container deployments can skip the file entirely.
type Config struct {
	Listen  string `yaml:"listen"`
	Storage struct {
		Driver      string `yaml:"driver"` // memory|sqlite|postgres
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"storage"`
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

// DefaultListen is the HTTP bind address when none is configured.
const DefaultListen = ":8080"

// LoadConfig reads the YAML file at path (optional) and applies environment
// overrides.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := map[string]*string{
		"VIGIECORE_LISTEN":         &cfg.Listen,
		"VIGIECORE_STORAGE_DRIVER": &cfg.Storage.Driver,
		"VIGIECORE_SQLITE_PATH":    &cfg.Storage.SQLitePath,
		"VIGIECORE_POSTGRES_DSN":   &cfg.Storage.PostgresDSN,
		"VIGIECORE_NATS_URL":       &cfg.NATS.URL,
		"VIGIECORE_NATS_PREFIX":    &cfg.NATS.SubjectPrefix,
	}
	for name, dst := range overrides {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
}
