package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Scraper     ScraperConfig             `json:"scraper"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// ScraperConfig points at the external scraping service used by the
// scrape-and-summarize tool. A missing key disables that tool; it never
// prevents startup.
type ScraperConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// AdminEmail bootstraps the admin role when a matching user registers.
	// Request-time authorization checks the role claim only.
	AdminEmail string `json:"admin_email"`
}

const scraperKeyEnv = "BEEP_SCRAPER_API_KEY"

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Scraper.APIKey == "" {
		cfg.Scraper.APIKey = os.Getenv(scraperKeyEnv)
	}
	if cfg.Scraper.BaseURL == "" {
		cfg.Scraper.BaseURL = "https://api.firecrawl.dev/v1/scrape"
	}

	return &cfg, nil
}
