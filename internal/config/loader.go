package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/example/migr/internal/persistence"
)

// DefaultEnvFile is loaded when present in the working directory.
const DefaultEnvFile = ".env"

// Config captures environment driven configuration values for migr.
// Command-line flags are applied on top by the caller.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	Driver      string `env:"MIGR_DRIVER"`
	Path        string `env:"MIGR_PATH"`
	SearchDepth int    `env:"MIGR_SEARCH_DEPTH" envDefault:"2"`
	Verbose     bool   `env:"MIGR_VERBOSE"`
	LogFormat   string `env:"MIGR_LOG_FORMAT"   envDefault:"text"`
	LogColor    string `env:"MIGR_LOG_COLOR"     envDefault:"auto"`
	MetricsFile string `env:"MIGR_METRICS_FILE"`
}

// Load reads the optional env files (DefaultEnvFile when none are given)
// and parses the process environment. Variables already set in the
// environment win over values from the files.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{DefaultEnvFile}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)

	if invalid := cfg.invalidFields(); len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

func (c Config) invalidFields() []string {
	invalid := make([]string, 0, 4)
	if c.SearchDepth < 0 {
		invalid = append(invalid, "MIGR_SEARCH_DEPTH")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		invalid = append(invalid, "MIGR_LOG_FORMAT")
	}
	switch strings.ToLower(c.LogColor) {
	case "", "auto", "always", "never":
	default:
		invalid = append(invalid, "MIGR_LOG_COLOR")
	}
	if c.Driver != "" {
		if _, err := persistence.DialectFor(c.Driver); err != nil {
			invalid = append(invalid, "MIGR_DRIVER")
		}
	}
	return invalid
}

// Colored reports whether console logs should carry ANSI colors. "auto"
// colors only when the log destination is a terminal.
func (c Config) Colored(terminal bool) bool {
	switch strings.ToLower(c.LogColor) {
	case "always":
		return true
	case "never":
		return false
	}
	return terminal
}

// RequireDatabaseURL reports a missing DATABASE_URL.
func (c Config) RequireDatabaseURL() error {
	if c.DatabaseURL == "" {
		return errors.New("必須の環境変数が設定されていません: DATABASE_URL")
	}
	return nil
}

// Database returns the connection settings for the configured URL.
func (c Config) Database() persistence.Config {
	dbCfg := persistence.DefaultConfig(c.DatabaseURL)
	dbCfg.Driver = c.Driver
	return dbCfg
}
