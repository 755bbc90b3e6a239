// Package config loads the inbox-tail runtime configuration from a yaml
// file and INBOX_SYNC_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	BaseURL      string `mapstructure:"base_url"`
	TenantID     int64  `mapstructure:"tenant_id"`
	DepartmentID int64  `mapstructure:"department_id"`
	AgentID      int64  `mapstructure:"agent_id"`
	PollSeconds  int    `mapstructure:"poll_seconds"`
	PageLimit    int    `mapstructure:"page_limit"`
	LogLevel     string `mapstructure:"log_level"`
}

// Load reads the configuration. With an explicit path the file must
// exist; otherwise inbox-sync.yaml is searched in . and ./configs and a
// missing file is fine, environment variables can carry everything.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("poll_seconds", 5)
	v.SetDefault("page_limit", 50)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("INBOX_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("inbox-sync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("config: base_url is required")
	}
	if c.TenantID == 0 {
		return errors.New("config: tenant_id is required")
	}
	if c.AgentID == 0 {
		return errors.New("config: agent_id is required")
	}
	return nil
}
