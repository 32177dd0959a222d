// Package config loads mailsheet settings from an optional config file
// with MAILSHEET_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the read-only configuration for one run.
type Settings struct {
	SpreadsheetID   string `mapstructure:"spreadsheet_id"`
	SheetName       string `mapstructure:"sheet_name"`
	StateFile       string `mapstructure:"state_file"`
	CredentialsFile string `mapstructure:"credentials_file"`
	SheetsTokenFile string `mapstructure:"sheets_token_file"`
	GmailAuthDir    string `mapstructure:"gmail_auth_dir"`

	BodyLimit int `mapstructure:"body_limit"`
	PageSize  int `mapstructure:"page_size"`
	RPS       int `mapstructure:"rps"`

	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	Jitter            bool          `mapstructure:"jitter"`
}

// Load reads settings from path (empty means defaults and environment
// only) and validates them.
func Load(path string) (Settings, error) {
	v := viper.New()
	v.SetDefault("spreadsheet_id", "")
	v.SetDefault("sheet_name", "Emails")
	v.SetDefault("state_file", "state/processed_emails.json")
	v.SetDefault("credentials_file", "credentials/credentials.json")
	v.SetDefault("sheets_token_file", "credentials/sheets_token.json")
	v.SetDefault("gmail_auth_dir", os.ExpandEnv("$HOME/.gmailctl"))
	v.SetDefault("body_limit", 1000)
	v.SetDefault("page_size", 100)
	v.SetDefault("rps", 4)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("base_delay", 2*time.Second)
	v.SetDefault("backoff_multiplier", 2.0)
	v.SetDefault("jitter", false)

	v.SetEnvPrefix("MAILSHEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("parse config: %w", err)
	}
	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) validate() error {
	if strings.TrimSpace(s.SpreadsheetID) == "" {
		return errors.New("spreadsheet_id is required")
	}
	if strings.TrimSpace(s.SheetName) == "" {
		return errors.New("sheet_name must not be empty")
	}
	if s.BodyLimit <= 0 {
		return errors.New("body_limit must be positive")
	}
	if s.MaxAttempts <= 0 {
		return errors.New("max_attempts must be positive")
	}
	return nil
}
