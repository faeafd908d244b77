package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Secrets are read from the process environment and override the file values when set.
type Secrets struct {
	TelegramToken string `env:"SURVEYBOT_TELEGRAM_TOKEN"`
	StorageDSN    string `env:"SURVEYBOT_STORAGE_DSN"`
	HTTPToken     string `env:"SURVEYBOT_HTTP_TOKEN"`
	AMQPURL       string `env:"SURVEYBOT_AMQP_URL"`
	LogLevel      string `env:"SURVEYBOT_LOG_LEVEL"`
}

// LoadDotEnv loads KEY=VALUE files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func ReadSecrets() (Secrets, error) {
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, err
	}
	return s, nil
}

// ApplyEnv overlays environment secrets onto cfg.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	s, err := ReadSecrets()
	if err != nil {
		return err
	}
	s.apply(cfg)
	return nil
}

func (s Secrets) apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, s.TelegramToken)
	set(&cfg.Storage.DSN, s.StorageDSN)
	set(&cfg.HTTP.Token, s.HTTPToken)
	set(&cfg.Events.AMQP.URL, s.AMQPURL)
	set(&cfg.Logging.Level, s.LogLevel)
}
