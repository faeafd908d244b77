package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate checks field formats and ranges. It does not touch the network.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	dur("telegram.handler_timeout", cfg.Telegram.HandlerTimeout)
	if cfg.Telegram.Workers < 0 {
		errs = append(errs, errors.New("telegram.workers must be >= 0"))
	}

	dur("reminder.min_interval", cfg.Reminder.MinInterval)
	dur("reminder.send_timeout", cfg.Reminder.SendTimeout)
	if cfg.ReminderMaxCount() < 0 {
		errs = append(errs, errors.New("reminder.max_count must be >= 0"))
	}
	if tz := strings.TrimSpace(cfg.Reminder.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("reminder.timezone: %w", err))
		}
	}

	dur("notifier.retry_base", cfg.Notifier.RetryBase)
	dur("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay)
	dur("notifier.send_timeout", cfg.Notifier.SendTimeout)
	dur("notifier.dedup_window", cfg.Notifier.DedupWindow)
	if cfg.Notifier.RatePerSec < 0 || cfg.Notifier.RetryMax < 0 || cfg.Notifier.BroadcastWorkers < 0 {
		errs = append(errs, errors.New("notifier.rate_per_sec, notifier.retry_max and notifier.broadcast_workers must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "mem", "sqlite", "sqlite3", "none":
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres (or set SURVEYBOT_STORAGE_DSN)"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if cfg.HTTP.Enabled {
		dur("http.read_timeout", cfg.HTTP.ReadTimeout)
		dur("http.write_timeout", cfg.HTTP.WriteTimeout)
		dur("http.idle_timeout", cfg.HTTP.IdleTimeout)
		addr := cfg.HTTPAddr()
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("http.addr: %w", err))
		} else if !IsLoopbackAddr(addr) && strings.TrimSpace(cfg.HTTP.Token) == "" && !cfg.HTTP.AllowInsecure {
			errs = append(errs, errors.New("http: refusing non-loopback addr without token (set token or allow_insecure)"))
		}
		if cfg.HTTP.ActorID == 0 {
			errs = append(errs, errors.New("http.actor_id is required"))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) HTTPAddr() string {
	if a := strings.TrimSpace(c.HTTP.Addr); a != "" {
		return a
	}
	return "127.0.0.1:8088"
}

// IsLoopbackAddr reports whether a host:port binds only to loopback.
// An empty host ("":8088) listens on all interfaces and is not loopback.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
