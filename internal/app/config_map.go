package app

import (
	"fmt"
	"strings"
	"time"

	"surveybot/internal/config"
	"surveybot/internal/eventbus"
	"surveybot/internal/notifier"
	"surveybot/internal/notifier/broadcast"
	"surveybot/internal/reminder"
	"surveybot/internal/storage"
	"surveybot/internal/task/scheduler"
	"surveybot/internal/transport/httpapi"
	"surveybot/internal/transport/telegram/router"
	logx "surveybot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// mapStorageConfig passes "none" through; storage.Open rejects it with storage.ErrDisabled.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "none":
		return storage.Config{Driver: "none"}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: sc.DSN, MaxOpenConns: sc.MaxOpenConns}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	retryBase, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", nc.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationOrDefault("notifier.dedup_window", nc.DedupWindow, 10*time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	if retryBase > 0 && retryMaxDelay > 0 && retryMaxDelay < retryBase {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max_delay must be >= notifier.retry_base")
	}
	return notifier.Config{
		RatePerSec:    nc.RatePerSec,
		Burst:         nc.Burst,
		RetryMax:      nc.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		SendTimeout:   sendTimeout,
		AdminsOnly:    nc.AdminsOnly,
		DedupWindow:   dedup,
	}, nil
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	workers := cfg.Notifier.BroadcastWorkers
	if workers <= 0 {
		workers = 8
	}
	return broadcast.Config{Workers: workers}
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	rc := cfg.Reminder
	interval, err := config.ParseDurationOrDefault("reminder.min_interval", rc.MinInterval, time.Hour)
	if err != nil {
		return reminder.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("reminder.send_timeout", rc.SendTimeout, 15*time.Second)
	if err != nil {
		return reminder.Config{}, err
	}
	schedule := strings.TrimSpace(rc.Schedule)
	if schedule == "" {
		schedule = "@every 5m"
	}
	if _, err := scheduler.ParseSchedule(schedule); err != nil {
		return reminder.Config{}, fmt.Errorf("reminder.schedule: %w", err)
	}
	workers := rc.Workers
	if workers <= 0 {
		workers = 8
	}
	return reminder.Config{
		Enabled:     cfg.ReminderEnabled(),
		Schedule:    schedule,
		Timezone:    rc.Timezone,
		MinInterval: interval,
		MaxCount:    cfg.ReminderMaxCount(),
		Workers:     workers,
		SendTimeout: sendTimeout,
		ManualQueue: rc.ManualQueue,
	}, nil
}

// The cron runner stays on; reminder.Service adds or removes its own schedule.
func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: true, Timezone: cfg.Reminder.Timezone}
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	hc := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", hc.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", hc.WriteTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", hc.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:       hc.Enabled,
		Addr:          cfg.HTTPAddr(),
		Token:         hc.Token,
		ActorID:       hc.ActorID,
		AllowInsecure: hc.AllowInsecure,
		Profiler:      hc.Profiler,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapAMQPConfig(cfg *config.Config) (eventbus.AMQPConfig, bool) {
	ac := cfg.Events.AMQP
	if strings.TrimSpace(ac.URL) == "" {
		return eventbus.AMQPConfig{}, false
	}
	return eventbus.AMQPConfig{URL: ac.URL, Queue: ac.Queue, Buffer: ac.Buffer}, true
}

func mapRouterOptions(cfg *config.Config) (router.Options, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.handler_timeout", cfg.Telegram.HandlerTimeout, 30*time.Second)
	if err != nil {
		return router.Options{}, err
	}
	return router.Options{Workers: cfg.Telegram.Workers, HandlerTimeout: timeout}, nil
}

// validateReload rejects configs whose hot-reloadable sections cannot be mapped.
func validateReload(cfg *config.Config) error {
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
