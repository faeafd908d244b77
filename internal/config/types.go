package config

// Config is the on-disk bot configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "2h").
// Secrets may be left empty here and supplied through the environment (see env.go).
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Admin    AdminConfig    `json:"admin"`
	Reminder ReminderConfig `json:"reminder"`
	Notifier NotifierConfig `json:"notifier"`
	Storage  StorageConfig  `json:"storage"`
	HTTP     HTTPConfig     `json:"http,omitempty"`
	Events   EventsConfig   `json:"events,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`

	// Command dispatch pool.
	Workers        int    `json:"workers,omitempty"`
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors log lines at or above MinLevel into an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// AdminConfig seeds the admin table on startup. Ids already present are left alone.
type AdminConfig struct {
	BootstrapUserIDs []int64 `json:"bootstrap_user_ids"`
}

// ReminderConfig controls the reminder pass.
//
// Defaults:
//   - schedule: "@every 5m" (robfig/cron spec)
//   - min_interval: "1h"
//   - max_count: 3 (0 disables reminders)
//   - workers: 8
//   - send_timeout: "15s"
//   - manual_queue: 8
type ReminderConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	Schedule    string `json:"schedule,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	MinInterval string `json:"min_interval"`
	MaxCount    *int   `json:"max_count,omitempty"`
	Workers     int    `json:"workers,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	ManualQueue int    `json:"manual_queue,omitempty"`
}

// NotifierConfig controls outgoing dispatch.
// AdminsOnly limits delivery to admins, which is useful for dry runs.
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec"`
	Burst         int    `json:"burst,omitempty"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	AdminsOnly    bool   `json:"admins_only,omitempty"`
	DedupWindow   string `json:"dedup_window,omitempty"`
	// BroadcastWorkers bounds parallel sends of a campaign start (default 8).
	BroadcastWorkers int `json:"broadcast_workers,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/surveybot.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"` // postgres; prefer SURVEYBOT_STORAGE_DSN
	BusyTimeout  string `json:"busy_timeout,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// HTTPConfig controls the operator HTTP API.
//
// Requests authenticate with "Authorization: Bearer <token>" and act as ActorID,
// which must be an admin. Binding to a non-loopback address without a token
// requires allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:8088"
	Token         string `json:"token,omitempty"`
	ActorID       int64  `json:"actor_id,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Profiler      bool   `json:"profiler,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type EventsConfig struct {
	AMQP AMQPConfig `json:"amqp,omitempty"`
}

// AMQPConfig enables event export when URL is set.
type AMQPConfig struct {
	URL    string `json:"url,omitempty"`
	Queue  string `json:"queue,omitempty"`
	Buffer int    `json:"buffer,omitempty"`
}

// ReminderEnabled reports whether the periodic pass should run (default true).
func (c *Config) ReminderEnabled() bool {
	return c.Reminder.Enabled == nil || *c.Reminder.Enabled
}

// ReminderMaxCount returns max_count, defaulting to 3 when omitted.
func (c *Config) ReminderMaxCount() int {
	if c.Reminder.MaxCount == nil {
		return 3
	}
	return *c.Reminder.MaxCount
}
