package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "config.yaml", `
telegram:
  token: "file-token"
  poll_timeout: 10s
logging:
  level: debug
  console: true
admin:
  bootstrap_user_ids: [100, 200]
reminder:
  schedule: "@every 1m"
  min_interval: 2h
  max_count: 0
storage:
  driver: sqlite
  path: ./data/bot.db
`)
	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "file-token" || len(cfg.Admin.BootstrapUserIDs) != 2 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.ReminderMaxCount() != 0 || !cfg.ReminderEnabled() {
		t.Fatalf("reminder max=%d enabled=%v", cfg.ReminderMaxCount(), cfg.ReminderEnabled())
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{"token":"x"},"plugins":{}}`)
	if _, err := NewManager(p).Parse(); err == nil || !strings.Contains(err.Error(), "plugins") {
		t.Fatalf("err=%v, want unknown field error", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	p := writeFile(t, "config.json", `{"telegram":{}} {"telegram":{}}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("SURVEYBOT_TELEGRAM_TOKEN", "env-token")
	t.Setenv("SURVEYBOT_STORAGE_DSN", "postgres://u:p@localhost/db?sslmode=disable")
	p := writeFile(t, "config.json", `{"telegram":{"token":"file-token"},"storage":{"driver":"postgres"}}`)

	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token=%q", cfg.Telegram.Token)
	}
	if cfg.Storage.DSN == "" {
		t.Fatalf("dsn not applied")
	}
}

func TestLoadDotEnvMissingFileIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	neg := -1
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "zero config ok", cfg: Config{}},
		{name: "bad duration", cfg: Config{Reminder: ReminderConfig{MinInterval: "soon"}}, wantErr: "reminder.min_interval"},
		{name: "negative max", cfg: Config{Reminder: ReminderConfig{MaxCount: &neg}}, wantErr: "max_count"},
		{name: "postgres without dsn", cfg: Config{Storage: StorageConfig{Driver: "postgres"}}, wantErr: "storage.dsn"},
		{name: "unknown driver", cfg: Config{Storage: StorageConfig{Driver: "redis"}}, wantErr: "unknown driver"},
		{name: "public http without token", cfg: Config{HTTP: HTTPConfig{Enabled: true, Addr: ":8088", ActorID: 1}}, wantErr: "non-loopback"},
		{name: "loopback http", cfg: Config{HTTP: HTTPConfig{Enabled: true, Addr: "127.0.0.1:8088", ActorID: 1}}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tc.cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{HTTP: HTTPConfig{Token: "a"}}
	newCfg := &Config{HTTP: HTTPConfig{Token: "b"}, Notifier: NotifierConfig{AdminsOnly: true}}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "notifier,http" {
		t.Fatalf("changed=%v", changed)
	}
	if got := RestartRequired(oldCfg, newCfg); len(got) != 1 || got[0] != "http" {
		t.Fatalf("restart=%v", got)
	}
}
