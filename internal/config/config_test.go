package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"POSTGRES_DSN", "REDIS_ADDR", "TELEGRAM_BOT_TOKEN", "SUPPORT_LONGPOLL_MAX_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Enabled() {
		t.Fatal("telegram must be disabled without a token")
	}
	if got := cfg.Support.LongPollDefault(); got != 30*time.Second {
		t.Fatalf("unexpected default long-poll %s", got)
	}
	if got := cfg.Support.LongPollMax(); got != 55*time.Second {
		t.Fatalf("unexpected max long-poll %s", got)
	}
	if cfg.Support.CloseReward != 50 {
		t.Fatalf("unexpected reward %v", cfg.Support.CloseReward)
	}
	if cfg.Redis.KeyPrefix != "support-relay:" {
		t.Fatalf("unexpected prefix %q", cfg.Redis.KeyPrefix)
	}
	if cfg.App.Addr() != cfg.App.Host+":"+cfg.App.Port {
		t.Fatalf("unexpected addr %q", cfg.App.Addr())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_SUPPORT_CHAT_ID", "-100777")
	t.Setenv("SUPPORT_LONGPOLL_DEFAULT_SECONDS", "5")
	t.Setenv("SUPPORT_LONGPOLL_MAX_SECONDS", "10")
	t.Setenv("SUPPORT_CLOSE_REWARD", "12.5")
	t.Setenv("HTTP_REQUEST_TIMEOUT_SECONDS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Telegram.Enabled() || cfg.Telegram.SupportChatID != -100777 {
		t.Fatalf("unexpected telegram config %+v", cfg.Telegram)
	}
	if cfg.Support.LongPollMax() != 10*time.Second || cfg.Support.CloseReward != 12.5 {
		t.Fatalf("unexpected support config %+v", cfg.Support)
	}
	if cfg.App.RequestTimeout() != 0 {
		t.Fatal("zero timeout must disable the request deadline")
	}
}

func TestLoadRejectsMalformedChatID(t *testing.T) {
	t.Setenv("TELEGRAM_SUPPORT_CHAT_ID", "support")
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Support: SupportConfig{LongPollDefaultSeconds: 30, LongPollMaxSeconds: 55}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "token without chat", mutate: func(c *Config) { c.Telegram.Token = "t" }, wantErr: true},
		{name: "token with chat", mutate: func(c *Config) { c.Telegram.Token = "t"; c.Telegram.SupportChatID = -1 }},
		{name: "non-positive max", mutate: func(c *Config) { c.Support.LongPollMaxSeconds = 0 }, wantErr: true},
		{name: "default above max", mutate: func(c *Config) { c.Support.LongPollDefaultSeconds = 60 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
