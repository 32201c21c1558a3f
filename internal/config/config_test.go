package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.ChatData.ServerID = 1000
	cfg.ChatData.SessionID = "deadbeef"
	return cfg
}

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ChatData.ChatPort != DefaultChatPort {
		t.Fatalf("chat port: got %d, want %d", cfg.ChatData.ChatPort, DefaultChatPort)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()

	// A partial file: unset fields keep their defaults.
	partial := `{"chat_data": {"svr_id": 1234, "svr_session": "abc"}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(partial), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ChatData.ServerID != 1234 || cfg.ChatData.SessionID != "abc" {
		t.Fatalf("overlay fields: got %+v", cfg.ChatData)
	}
	if cfg.ChatData.ChatPort != DefaultChatPort {
		t.Fatalf("default field lost: chat port %d", cfg.ChatData.ChatPort)
	}
	if cfg.ApplicationData.Timers.PlayerConnectTimeoutSec != 90 {
		t.Fatalf("default timer lost: %d", cfg.ApplicationData.Timers.PlayerConnectTimeoutSec)
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{nope"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for malformed config")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	data := cfg.GetChatData()
	data.ServerID = 777
	data.SessionID = "session777"
	cfg.SetChatData(data)
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.ChatData.ServerID != 777 || reloaded.ChatData.SessionID != "session777" {
		t.Fatalf("round trip: got %+v", reloaded.ChatData)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{"valid", func(cfg *Config) {}, false},
		{"missing chat address", func(cfg *Config) { cfg.ChatData.ChatAddress = "" }, true},
		{"missing server id", func(cfg *Config) { cfg.ChatData.ServerID = 0 }, true},
		{"missing session", func(cfg *Config) { cfg.ChatData.SessionID = " " }, true},
		{"bad chat port", func(cfg *Config) { cfg.ChatData.ChatPort = 70000 }, true},
		{"bad game port", func(cfg *Config) { cfg.ChatData.GamePort = 0 }, true},
		{"mqtt enabled without broker", func(cfg *Config) {
			cfg.ApplicationData.MQTT.Enabled = true
			cfg.ApplicationData.MQTT.BrokerURL = ""
		}, true},
		{"history enabled without path", func(cfg *Config) {
			cfg.ApplicationData.History.Path = ""
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			result := Validate(cfg)
			if tc.wantErr && result.IsValid() {
				t.Fatalf("expected validation errors")
			}
			if !tc.wantErr && !result.IsValid() {
				t.Fatalf("unexpected errors: %v", result.Errors)
			}
		})
	}
}

func TestValidateWarnsOnShortTimers(t *testing.T) {
	cfg := validConfig()
	cfg.ApplicationData.Timers.PlayerConnectTimeoutSec = 5

	result := Validate(cfg)
	if !result.IsValid() {
		t.Fatalf("short timer should warn, not error: %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected a warning for short connect timeout")
	}
}
