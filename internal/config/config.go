// Package config handles configuration loading, validation, and
// persistence for the honlink connector.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultChatPort   = 11032
	DefaultGamePort   = 11235
	DefaultAPIPort    = 5050
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	ChatData        ChatData        `json:"chat_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ChatData contains the chat server connection settings. The session
// id and server id are handed to us by the host process after it has
// authenticated with the master server; this core never performs that
// authentication itself.
type ChatData struct {
	ChatAddress string `json:"svr_chatAddress"`
	ChatPort    int    `json:"svr_chatPort"`

	ServerID  int32  `json:"svr_id"`
	SessionID string `json:"svr_session"`
	GamePort  int    `json:"svr_gamePort"`

	Name   string `json:"svr_name"`
	Region string `json:"svr_region"`
}

// ApplicationData contains the connector application configuration.
type ApplicationData struct {
	Timers  TimerConfig   `json:"timers"`
	MQTT    MQTTConfig    `json:"mqtt"`
	History HistoryConfig `json:"history"`
	API     APIConfig     `json:"api"`
	Logging LoggingConfig `json:"logging"`
}

// TimerConfig holds match lifecycle and connection timing settings.
type TimerConfig struct {
	PlayerConnectTimeoutSec   int `json:"player_connect_timeout_sec"`
	PlayerReminderIntervalSec int `json:"player_reminder_interval_sec"`
	ReconnectDelaySec         int `json:"reconnect_delay_sec"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	ClientID  string `json:"client_id"`
}

// HistoryConfig holds match history store settings.
type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// APIConfig holds the status API settings.
type APIConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ChatData: ChatData{
			ChatAddress: "96.127.149.202",
			ChatPort:    DefaultChatPort,
			GamePort:    DefaultGamePort,
		},
		ApplicationData: ApplicationData{
			Timers: TimerConfig{
				PlayerConnectTimeoutSec:   90,
				PlayerReminderIntervalSec: 30,
				ReconnectDelaySec:         10,
			},
			MQTT: MQTTConfig{
				Enabled:   false,
				BrokerURL: "mqtt.honlink.app",
				Port:      8883,
				UseTLS:    true,
			},
			History: HistoryConfig{
				Enabled: true,
				Path:    "data/matches.db",
			},
			API: APIConfig{
				Enabled: true,
				Port:    DefaultAPIPort,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from a JSON file, creating a default file
// when none exists.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetChatData returns a copy of the chat connection configuration.
func (c *Config) GetChatData() ChatData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ChatData
}

// SetChatData updates the chat connection configuration.
func (c *Config) SetChatData(data ChatData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ChatData = data
}

// GetApplicationData returns a copy of the application configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
