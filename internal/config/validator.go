package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateChatData(&cfg.ChatData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateChatData(data *ChatData, result *ValidationResult) {
	if strings.TrimSpace(data.ChatAddress) == "" {
		result.AddError("chat_data.svr_chatAddress", "chat server address is required")
	}
	validatePort(data.ChatPort, "chat_data.svr_chatPort", result)
	validatePort(data.GamePort, "chat_data.svr_gamePort", result)

	if data.ServerID == 0 {
		result.AddError("chat_data.svr_id", "server id is required (issued by master server authentication)")
	}
	if strings.TrimSpace(data.SessionID) == "" {
		result.AddError("chat_data.svr_session", "session id is required (issued by master server authentication)")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.Timers.PlayerConnectTimeoutSec < 10 {
		result.AddWarning("application_data.timers.player_connect_timeout_sec",
			"connect timeout under 10s gives players little time to join")
	}
	if data.Timers.PlayerReminderIntervalSec < 5 {
		result.AddWarning("application_data.timers.player_reminder_interval_sec",
			"reminder interval under 5s may cause excessive notifications")
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.History.Enabled && strings.TrimSpace(data.History.Path) == "" {
		result.AddError("application_data.history.path", "history database path is required when enabled")
	}

	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
