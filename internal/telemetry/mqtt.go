// Package telemetry publishes connection and match lifecycle events to
// an MQTT broker. It is a pure event subscriber: it consumes the
// core's public event surface and never reaches into connection or
// match internals.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/honlink-project/honlink/internal/config"
	"github.com/honlink-project/honlink/internal/events"
	"github.com/honlink-project/honlink/internal/util"
)

// MQTT topics
const (
	TopicConnection = "gameserver/connection"
	TopicMatch      = "gameserver/match"
	TopicPlayers    = "gameserver/players"
)

// MQTTHandler manages the MQTT connection and publishes telemetry.
type MQTTHandler struct {
	cfg    *config.Config
	bus    *events.Bus
	client mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, bus *events.Bus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"platform":    sysInfo.Platform,
		"cpu_model":   sysInfo.CPUModel,
		"cpu_cores":   sysInfo.CPUCores,
		"memory_mb":   sysInfo.TotalMemory,
		"server_name": cfg.GetChatData().Name,
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		bus:      bus,
		metadata: metadata,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("honlink-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the MQTT broker and subscribes to events. Blocks
// until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.bus.Subscribe(events.EventLoginAccepted, "mqtt.loginAccepted", h.onConnectionEvent)
	h.bus.Subscribe(events.EventLoginRejected, "mqtt.loginRejected", h.onConnectionEvent)
	h.bus.Subscribe(events.EventDisconnected, "mqtt.disconnected", h.onConnectionEvent)
	h.bus.Subscribe(events.EventMatchCreated, "mqtt.matchCreated", h.onMatchEvent)
	h.bus.Subscribe(events.EventMatchStarted, "mqtt.matchStarted", h.onMatchEvent)
	h.bus.Subscribe(events.EventMatchEnded, "mqtt.matchEnded", h.onMatchEvent)
	h.bus.Subscribe(events.EventMatchAborted, "mqtt.matchAborted", h.onMatchEvent)
	h.bus.Subscribe(events.EventPlayerConnected, "mqtt.playerConnected", h.onPlayerEvent)
	h.bus.Subscribe(events.EventPlayerDisconnected, "mqtt.playerDisconnected", h.onPlayerEvent)
}

// publish sends a JSON message to an MQTT topic with QoS 1.
func (h *MQTTHandler) publish(topic string, eventType events.EventType, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := make(map[string]interface{}, len(h.metadata)+3)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["event"] = string(eventType)
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) onConnectionEvent(ctx context.Context, event events.Event) error {
	h.publish(TopicConnection, event.Type, event.Payload)
	return nil
}

func (h *MQTTHandler) onMatchEvent(ctx context.Context, event events.Event) error {
	h.publish(TopicMatch, event.Type, event.Payload)
	return nil
}

func (h *MQTTHandler) onPlayerEvent(ctx context.Context, event events.Event) error {
	h.publish(TopicPlayers, event.Type, event.Payload)
	return nil
}
