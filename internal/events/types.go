// Package events defines the event surface the connector core exposes
// to its collaborators, and the publish-subscribe bus that carries it.
package events

import (
	"time"

	"github.com/honlink-project/honlink/internal/protocol"
)

// EventType identifies an event emitted through the Bus.
type EventType string

const (
	// Connection events
	EventConnected         EventType = "connected"
	EventDisconnected      EventType = "disconnected"
	EventLoginAccepted     EventType = "login_accepted"
	EventLoginRejected     EventType = "login_rejected"
	EventHeartbeatReceived EventType = "heartbeat_received"

	// Inbound protocol requests
	EventCreateMatchRequest EventType = "create_match_request"
	EventEndMatchRequest    EventType = "end_match_request"
	EventRemoteCommand      EventType = "remote_command"
	EventOptionsReceived    EventType = "options_received"

	// Match lifecycle events
	EventMatchCreated       EventType = "match_created"
	EventMatchStarted       EventType = "match_started"
	EventMatchEnded         EventType = "match_ended"
	EventMatchAborted       EventType = "match_aborted"
	EventPlayerConnected    EventType = "player_connected"
	EventPlayerDisconnected EventType = "player_disconnected"
	EventPlayerReminder     EventType = "player_reminder"
)

// Event is a single event published on the bus.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// DisconnectedPayload carries the terminal error of a connection, nil
// on a clean remote close.
type DisconnectedPayload struct {
	Err error
}

// LoginRejectedPayload carries the optional rejection reason.
type LoginRejectedPayload struct {
	Reason string
}

// CreateMatchPayload carries a decoded arranged match request.
type CreateMatchPayload struct {
	Match *protocol.ArrangedMatchData
}

// EndMatchPayload carries the match id from an end-match request.
type EndMatchPayload struct {
	MatchID int32
}

// RemoteCommandPayload carries the command string of a remote command.
type RemoteCommandPayload struct {
	Command string
}

// OptionsPayload carries the decoded option map.
type OptionsPayload struct {
	Options map[string]string
}

// MatchPayload identifies a match in lifecycle events.
type MatchPayload struct {
	MatchID  int32
	MapName  string
	GameMode string
	Type     protocol.MatchType
}

// MatchEndedPayload carries the match result.
type MatchEndedPayload struct {
	MatchID     int32
	WinningTeam uint8
	Duration    time.Duration
}

// MatchAbortedPayload carries the abort reason.
type MatchAbortedPayload struct {
	MatchID int32
	Reason  string
}

// PlayerPayload identifies a player in connect/disconnect/reminder
// events.
type PlayerPayload struct {
	MatchID   int32
	AccountID int32
	Name      string
	Team      uint8
}
