// Package match implements the arranged-match lifecycle state machine:
// roster tracking, connect timeouts, auto-start policy, and the
// outbound reports that accompany each transition.
package match

import (
	"time"

	"github.com/honlink-project/honlink/internal/protocol"
)

// MatchState is the lifecycle state of the active match.
type MatchState int

const (
	MatchNone MatchState = iota
	MatchCreating
	MatchWaitingForPlayers
	MatchStarting
	MatchActive
	MatchEnded
	MatchAborted
)

// String returns the string representation of MatchState.
func (s MatchState) String() string {
	switch s {
	case MatchNone:
		return "none"
	case MatchCreating:
		return "creating"
	case MatchWaitingForPlayers:
		return "waiting_for_players"
	case MatchStarting:
		return "starting"
	case MatchActive:
		return "active"
	case MatchEnded:
		return "ended"
	case MatchAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes MatchState as a JSON string.
func (s MatchState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// MatchPlayer is the mutable runtime record of one rostered player.
// Records are never removed from a match; only the connected and ready
// flags change until the match itself is destroyed.
type MatchPlayer struct {
	AccountID   int32
	Name        string
	Team        uint8
	Slot        uint8
	Connected   bool
	Ready       bool
	ConnectedAt time.Time
}

// MatchInfo is the single active match owned by the Manager. At most
// one exists per instance; it is created from a create-match request
// and destroyed when the match ends or aborts.
type MatchInfo struct {
	ID       int32
	MapName  string
	GameMode string
	Type     protocol.MatchType
	State    MatchState
	Players  []*MatchPlayer

	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time

	WinningTeam uint8
}

func (m *MatchInfo) player(accountID int32) *MatchPlayer {
	for _, p := range m.Players {
		if p.AccountID == accountID {
			return p
		}
	}
	return nil
}

func (m *MatchInfo) connectedCount() uint8 {
	var n uint8
	for _, p := range m.Players {
		if p.Connected {
			n++
		}
	}
	return n
}

func (m *MatchInfo) missingPlayers() []*MatchPlayer {
	var missing []*MatchPlayer
	for _, p := range m.Players {
		if !p.Connected {
			missing = append(missing, p)
		}
	}
	return missing
}

// PlayerSnapshot is an immutable copy of one player record.
type PlayerSnapshot struct {
	AccountID   int32     `json:"account_id"`
	Name        string    `json:"name"`
	Team        uint8     `json:"team"`
	Slot        uint8     `json:"slot"`
	Connected   bool      `json:"connected"`
	Ready       bool      `json:"ready"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
}

// Snapshot is an immutable copy of the active match. Callers never see
// the live player list.
type Snapshot struct {
	ID          int32              `json:"match_id"`
	MapName     string             `json:"map_name"`
	GameMode    string             `json:"game_mode"`
	Type        protocol.MatchType `json:"match_type"`
	State       MatchState         `json:"state"`
	Players     []PlayerSnapshot   `json:"players"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   time.Time          `json:"started_at,omitempty"`
	WinningTeam uint8              `json:"winning_team,omitempty"`
}

func (m *MatchInfo) snapshot() Snapshot {
	players := make([]PlayerSnapshot, 0, len(m.Players))
	for _, p := range m.Players {
		players = append(players, PlayerSnapshot{
			AccountID:   p.AccountID,
			Name:        p.Name,
			Team:        p.Team,
			Slot:        p.Slot,
			Connected:   p.Connected,
			Ready:       p.Ready,
			ConnectedAt: p.ConnectedAt,
		})
	}
	return Snapshot{
		ID:          m.ID,
		MapName:     m.MapName,
		GameMode:    m.GameMode,
		Type:        m.Type,
		State:       m.State,
		Players:     players,
		CreatedAt:   m.CreatedAt,
		StartedAt:   m.StartedAt,
		WinningTeam: m.WinningTeam,
	}
}
