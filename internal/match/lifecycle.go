package match

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/honlink-project/honlink/internal/events"
	"github.com/honlink-project/honlink/internal/protocol"
)

// ChatSender is the outbound contract the state machine needs from the
// connection. Tests substitute a fake.
type ChatSender interface {
	SendStatus(status protocol.ServerStatus, playerCount uint8, matchID int32) error
	SendAnnounceMatch(matchID int32, accountIDs []int32) error
	SendMatchStarted(matchID int32) error
	SendMatchEnded(matchID int32, winningTeam uint8) error
	SendClientAuthResult(accountID int32, success bool) error
}

// Config holds the lifecycle timing policy.
type Config struct {
	// ConnectTimeout is how long the full roster has to connect before
	// the match aborts.
	ConnectTimeout time.Duration
	// ReminderInterval is how often reminders fire for players still
	// not connected.
	ReminderInterval time.Duration
	// WatchTick is the polling granularity of the timeout watch.
	WatchTick time.Duration
}

// DefaultConfig returns the production timing policy.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   90 * time.Second,
		ReminderInterval: 30 * time.Second,
		WatchTick:        time.Second,
	}
}

// Manager drives the match lifecycle. It owns the single active
// MatchInfo; every mutation of match or player state happens under one
// mutex, since the dispatcher's handlers, externally-driven player
// calls, and the timeout watch run concurrently.
type Manager struct {
	mu sync.Mutex

	sender ChatSender
	bus    *events.Bus
	cfg    Config
	logger zerolog.Logger

	match        *MatchInfo
	lastReminder time.Time

	watchCancel context.CancelFunc
}

// NewManager creates a lifecycle manager sending through sender and
// publishing on bus.
func NewManager(sender ChatSender, bus *events.Bus, cfg Config) *Manager {
	return &Manager{
		sender: sender,
		bus:    bus,
		cfg:    cfg,
		logger: log.With().Str("component", "match").Logger(),
	}
}

// Bind subscribes the manager to the inbound request events the
// connection dispatches.
func (m *Manager) Bind() {
	m.bus.Subscribe(events.EventCreateMatchRequest, "match.create", func(ctx context.Context, ev events.Event) error {
		payload, ok := ev.Payload.(events.CreateMatchPayload)
		if !ok {
			return fmt.Errorf("unexpected create match payload %T", ev.Payload)
		}
		m.HandleCreateMatch(payload.Match)
		return nil
	})

	m.bus.Subscribe(events.EventEndMatchRequest, "match.end", func(ctx context.Context, ev events.Event) error {
		payload, ok := ev.Payload.(events.EndMatchPayload)
		if !ok {
			return fmt.Errorf("unexpected end match payload %T", ev.Payload)
		}
		m.HandleEndMatchRequest(payload.MatchID)
		return nil
	})
}

// State returns the current lifecycle state.
func (m *Manager) State() MatchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.match == nil {
		return MatchNone
	}
	return m.match.State
}

// Snapshot returns a copy of the active match, or false when no match
// is active.
func (m *Manager) Snapshot() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.match == nil {
		return Snapshot{}, false
	}
	return m.match.snapshot(), true
}

// HandleCreateMatch processes a create-match request. A request that
// arrives while another match is active is rejected with a warning and
// dropped; the active match is unaffected.
func (m *Manager) HandleCreateMatch(data *protocol.ArrangedMatchData) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.match != nil {
		m.logger.Warn().
			Int32("match_id", data.MatchID).
			Int32("active_match_id", m.match.ID).
			Str("state", m.match.State.String()).
			Msg("create match rejected, another match is active")
		return
	}

	now := time.Now()
	info := &MatchInfo{
		ID:        data.MatchID,
		MapName:   data.MapName,
		GameMode:  data.GameMode,
		Type:      data.Type,
		State:     MatchCreating,
		CreatedAt: now,
	}
	addRoster(info, data.Team1, 1, m.logger)
	addRoster(info, data.Team2, 2, m.logger)
	m.match = info

	accountIDs := make([]int32, 0, len(info.Players))
	for _, p := range info.Players {
		accountIDs = append(accountIDs, p.AccountID)
	}
	if err := m.sender.SendAnnounceMatch(info.ID, accountIDs); err != nil {
		m.logger.Warn().Err(err).Int32("match_id", info.ID).Msg("failed to announce match")
	}

	info.State = MatchWaitingForPlayers
	m.lastReminder = now
	m.startWatch(info.ID)

	m.logger.Info().
		Int32("match_id", info.ID).
		Str("map", info.MapName).
		Str("type", info.Type.String()).
		Int("roster", len(info.Players)).
		Msg("match created, waiting for players")

	m.bus.Emit(context.Background(), events.Event{
		Type:   events.EventMatchCreated,
		Source: "match",
		Payload: events.MatchPayload{
			MatchID:  info.ID,
			MapName:  info.MapName,
			GameMode: info.GameMode,
			Type:     info.Type,
		},
	})
}

// addRoster appends one team's players, dropping duplicate account ids
// so the uniqueness invariant holds even against a malformed request.
func addRoster(info *MatchInfo, team []protocol.ArrangedMatchPlayer, teamNum uint8, logger zerolog.Logger) {
	for _, p := range team {
		if info.player(p.AccountID) != nil {
			logger.Warn().
				Int32("account_id", p.AccountID).
				Str("name", p.Name).
				Msg("duplicate account id in roster, dropped")
			continue
		}
		info.Players = append(info.Players, &MatchPlayer{
			AccountID: p.AccountID,
			Name:      p.Name,
			Team:      teamNum,
			Slot:      p.Slot,
		})
	}
}

// HandleEndMatchRequest processes a remote end-match request. An
// active match ends with no winning team; a match still waiting aborts
// instead. Requests for a different match id are dropped.
func (m *Manager) HandleEndMatchRequest(matchID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.match == nil || m.match.ID != matchID {
		m.logger.Warn().Int32("match_id", matchID).Msg("end match request for unknown match, dropped")
		return
	}

	if m.match.State == MatchActive {
		m.endLocked(0)
	} else {
		m.abortLocked("match end requested by chat server")
	}
}

// PlayerConnect records a rostered player connecting to the game
// server and reports the auth result back over the connection. Once
// the full roster is connected, a Matchmaking match starts
// automatically; other types wait for an explicit StartMatch.
func (m *Manager) PlayerConnect(accountID int32, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.match == nil {
		m.logger.Debug().Int32("account_id", accountID).Msg("player connect with no active match")
		return
	}

	p := m.match.player(accountID)
	if p == nil {
		m.logger.Warn().
			Int32("account_id", accountID).
			Str("name", name).
			Msg("connecting player not in roster")
		if err := m.sender.SendClientAuthResult(accountID, false); err != nil {
			m.logger.Warn().Err(err).Msg("failed to send client auth result")
		}
		return
	}

	p.Connected = true
	p.ConnectedAt = time.Now()
	if err := m.sender.SendClientAuthResult(accountID, true); err != nil {
		m.logger.Warn().Err(err).Msg("failed to send client auth result")
	}

	m.logger.Info().
		Int32("match_id", m.match.ID).
		Int32("account_id", accountID).
		Str("name", p.Name).
		Uint8("connected", m.match.connectedCount()).
		Int("roster", len(m.match.Players)).
		Msg("player connected")

	m.bus.Emit(context.Background(), events.Event{
		Type:   events.EventPlayerConnected,
		Source: "match",
		Payload: events.PlayerPayload{
			MatchID:   m.match.ID,
			AccountID: p.AccountID,
			Name:      p.Name,
			Team:      p.Team,
		},
	})

	if m.match.State == MatchWaitingForPlayers &&
		len(m.match.missingPlayers()) == 0 &&
		m.match.Type == protocol.MatchTypeMatchmaking {
		m.logger.Info().Int32("match_id", m.match.ID).Msg("full roster connected, auto-starting")
		m.startLocked()
	}
}

// PlayerDisconnect clears a player's connected and ready flags. It
// never changes match state; reconnection policy belongs to the
// caller.
func (m *Manager) PlayerDisconnect(accountID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.match == nil {
		return
	}
	p := m.match.player(accountID)
	if p == nil {
		return
	}

	p.Connected = false
	p.Ready = false

	m.logger.Info().
		Int32("match_id", m.match.ID).
		Int32("account_id", accountID).
		Str("name", p.Name).
		Msg("player disconnected")

	m.bus.Emit(context.Background(), events.Event{
		Type:   events.EventPlayerDisconnected,
		Source: "match",
		Payload: events.PlayerPayload{
			MatchID:   m.match.ID,
			AccountID: p.AccountID,
			Name:      p.Name,
			Team:      p.Team,
		},
	})
}

// PlayerReady sets a player's ready flag.
func (m *Manager) PlayerReady(accountID int32, ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.match == nil {
		return
	}
	if p := m.match.player(accountID); p != nil {
		p.Ready = ready
	}
}

// StartMatch starts the active match. Valid while waiting for players
// or starting; used by collaborators for match types that do not
// auto-start.
func (m *Manager) StartMatch() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.match == nil {
		return fmt.Errorf("no active match")
	}
	if m.match.State != MatchWaitingForPlayers && m.match.State != MatchStarting {
		return fmt.Errorf("cannot start match in state %s", m.match.State)
	}
	m.startLocked()
	return nil
}

// EndMatch ends the active match with the winning team and clears the
// active slot.
func (m *Manager) EndMatch(winningTeam uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.match == nil {
		return fmt.Errorf("no active match")
	}
	if m.match.State != MatchActive {
		return fmt.Errorf("cannot end match in state %s", m.match.State)
	}
	m.endLocked(winningTeam)
	return nil
}

// AbortMatch aborts the active match with a reason. Calling it with no
// active match is a no-op, so repeated aborts have no further effect.
func (m *Manager) AbortMatch(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.match == nil {
		return
	}
	m.abortLocked(reason)
}

func (m *Manager) startLocked() {
	m.stopWatchLocked()

	if err := m.sender.SendMatchStarted(m.match.ID); err != nil {
		m.logger.Warn().Err(err).Int32("match_id", m.match.ID).Msg("failed to report match started")
	}
	if err := m.sender.SendStatus(protocol.StatusActive, m.match.connectedCount(), m.match.ID); err != nil {
		m.logger.Warn().Err(err).Msg("failed to report active status")
	}

	m.match.State = MatchActive
	m.match.StartedAt = time.Now()

	m.logger.Info().Int32("match_id", m.match.ID).Msg("match started")

	m.bus.Emit(context.Background(), events.Event{
		Type:   events.EventMatchStarted,
		Source: "match",
		Payload: events.MatchPayload{
			MatchID:  m.match.ID,
			MapName:  m.match.MapName,
			GameMode: m.match.GameMode,
			Type:     m.match.Type,
		},
	})
}

func (m *Manager) endLocked(winningTeam uint8) {
	info := m.match
	info.State = MatchEnded
	info.EndedAt = time.Now()
	info.WinningTeam = winningTeam

	if err := m.sender.SendMatchEnded(info.ID, winningTeam); err != nil {
		m.logger.Warn().Err(err).Int32("match_id", info.ID).Msg("failed to report match ended")
	}
	if err := m.sender.SendStatus(protocol.StatusIdle, 0, 0); err != nil {
		m.logger.Warn().Err(err).Msg("failed to report idle status")
	}

	duration := info.EndedAt.Sub(info.StartedAt)
	m.logger.Info().
		Int32("match_id", info.ID).
		Uint8("winning_team", winningTeam).
		Dur("duration", duration).
		Msg("match ended")

	m.bus.Emit(context.Background(), events.Event{
		Type:   events.EventMatchEnded,
		Source: "match",
		Payload: events.MatchEndedPayload{
			MatchID:     info.ID,
			WinningTeam: winningTeam,
			Duration:    duration,
		},
	})

	m.match = nil
}

func (m *Manager) abortLocked(reason string) {
	m.stopWatchLocked()

	info := m.match
	info.State = MatchAborted
	info.EndedAt = time.Now()

	if err := m.sender.SendStatus(protocol.StatusIdle, 0, 0); err != nil {
		m.logger.Warn().Err(err).Msg("failed to report idle status")
	}

	m.logger.Warn().
		Int32("match_id", info.ID).
		Str("reason", reason).
		Msg("match aborted")

	m.bus.Emit(context.Background(), events.Event{
		Type:   events.EventMatchAborted,
		Source: "match",
		Payload: events.MatchAbortedPayload{
			MatchID: info.ID,
			Reason:  reason,
		},
	})

	m.match = nil
}

// startWatch launches the per-match timeout watch. The watch polls
// match state each tick rather than being signaled, so a transition
// from another code path is observed on the next wake.
func (m *Manager) startWatch(matchID int32) {
	ctx, cancel := context.WithCancel(context.Background())
	m.watchCancel = cancel

	go func() {
		ticker := time.NewTicker(m.cfg.WatchTick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if m.watchTick(matchID) {
					return
				}
			}
		}
	}()
}

func (m *Manager) stopWatchLocked() {
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
}

// watchTick runs one wake of the timeout watch. Returns true when the
// watch is done: the match moved on, timed out, or was destroyed.
func (m *Manager) watchTick(matchID int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.match == nil || m.match.ID != matchID || m.match.State != MatchWaitingForPlayers {
		return true
	}

	now := time.Now()
	if now.Sub(m.match.CreatedAt) >= m.cfg.ConnectTimeout {
		missing := m.match.missingPlayers()
		names := make([]string, 0, len(missing))
		for _, p := range missing {
			names = append(names, p.Name)
		}
		m.abortLocked(fmt.Sprintf("players failed to connect within %s: %s",
			m.cfg.ConnectTimeout, strings.Join(names, ", ")))
		return true
	}

	if now.Sub(m.lastReminder) >= m.cfg.ReminderInterval {
		m.lastReminder = now
		for _, p := range m.match.missingPlayers() {
			m.logger.Debug().
				Int32("match_id", m.match.ID).
				Str("name", p.Name).
				Msg("player still not connected, reminder")
			m.bus.Emit(context.Background(), events.Event{
				Type:   events.EventPlayerReminder,
				Source: "match",
				Payload: events.PlayerPayload{
					MatchID:   m.match.ID,
					AccountID: p.AccountID,
					Name:      p.Name,
					Team:      p.Team,
				},
			})
		}
	}

	return false
}
