// Package connector implements the persistent connection to the chat
// server: login handshake, frame reading and dispatch, keepalive, and
// the outbound protocol operations.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/honlink-project/honlink/internal/events"
	"github.com/honlink-project/honlink/internal/protocol"
)

const (
	connectTimeout    = 30 * time.Second
	writeTimeout      = 10 * time.Second
	keepAliveInterval = 15 * time.Second
)

// readTimeout bounds each blocking read so a half-open peer is noticed
// within one interval. Keepalive traffic keeps a live session far
// inside it. Variable so tests can shorten it.
var readTimeout = 60 * time.Second

// ErrNotConnected is returned by outbound sends while the connection
// is down.
var ErrNotConnected = errors.New("not connected to chat server")

// ConnState is the lifecycle state of a ChatConnection. A connection
// that reaches StateDisconnected stays there; reconnecting means a
// fresh ChatConnection.
type ConnState int32

const (
	StateNotConnected ConnState = iota
	StateConnecting
	StateConnected
	StateAuthenticated
	StateDisconnected
)

// String returns the state label used in logs and the status API.
func (s ConnState) String() string {
	switch s {
	case StateNotConnected:
		return "not_connected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ChatConnection owns one TCP stream to the chat server. A single
// background goroutine reads and dispatches frames in arrival order;
// an independent keepalive goroutine pings every 15 seconds once the
// login is accepted. Outbound sends may come from any goroutine; each
// writes its whole envelope under the write mutex so concurrent sends
// never interleave.
type ChatConnection struct {
	mu      sync.Mutex // guards conn, ids, loop handles
	writeMu sync.Mutex // serializes whole-envelope writes

	bus    *events.Bus
	logger zerolog.Logger

	conn  net.Conn
	state atomic.Int32

	serverID  int32
	sessionID string
	gamePort  uint16

	readCancel context.CancelFunc
	readDone   chan struct{}
	kaCancel   context.CancelFunc
	kaDone     chan struct{}

	downOnce sync.Once
	done     chan struct{}
}

// NewChatConnection creates a connection manager publishing on bus.
func NewChatConnection(bus *events.Bus) *ChatConnection {
	return &ChatConnection{
		bus:    bus,
		logger: log.With().Str("component", "chat_conn").Logger(),
		done:   make(chan struct{}),
	}
}

// Done returns a channel closed when this connection has torn down,
// whatever the cause. Each instance has its own channel, so waiting on
// it can never observe a prior connection's teardown.
func (c *ChatConnection) Done() <-chan struct{} {
	return c.done
}

// State returns the current connection state.
func (c *ChatConnection) State() ConnState {
	return ConnState(c.state.Load())
}

// IsConnected reports whether the transport is up (authenticated or
// not).
func (c *ChatConnection) IsConnected() bool {
	s := c.State()
	return s == StateConnected || s == StateAuthenticated
}

// Connect opens the TCP stream and starts the frame-reading loop. On
// failure the connection is left fully disconnected with no leaked
// goroutine. Connect does not log in; call Login once connected.
func (c *ChatConnection) Connect(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	c.logger.Info().Str("addr", addr).Msg("connecting to chat server")
	c.state.Store(int32(StateConnecting))

	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.state.Store(int32(StateNotConnected))
		return fmt.Errorf("failed to connect to chat server at %s: %w", addr, err)
	}

	// No send coalescing; envelopes are small and latency matters.
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	readCtx, readCancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.readCancel = readCancel
	c.readDone = make(chan struct{})
	c.mu.Unlock()

	c.state.Store(int32(StateConnected))

	go c.readLoop(readCtx, conn)

	c.logger.Info().Str("addr", addr).Msg("connected to chat server")
	c.bus.Emit(ctx, events.Event{Type: events.EventConnected, Source: "chat_conn"})
	return nil
}

// Login sends the login packet. Acceptance or rejection arrives
// asynchronously through the frame loop as LoginAccepted or
// LoginRejected.
func (c *ChatConnection) Login(serverID int32, sessionID string, gamePort uint16) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.serverID = serverID
	c.sessionID = sessionID
	c.gamePort = gamePort
	c.mu.Unlock()

	c.logger.Info().
		Int32("server_id", serverID).
		Uint16("port", gamePort).
		Uint32("protocol", protocol.ProtocolVersion).
		Msg("logging in to chat server")

	return c.send(protocol.BuildLogin(serverID, sessionID, gamePort))
}

// SendStatus reports the server status. The match id is included only
// while a match is active (non-zero).
func (c *ChatConnection) SendStatus(status protocol.ServerStatus, playerCount uint8, matchID int32) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send(protocol.BuildStatusUpdate(status, playerCount, matchID))
}

// SendAnnounceMatch announces a created match and its rostered account
// ids.
func (c *ChatConnection) SendAnnounceMatch(matchID int32, accountIDs []int32) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send(protocol.BuildAnnounceMatch(matchID, accountIDs))
}

// SendMatchStarted reports that a match has started.
func (c *ChatConnection) SendMatchStarted(matchID int32) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send(protocol.BuildMatchStarted(matchID))
}

// SendMatchEnded reports a finished match and the winning team.
func (c *ChatConnection) SendMatchEnded(matchID int32, winningTeam uint8) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send(protocol.BuildMatchEnded(matchID, winningTeam))
}

// SendClientAuthResult reports whether a connecting client was
// accepted against the roster.
func (c *ChatConnection) SendClientAuthResult(accountID int32, success bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send(protocol.BuildClientAuthResult(accountID, success))
}

// SendHeartbeat sends a keepalive ping.
func (c *ChatConnection) SendHeartbeat() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.send(protocol.BuildPing())
}

// send frames buf with the length prefix and writes the whole envelope
// in one call so concurrent senders never interleave partial writes.
func (c *ChatConnection) send(buf []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	framed := protocol.NewPacketWriter().WriteBytes(buf).BuildWithLengthPrefix()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(framed); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	return nil
}

// readLoop is the only code that understands envelope boundaries. It
// reads complete frames and hands them to the dispatcher; it does no
// other processing. Each read carries a deadline; an idle interval
// retries, any other read error (shutdown aside) ends the loop and
// tears the connection down.
func (c *ChatConnection) readLoop(ctx context.Context, conn net.Conn) {
	defer close(c.readDone)

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		env, err := protocol.ReadEnvelope(conn)
		if err != nil {
			if ctx.Err() != nil {
				// Cooperative shutdown, not a failure.
				return
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				// A quiet interval; the keepalive exchange keeps a
				// live session from ever idling this long.
				continue
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info().Msg("chat server closed connection")
				c.teardown(nil, true)
			} else {
				c.logger.Error().Err(err).Msg("error reading from chat server")
				c.teardown(err, true)
			}
			return
		}

		c.dispatch(ctx, env)
	}
}

// dispatch routes one decoded envelope by command code. A per-packet
// decode failure is logged and the loop continues; one malformed
// packet never kills the connection. Dispatch is synchronous so
// packets are handled strictly in arrival order.
func (c *ChatConnection) dispatch(ctx context.Context, env *protocol.Envelope) {
	switch env.Command {
	case protocol.CmdLoginAccepted:
		c.logger.Info().Msg("chat server accepted login")
		c.state.Store(int32(StateAuthenticated))
		c.bus.EmitSync(ctx, events.Event{Type: events.EventLoginAccepted, Source: "chat_conn"})
		c.startKeepAlive()

	case protocol.CmdLoginRejected:
		reason := protocol.DecodeLoginRejected(env.Payload)
		c.logger.Warn().Str("reason", reason).Msg("chat server rejected login")
		c.bus.EmitSync(ctx, events.Event{
			Type:    events.EventLoginRejected,
			Source:  "chat_conn",
			Payload: events.LoginRejectedPayload{Reason: reason},
		})

	case protocol.CmdCreateMatch:
		data, err := protocol.DecodeCreateMatch(env.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to decode create match request")
			return
		}
		c.logger.Info().
			Int32("match_id", data.MatchID).
			Str("map", data.MapName).
			Str("mode", data.GameMode).
			Str("type", data.Type.String()).
			Int("team1", len(data.Team1)).
			Int("team2", len(data.Team2)).
			Msg("create match request")
		c.bus.EmitSync(ctx, events.Event{
			Type:    events.EventCreateMatchRequest,
			Source:  "chat_conn",
			Payload: events.CreateMatchPayload{Match: data},
		})

	case protocol.CmdEndMatch:
		matchID, err := protocol.DecodeEndMatch(env.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to decode end match request")
			return
		}
		c.logger.Info().Int32("match_id", matchID).Msg("end match request")
		c.bus.EmitSync(ctx, events.Event{
			Type:    events.EventEndMatchRequest,
			Source:  "chat_conn",
			Payload: events.EndMatchPayload{MatchID: matchID},
		})

	case protocol.CmdRemoteCommand:
		command := protocol.DecodeRemoteCommand(env.Payload)
		c.logger.Info().Str("command", command).Msg("remote command received")
		c.bus.EmitSync(ctx, events.Event{
			Type:    events.EventRemoteCommand,
			Source:  "chat_conn",
			Payload: events.RemoteCommandPayload{Command: command},
		})

	case protocol.CmdOptions:
		// Options carry variable-length trailing data; the decoder
		// keeps whatever pairs parse and swallows the rest.
		opts := protocol.DecodeOptions(env.Payload)
		c.logger.Debug().Int("count", len(opts)).Msg("options received")
		c.bus.EmitSync(ctx, events.Event{
			Type:    events.EventOptionsReceived,
			Source:  "chat_conn",
			Payload: events.OptionsPayload{Options: opts},
		})

	case protocol.CmdPong:
		c.logger.Trace().Msg("keepalive pong received")
		c.bus.Emit(ctx, events.Event{Type: events.EventHeartbeatReceived, Source: "chat_conn"})

	case protocol.CmdPing:
		c.logger.Trace().Msg("keepalive ping from server")
		if err := c.send(protocol.BuildPong()); err != nil {
			c.logger.Debug().Err(err).Msg("failed to answer ping")
		}

	default:
		// The remote protocol is a superset of what this client
		// implements (general chat-room commands among others), so an
		// unknown code is not an error.
		c.logger.Debug().
			Uint16("command", env.Command).
			Int("payload_len", len(env.Payload)).
			Msg("unknown command, dropped")
	}
}

// startKeepAlive launches the keepalive loop. Called once, from the
// dispatcher, on login acceptance.
func (c *ChatConnection) startKeepAlive() {
	kaCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.kaCancel = cancel
	c.kaDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				if err := c.SendHeartbeat(); err != nil {
					// The frame loop detects the dead connection on
					// its own; just stop pinging.
					c.logger.Debug().Err(err).Msg("keepalive send failed, stopping")
					return
				}
				c.logger.Trace().Msg("keepalive ping sent")
			}
		}
	}()
}

// Disconnect stops the keepalive and frame-reading loops, awaiting
// their completion, best-effort sends a disconnect notice, releases
// the transport, and resets identifiers. Safe to call more than once.
func (c *ChatConnection) Disconnect() {
	c.mu.Lock()
	kaCancel, kaDone := c.kaCancel, c.kaDone
	readCancel, readDone := c.readCancel, c.readDone
	c.mu.Unlock()

	if kaCancel != nil {
		kaCancel()
		<-kaDone
	}

	if c.IsConnected() {
		if err := c.send(protocol.BuildDisconnectNotice()); err != nil {
			c.logger.Debug().Err(err).Msg("failed to send disconnect notice")
		}
	}

	if readCancel != nil {
		readCancel()
	}
	c.teardown(nil, false)
	if readDone != nil {
		<-readDone
	}
}

// teardown closes the transport, resets identifiers, and emits
// Disconnected exactly once. fromReadLoop distinguishes a remote drop
// (loop already exiting) from a local Disconnect.
func (c *ChatConnection) teardown(cause error, fromReadLoop bool) {
	c.downOnce.Do(func() {
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		if fromReadLoop && c.kaCancel != nil {
			c.kaCancel()
		}
		c.serverID = 0
		c.sessionID = ""
		c.gamePort = 0
		c.mu.Unlock()

		c.state.Store(int32(StateDisconnected))
		close(c.done)
		c.logger.Info().Msg("disconnected from chat server")
		c.bus.Emit(context.Background(), events.Event{
			Type:    events.EventDisconnected,
			Source:  "chat_conn",
			Payload: events.DisconnectedPayload{Err: cause},
		})
	})
}
