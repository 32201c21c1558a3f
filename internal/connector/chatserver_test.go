package connector

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/honlink-project/honlink/internal/events"
	"github.com/honlink-project/honlink/internal/protocol"
)

// fakeChatServer accepts one connection on a loopback port.
type fakeChatServer struct {
	ln   net.Listener
	conn net.Conn
}

func newFakeChatServer(t *testing.T) *fakeChatServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return &fakeChatServer{ln: ln}
}

func (s *fakeChatServer) hostPort(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func (s *fakeChatServer) accept(t *testing.T) net.Conn {
	t.Helper()
	s.ln.(*net.TCPListener).SetDeadline(time.Now().Add(2 * time.Second))
	conn, err := s.ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	s.conn = conn
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *fakeChatServer) readEnvelope(t *testing.T) *protocol.Envelope {
	t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	env, err := protocol.ReadEnvelope(s.conn)
	if err != nil {
		t.Fatalf("server read envelope: %v", err)
	}
	return env
}

func (s *fakeChatServer) writeEnvelope(t *testing.T, cmd uint16, payload []byte) {
	t.Helper()
	if err := protocol.WriteEnvelope(s.conn, cmd, payload); err != nil {
		t.Fatalf("server write envelope: %v", err)
	}
}

func connectClient(t *testing.T, srv *fakeChatServer, bus *events.Bus) *ChatConnection {
	t.Helper()
	c := NewChatConnection(bus)
	host, port := srv.hostPort(t)
	if err := c.Connect(context.Background(), host, port); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Disconnect)
	srv.accept(t)
	return c
}

func waitEvent(t *testing.T, ch <-chan events.Event, want events.EventType) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		if ev.Type != want {
			t.Fatalf("event: got %s, want %s", ev.Type, want)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
		return events.Event{}
	}
}

func subscribe(bus *events.Bus, types ...events.EventType) <-chan events.Event {
	ch := make(chan events.Event, 16)
	for _, et := range types {
		bus.Subscribe(et, "test."+string(et), func(ctx context.Context, ev events.Event) error {
			ch <- ev
			return nil
		})
	}
	return ch
}

func TestSendsFailWhenNotConnected(t *testing.T) {
	c := NewChatConnection(events.NewBus())

	if err := c.Login(1, "s", 11235); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Login: got %v", err)
	}
	if err := c.SendStatus(protocol.StatusIdle, 0, 0); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendStatus: got %v", err)
	}
	if err := c.SendHeartbeat(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendHeartbeat: got %v", err)
	}
	if c.State() != StateNotConnected {
		t.Fatalf("state: got %s", c.State())
	}
}

func TestLoginWireFormat(t *testing.T) {
	srv := newFakeChatServer(t)
	bus := events.NewBus()
	c := connectClient(t, srv, bus)

	if err := c.Login(1000, "deadbeef", 11235); err != nil {
		t.Fatalf("login: %v", err)
	}

	env := srv.readEnvelope(t)
	if env.Command != protocol.CmdConnect {
		t.Fatalf("command: got %#04x, want %#04x", env.Command, protocol.CmdConnect)
	}

	r := protocol.NewPacketReader(env.Payload)
	serverID, _ := r.ReadInt32()
	session, _ := r.ReadString()
	port, _ := r.ReadUint16()
	version, _ := r.ReadUint32()

	if serverID != 1000 || session != "deadbeef" || port != 11235 || version != protocol.ProtocolVersion {
		t.Fatalf("login payload: id=%d session=%q port=%d version=%d", serverID, session, port, version)
	}
}

func TestLoginAcceptedTransitionsToAuthenticated(t *testing.T) {
	srv := newFakeChatServer(t)
	bus := events.NewBus()
	ch := subscribe(bus, events.EventLoginAccepted)
	c := connectClient(t, srv, bus)

	if err := c.Login(1000, "s", 11235); err != nil {
		t.Fatalf("login: %v", err)
	}
	srv.readEnvelope(t)
	srv.writeEnvelope(t, protocol.CmdLoginAccepted, nil)

	waitEvent(t, ch, events.EventLoginAccepted)
	if c.State() != StateAuthenticated {
		t.Fatalf("state: got %s, want %s", c.State(), StateAuthenticated)
	}
}

func TestLoginRejectedCarriesReason(t *testing.T) {
	srv := newFakeChatServer(t)
	bus := events.NewBus()
	ch := subscribe(bus, events.EventLoginRejected)
	c := connectClient(t, srv, bus)

	if err := c.Login(1000, "stale", 11235); err != nil {
		t.Fatalf("login: %v", err)
	}
	srv.readEnvelope(t)

	reason := protocol.NewPacketWriter().WriteString("invalid session").Bytes()
	srv.writeEnvelope(t, protocol.CmdLoginRejected, reason)

	ev := waitEvent(t, ch, events.EventLoginRejected)
	p, ok := ev.Payload.(events.LoginRejectedPayload)
	if !ok || p.Reason != "invalid session" {
		t.Fatalf("payload: got %+v", ev.Payload)
	}
}

func TestCreateMatchDispatch(t *testing.T) {
	srv := newFakeChatServer(t)
	bus := events.NewBus()
	ch := subscribe(bus, events.EventCreateMatchRequest)
	connectClient(t, srv, bus)

	payload := protocol.NewPacketWriter().
		WriteInt32(4242).
		WriteString("caldavar").
		WriteString("ap").
		WriteUint8(uint8(protocol.MatchTypeMatchmaking)).
		WriteUint8(1).
		WriteInt32(7).WriteString("alpha").WriteUint8(0).
		WriteUint8(1).
		WriteInt32(8).WriteString("bravo").WriteUint8(0).
		Bytes()
	srv.writeEnvelope(t, protocol.CmdCreateMatch, payload)

	ev := waitEvent(t, ch, events.EventCreateMatchRequest)
	p, ok := ev.Payload.(events.CreateMatchPayload)
	if !ok {
		t.Fatalf("payload type: %T", ev.Payload)
	}
	if p.Match.MatchID != 4242 || p.Match.MapName != "caldavar" || len(p.Match.Team1) != 1 || len(p.Match.Team2) != 1 {
		t.Fatalf("decoded match: %+v", p.Match)
	}
}

func TestMalformedPacketDoesNotKillConnection(t *testing.T) {
	srv := newFakeChatServer(t)
	bus := events.NewBus()
	ch := subscribe(bus, events.EventEndMatchRequest)
	c := connectClient(t, srv, bus)

	// Truncated create-match body, then a valid end-match.
	srv.writeEnvelope(t, protocol.CmdCreateMatch, []byte{0x01})
	srv.writeEnvelope(t, protocol.CmdEndMatch, protocol.NewPacketWriter().WriteInt32(55).Bytes())

	ev := waitEvent(t, ch, events.EventEndMatchRequest)
	p := ev.Payload.(events.EndMatchPayload)
	if p.MatchID != 55 {
		t.Fatalf("match id: got %d", p.MatchID)
	}
	if !c.IsConnected() {
		t.Fatalf("connection dropped after malformed packet")
	}
}

func TestUnknownCommandIsDropped(t *testing.T) {
	srv := newFakeChatServer(t)
	bus := events.NewBus()
	ch := subscribe(bus, events.EventRemoteCommand)
	c := connectClient(t, srv, bus)

	// A chat-room range command this client does not implement.
	srv.writeEnvelope(t, 0x0042, []byte{1, 2, 3})
	srv.writeEnvelope(t, protocol.CmdRemoteCommand, protocol.NewPacketWriter().WriteString("restart").Bytes())

	ev := waitEvent(t, ch, events.EventRemoteCommand)
	p := ev.Payload.(events.RemoteCommandPayload)
	if p.Command != "restart" {
		t.Fatalf("command: got %q", p.Command)
	}
	if !c.IsConnected() {
		t.Fatalf("connection dropped after unknown command")
	}
}

func TestServerPingGetsPong(t *testing.T) {
	srv := newFakeChatServer(t)
	bus := events.NewBus()
	connectClient(t, srv, bus)

	srv.writeEnvelope(t, protocol.CmdPing, nil)

	env := srv.readEnvelope(t)
	if env.Command != protocol.CmdPong {
		t.Fatalf("reply: got %#04x, want %#04x", env.Command, protocol.CmdPong)
	}
}

func TestDisconnectSendsNoticeAndEmits(t *testing.T) {
	srv := newFakeChatServer(t)
	bus := events.NewBus()
	ch := subscribe(bus, events.EventDisconnected)
	c := connectClient(t, srv, bus)

	c.Disconnect()

	env := srv.readEnvelope(t)
	if env.Command != protocol.CmdDisconnect {
		t.Fatalf("notice: got %#04x, want %#04x", env.Command, protocol.CmdDisconnect)
	}

	waitEvent(t, ch, events.EventDisconnected)
	if c.State() != StateDisconnected {
		t.Fatalf("state: got %s", c.State())
	}

	// Sends after disconnect fail cleanly.
	if err := c.SendHeartbeat(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendHeartbeat after disconnect: got %v", err)
	}

	// Repeated disconnects are safe.
	c.Disconnect()
}

func TestRemoteCloseTearsDown(t *testing.T) {
	srv := newFakeChatServer(t)
	bus := events.NewBus()
	ch := subscribe(bus, events.EventDisconnected)
	c := connectClient(t, srv, bus)

	srv.conn.Close()

	waitEvent(t, ch, events.EventDisconnected)
	if c.State() != StateDisconnected {
		t.Fatalf("state: got %s", c.State())
	}
}

func TestIdleReadIntervalKeepsConnectionAlive(t *testing.T) {
	old := readTimeout
	readTimeout = 100 * time.Millisecond
	defer func() { readTimeout = old }()

	srv := newFakeChatServer(t)
	bus := events.NewBus()
	ch := subscribe(bus, events.EventEndMatchRequest)
	c := connectClient(t, srv, bus)

	// Several read deadlines pass with no traffic at all.
	time.Sleep(350 * time.Millisecond)
	if !c.IsConnected() {
		t.Fatal("idle read interval tore the connection down")
	}

	// The loop still reads and dispatches after the quiet spell.
	srv.writeEnvelope(t, protocol.CmdEndMatch, protocol.NewPacketWriter().WriteInt32(55).Bytes())
	ev := waitEvent(t, ch, events.EventEndMatchRequest)
	if p := ev.Payload.(events.EndMatchPayload); p.MatchID != 55 {
		t.Fatalf("match id: got %d", p.MatchID)
	}
}

func TestCloseMidPrefixIsCleanClose(t *testing.T) {
	srv := newFakeChatServer(t)
	bus := events.NewBus()
	ch := subscribe(bus, events.EventDisconnected)
	c := connectClient(t, srv, bus)

	// One byte of a length prefix, then the peer goes away.
	srv.conn.Write([]byte{0x05})
	srv.conn.Close()

	ev := waitEvent(t, ch, events.EventDisconnected)
	if p := ev.Payload.(events.DisconnectedPayload); p.Err != nil {
		t.Fatalf("expected clean close, got error %v", p.Err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state: got %s", c.State())
	}
}

func TestDoneClosesOnTeardown(t *testing.T) {
	srv := newFakeChatServer(t)
	bus := events.NewBus()
	c := connectClient(t, srv, bus)

	select {
	case <-c.Done():
		t.Fatal("Done closed while connected")
	default:
	}

	srv.conn.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after remote close")
	}
}
