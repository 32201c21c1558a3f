package match

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/honlink-project/honlink/internal/events"
	"github.com/honlink-project/honlink/internal/protocol"
)

// fakeSender records every outbound call for assertions.
type fakeSender struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSender) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeSender) SendStatus(status protocol.ServerStatus, playerCount uint8, matchID int32) error {
	f.record(fmt.Sprintf("status:%s:%d:%d", status, playerCount, matchID))
	return nil
}

func (f *fakeSender) SendAnnounceMatch(matchID int32, accountIDs []int32) error {
	f.record(fmt.Sprintf("announce:%d:%d", matchID, len(accountIDs)))
	return nil
}

func (f *fakeSender) SendMatchStarted(matchID int32) error {
	f.record(fmt.Sprintf("started:%d", matchID))
	return nil
}

func (f *fakeSender) SendMatchEnded(matchID int32, winningTeam uint8) error {
	f.record(fmt.Sprintf("ended:%d:%d", matchID, winningTeam))
	return nil
}

func (f *fakeSender) SendClientAuthResult(accountID int32, success bool) error {
	f.record(fmt.Sprintf("auth:%d:%v", accountID, success))
	return nil
}

func (f *fakeSender) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeSender) has(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func testMatchData(matchType protocol.MatchType) *protocol.ArrangedMatchData {
	return &protocol.ArrangedMatchData{
		MatchID:  100,
		MapName:  "caldavar",
		GameMode: "ap",
		Type:     matchType,
		Team1: []protocol.ArrangedMatchPlayer{
			{AccountID: 1, Name: "alpha", Slot: 0},
			{AccountID: 2, Name: "bravo", Slot: 1},
		},
		Team2: []protocol.ArrangedMatchPlayer{
			{AccountID: 3, Name: "charlie", Slot: 0},
			{AccountID: 4, Name: "delta", Slot: 1},
		},
	}
}

func newTestManager(cfg Config) (*Manager, *fakeSender, *events.Bus) {
	sender := &fakeSender{}
	bus := events.NewBus()
	return NewManager(sender, bus, cfg), sender, bus
}

func TestCreateMatchAnnouncesRoster(t *testing.T) {
	mgr, sender, _ := newTestManager(DefaultConfig())
	defer mgr.AbortMatch("test cleanup")

	mgr.HandleCreateMatch(testMatchData(protocol.MatchTypePublic))

	if got := mgr.State(); got != MatchWaitingForPlayers {
		t.Fatalf("state: got %s, want %s", got, MatchWaitingForPlayers)
	}
	if !sender.has("announce:100:4") {
		t.Fatalf("announce missing, calls: %v", sender.calls)
	}

	snap, ok := mgr.Snapshot()
	if !ok {
		t.Fatalf("expected active match snapshot")
	}
	if snap.ID != 100 || len(snap.Players) != 4 {
		t.Fatalf("snapshot: got id=%d players=%d", snap.ID, len(snap.Players))
	}
}

func TestCreateMatchRejectedWhileActive(t *testing.T) {
	mgr, _, _ := newTestManager(DefaultConfig())
	defer mgr.AbortMatch("test cleanup")

	mgr.HandleCreateMatch(testMatchData(protocol.MatchTypePublic))

	second := testMatchData(protocol.MatchTypePublic)
	second.MatchID = 200
	mgr.HandleCreateMatch(second)

	snap, ok := mgr.Snapshot()
	if !ok || snap.ID != 100 {
		t.Fatalf("active match changed: got %+v, ok=%v", snap, ok)
	}
}

func TestDuplicateAccountIDDropped(t *testing.T) {
	mgr, _, _ := newTestManager(DefaultConfig())
	defer mgr.AbortMatch("test cleanup")

	data := testMatchData(protocol.MatchTypePublic)
	data.Team2 = append(data.Team2, protocol.ArrangedMatchPlayer{AccountID: 1, Name: "alpha-again", Slot: 2})
	mgr.HandleCreateMatch(data)

	snap, _ := mgr.Snapshot()
	if len(snap.Players) != 4 {
		t.Fatalf("roster: got %d players, want 4", len(snap.Players))
	}
}

func TestMatchmakingAutoStartsOnFullRoster(t *testing.T) {
	mgr, sender, _ := newTestManager(DefaultConfig())
	defer mgr.AbortMatch("test cleanup")

	mgr.HandleCreateMatch(testMatchData(protocol.MatchTypeMatchmaking))

	for _, id := range []int32{1, 2, 3, 4} {
		mgr.PlayerConnect(id, "")
	}

	if got := mgr.State(); got != MatchActive {
		t.Fatalf("state: got %s, want %s", got, MatchActive)
	}
	if n := sender.count("started:"); n != 1 {
		t.Fatalf("match started sent %d times, want 1", n)
	}
	if !sender.has("status:active:4:100") {
		t.Fatalf("active status missing, calls: %v", sender.calls)
	}
}

func TestPublicMatchDoesNotAutoStart(t *testing.T) {
	mgr, sender, _ := newTestManager(DefaultConfig())
	defer mgr.AbortMatch("test cleanup")

	mgr.HandleCreateMatch(testMatchData(protocol.MatchTypePublic))
	for _, id := range []int32{1, 2, 3, 4} {
		mgr.PlayerConnect(id, "")
	}

	if got := mgr.State(); got != MatchWaitingForPlayers {
		t.Fatalf("state: got %s, want %s", got, MatchWaitingForPlayers)
	}
	if n := sender.count("started:"); n != 0 {
		t.Fatalf("match started sent %d times, want 0", n)
	}

	if err := mgr.StartMatch(); err != nil {
		t.Fatalf("StartMatch: %v", err)
	}
	if got := mgr.State(); got != MatchActive {
		t.Fatalf("state after StartMatch: got %s", got)
	}
}

func TestNonRosterPlayerDeniedAuth(t *testing.T) {
	mgr, sender, _ := newTestManager(DefaultConfig())
	defer mgr.AbortMatch("test cleanup")

	mgr.HandleCreateMatch(testMatchData(protocol.MatchTypePublic))
	mgr.PlayerConnect(999, "intruder")

	if !sender.has("auth:999:false") {
		t.Fatalf("auth denial missing, calls: %v", sender.calls)
	}
	snap, _ := mgr.Snapshot()
	for _, p := range snap.Players {
		if p.Connected {
			t.Fatalf("no rostered player should be connected")
		}
	}
}

func TestRosterPlayerGrantedAuth(t *testing.T) {
	mgr, sender, _ := newTestManager(DefaultConfig())
	defer mgr.AbortMatch("test cleanup")

	mgr.HandleCreateMatch(testMatchData(protocol.MatchTypePublic))
	mgr.PlayerConnect(1, "alpha")

	if !sender.has("auth:1:true") {
		t.Fatalf("auth grant missing, calls: %v", sender.calls)
	}
}

func TestPlayerDisconnectKeepsMatchState(t *testing.T) {
	mgr, _, _ := newTestManager(DefaultConfig())
	defer mgr.AbortMatch("test cleanup")

	mgr.HandleCreateMatch(testMatchData(protocol.MatchTypePublic))
	mgr.PlayerConnect(1, "alpha")
	mgr.PlayerReady(1, true)
	mgr.PlayerDisconnect(1)

	if got := mgr.State(); got != MatchWaitingForPlayers {
		t.Fatalf("state: got %s, want %s", got, MatchWaitingForPlayers)
	}
	snap, _ := mgr.Snapshot()
	for _, p := range snap.Players {
		if p.AccountID == 1 && (p.Connected || p.Ready) {
			t.Fatalf("player flags not cleared: %+v", p)
		}
	}
}

func TestConnectTimeoutAbortsAndNamesMissing(t *testing.T) {
	cfg := Config{
		ConnectTimeout:   50 * time.Millisecond,
		ReminderInterval: time.Hour,
		WatchTick:        5 * time.Millisecond,
	}
	mgr, _, bus := newTestManager(cfg)

	abortCh := make(chan events.MatchAbortedPayload, 1)
	bus.Subscribe(events.EventMatchAborted, "test", func(ctx context.Context, ev events.Event) error {
		if p, ok := ev.Payload.(events.MatchAbortedPayload); ok {
			abortCh <- p
		}
		return nil
	})

	mgr.HandleCreateMatch(testMatchData(protocol.MatchTypeMatchmaking))
	for _, id := range []int32{1, 2, 3} {
		mgr.PlayerConnect(id, "")
	}

	select {
	case p := <-abortCh:
		if p.MatchID != 100 {
			t.Fatalf("aborted match id: got %d", p.MatchID)
		}
		if !strings.Contains(p.Reason, "delta") {
			t.Fatalf("abort reason does not name the missing player: %q", p.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for abort")
	}

	if got := mgr.State(); got != MatchNone {
		t.Fatalf("state after abort: got %s, want %s", got, MatchNone)
	}
}

func TestReminderFiresForMissingPlayers(t *testing.T) {
	cfg := Config{
		ConnectTimeout:   time.Hour,
		ReminderInterval: 20 * time.Millisecond,
		WatchTick:        5 * time.Millisecond,
	}
	mgr, _, bus := newTestManager(cfg)
	defer mgr.AbortMatch("test cleanup")

	remindCh := make(chan events.PlayerPayload, 8)
	bus.Subscribe(events.EventPlayerReminder, "test", func(ctx context.Context, ev events.Event) error {
		if p, ok := ev.Payload.(events.PlayerPayload); ok {
			remindCh <- p
		}
		return nil
	})

	mgr.HandleCreateMatch(testMatchData(protocol.MatchTypePublic))
	for _, id := range []int32{1, 2, 3} {
		mgr.PlayerConnect(id, "")
	}

	select {
	case p := <-remindCh:
		if p.AccountID != 4 {
			t.Fatalf("reminder for account %d, want 4", p.AccountID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reminder")
	}
}

func TestEndMatchOnlyFromActive(t *testing.T) {
	mgr, sender, _ := newTestManager(DefaultConfig())
	defer mgr.AbortMatch("test cleanup")

	if err := mgr.EndMatch(1); err == nil {
		t.Fatalf("EndMatch with no match should fail")
	}

	mgr.HandleCreateMatch(testMatchData(protocol.MatchTypePublic))
	if err := mgr.EndMatch(1); err == nil {
		t.Fatalf("EndMatch while waiting should fail")
	}

	if err := mgr.StartMatch(); err != nil {
		t.Fatalf("StartMatch: %v", err)
	}
	if err := mgr.EndMatch(2); err != nil {
		t.Fatalf("EndMatch: %v", err)
	}

	if !sender.has("ended:100:2") {
		t.Fatalf("match ended missing, calls: %v", sender.calls)
	}
	if !sender.has("status:idle:0:0") {
		t.Fatalf("idle status missing after end, calls: %v", sender.calls)
	}
	if got := mgr.State(); got != MatchNone {
		t.Fatalf("state after end: got %s", got)
	}
}

func TestEndMatchRequestSemantics(t *testing.T) {
	t.Run("active match ends", func(t *testing.T) {
		mgr, sender, _ := newTestManager(DefaultConfig())
		mgr.HandleCreateMatch(testMatchData(protocol.MatchTypePublic))
		mgr.StartMatch()

		mgr.HandleEndMatchRequest(100)
		if got := mgr.State(); got != MatchNone {
			t.Fatalf("state: got %s", got)
		}
		if !sender.has("ended:100:0") {
			t.Fatalf("expected end with no winning team, calls: %v", sender.calls)
		}
	})

	t.Run("waiting match aborts", func(t *testing.T) {
		mgr, sender, _ := newTestManager(DefaultConfig())
		mgr.HandleCreateMatch(testMatchData(protocol.MatchTypePublic))

		mgr.HandleEndMatchRequest(100)
		if got := mgr.State(); got != MatchNone {
			t.Fatalf("state: got %s", got)
		}
		if n := sender.count("ended:"); n != 0 {
			t.Fatalf("waiting match should abort, not end; calls: %v", sender.calls)
		}
	})

	t.Run("unknown match id dropped", func(t *testing.T) {
		mgr, _, _ := newTestManager(DefaultConfig())
		defer mgr.AbortMatch("test cleanup")

		mgr.HandleCreateMatch(testMatchData(protocol.MatchTypePublic))
		mgr.HandleEndMatchRequest(999)
		if got := mgr.State(); got != MatchWaitingForPlayers {
			t.Fatalf("state: got %s, want unchanged", got)
		}
	})
}

func TestAbortIsIdempotent(t *testing.T) {
	mgr, sender, _ := newTestManager(DefaultConfig())

	mgr.HandleCreateMatch(testMatchData(protocol.MatchTypePublic))
	mgr.AbortMatch("first")
	mgr.AbortMatch("second")
	mgr.AbortMatch("third")

	if got := mgr.State(); got != MatchNone {
		t.Fatalf("state: got %s", got)
	}
	// Only the first abort reports idle.
	if n := sender.count("status:idle:"); n != 1 {
		t.Fatalf("idle status sent %d times, want 1", n)
	}
}

func TestBindRoutesBusEvents(t *testing.T) {
	mgr, _, bus := newTestManager(DefaultConfig())
	defer mgr.AbortMatch("test cleanup")
	mgr.Bind()

	bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventCreateMatchRequest,
		Source:  "test",
		Payload: events.CreateMatchPayload{Match: testMatchData(protocol.MatchTypePublic)},
	})

	if got := mgr.State(); got != MatchWaitingForPlayers {
		t.Fatalf("state after create event: got %s", got)
	}

	bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventEndMatchRequest,
		Source:  "test",
		Payload: events.EndMatchPayload{MatchID: 100},
	})

	if got := mgr.State(); got != MatchNone {
		t.Fatalf("state after end event: got %s", got)
	}
}
