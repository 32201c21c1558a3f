// HonLink - HoN Game Server / Chat Server Connector
//
// HonLink maintains the persistent TCP session between a game server
// and the upstream chat server: it performs the session handshake,
// answers keepalives, receives arranged match assignments, and drives
// the match lifecycle from creation through player connection to
// start and end. It also exposes a local read-only status API and
// publishes lifecycle telemetry via MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/honlink-project/honlink/internal/api"
	"github.com/honlink-project/honlink/internal/config"
	"github.com/honlink-project/honlink/internal/connector"
	"github.com/honlink-project/honlink/internal/events"
	"github.com/honlink-project/honlink/internal/history"
	"github.com/honlink-project/honlink/internal/match"
	"github.com/honlink-project/honlink/internal/protocol"
	"github.com/honlink-project/honlink/internal/telemetry"
	"github.com/honlink-project/honlink/internal/util"
)

const (
	AppName    = "HonLink"
	AppVersion = "1.0.0"
	Banner     = `
  _    _             _      _       _
 | |  | |           | |    (_)     | |
 | |__| | ___  _ __ | |     _ _ __ | | __
 |  __  |/ _ \| '_ \| |    | | '_ \| |/ /
 | |  | | (_) | | | | |____| | | | |   <
 |_|  |_|\___/|_| |_|______|_|_| |_|_|\_\
                                   v%s
 HoN Game Server / Chat Server Connector
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting HonLink")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Re-initialize logger with config-based settings
	appData := cfg.GetApplicationData()
	logCfg := util.LogConfig{
		Level:      appData.Logging.Level,
		Directory:  appData.Logging.Directory,
		MaxBackups: appData.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	// The chat connection is replaced on every reconnect attempt, so
	// collaborators talk to it through this holder.
	link := newChatLink()

	matchCfg := match.DefaultConfig()
	if appData.Timers.PlayerConnectTimeoutSec > 0 {
		matchCfg.ConnectTimeout = time.Duration(appData.Timers.PlayerConnectTimeoutSec) * time.Second
	}
	if appData.Timers.PlayerReminderIntervalSec > 0 {
		matchCfg.ReminderInterval = time.Duration(appData.Timers.PlayerReminderIntervalSec) * time.Second
	}

	matchMgr := match.NewManager(link, bus, matchCfg)
	matchMgr.Bind()

	// Report idle as soon as the chat server accepts the login.
	bus.Subscribe(events.EventLoginAccepted, "main.initialStatus", func(ctx context.Context, event events.Event) error {
		return link.SendStatus(protocol.StatusIdle, 0, 0)
	})

	// Match history store
	var store *history.Store
	if appData.History.Enabled {
		store, err = history.Open(appData.History.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open match history, history disabled")
		} else {
			store.Bind(bus)
			defer store.Close()
		}
	}

	var wg sync.WaitGroup

	// Chat server connection supervision
	wg.Add(1)
	go func() {
		defer wg.Done()
		runChatConnection(ctx, cfg, bus, link, matchMgr)
	}()

	// Status API
	var apiServer *api.Server
	if appData.API.Enabled {
		apiServer = api.NewServer(cfg, link.State, matchMgr, store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", appData.API.Port).Msg("starting status API server")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("status API server failed (non-fatal)")
			}
		}()
	}

	// MQTT telemetry
	if appData.MQTT.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(cfg, bus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				log.Info().Msg("starting MQTT telemetry")
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
			}()
		}
	}

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	log.Info().Msg("initiating graceful shutdown...")

	// Abort any in-flight match before tearing the session down.
	matchMgr.AbortMatch("server shutting down")

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	bus.Stop()

	log.Info().Msg("HonLink stopped")
}

// runChatConnection supervises the chat server session: it dials,
// logs in, waits for the connection to drop, then retries with a
// fresh connection instance after a delay. Drop detection waits on the
// instance's own Done channel; a prior attempt's teardown can never be
// mistaken for the current session dropping.
func runChatConnection(ctx context.Context, cfg *config.Config, bus *events.Bus, link *chatLink, matchMgr *match.Manager) {
	chatData := cfg.GetChatData()

	delay := 5 * time.Second
	if sec := cfg.GetApplicationData().Timers.ReconnectDelaySec; sec > 0 {
		delay = time.Duration(sec) * time.Second
	}

	for {
		if ctx.Err() != nil {
			return
		}

		conn := connector.NewChatConnection(bus)
		link.set(conn)

		err := conn.Connect(ctx, chatData.ChatAddress, chatData.ChatPort)
		if err == nil {
			err = conn.Login(chatData.ServerID, chatData.SessionID, uint16(chatData.GamePort))
		}

		if err != nil {
			log.Warn().
				Err(err).
				Str("addr", chatData.ChatAddress).
				Int("port", chatData.ChatPort).
				Dur("retry_in", delay).
				Msg("chat server connection failed")
			conn.Disconnect()
		} else {
			// Connected. Wait for this session to drop or for shutdown.
			select {
			case <-conn.Done():
				log.Warn().Dur("retry_in", delay).Msg("chat server connection lost")
				matchMgr.AbortMatch("chat server connection lost")
			case <-ctx.Done():
				conn.Disconnect()
				return
			}
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// chatLink holds the current chat connection so collaborators keep a
// stable handle across reconnects. It satisfies the sender interface
// the match manager uses.
type chatLink struct {
	mu   sync.RWMutex
	conn *connector.ChatConnection
}

func newChatLink() *chatLink {
	return &chatLink{}
}

func (l *chatLink) set(conn *connector.ChatConnection) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

func (l *chatLink) get() *connector.ChatConnection {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.conn
}

// State reports the current connection state for the status API.
func (l *chatLink) State() connector.ConnState {
	conn := l.get()
	if conn == nil {
		return connector.StateNotConnected
	}
	return conn.State()
}

func (l *chatLink) SendStatus(status protocol.ServerStatus, playerCount uint8, matchID int32) error {
	conn := l.get()
	if conn == nil {
		return connector.ErrNotConnected
	}
	return conn.SendStatus(status, playerCount, matchID)
}

func (l *chatLink) SendAnnounceMatch(matchID int32, accountIDs []int32) error {
	conn := l.get()
	if conn == nil {
		return connector.ErrNotConnected
	}
	return conn.SendAnnounceMatch(matchID, accountIDs)
}

func (l *chatLink) SendMatchStarted(matchID int32) error {
	conn := l.get()
	if conn == nil {
		return connector.ErrNotConnected
	}
	return conn.SendMatchStarted(matchID)
}

func (l *chatLink) SendMatchEnded(matchID int32, winningTeam uint8) error {
	conn := l.get()
	if conn == nil {
		return connector.ErrNotConnected
	}
	return conn.SendMatchEnded(matchID, winningTeam)
}

func (l *chatLink) SendClientAuthResult(accountID int32, success bool) error {
	conn := l.get()
	if conn == nil {
		return connector.ErrNotConnected
	}
	return conn.SendClientAuthResult(accountID, success)
}
