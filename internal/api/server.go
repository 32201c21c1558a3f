package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/honlink-project/honlink/internal/config"
	"github.com/honlink-project/honlink/internal/connector"
	"github.com/honlink-project/honlink/internal/history"
	"github.com/honlink-project/honlink/internal/match"
	"github.com/honlink-project/honlink/internal/util"
)

// Default requests per second for the local status API.
const defaultRateLimitRPS = 20

// ConnStateFunc reports the current chat connection state. The
// connection object is replaced on every reconnect attempt, so the
// API holds a function rather than the connection itself.
type ConnStateFunc func() connector.ConnState

// Server is the read-only HTTP status server.
type Server struct {
	cfg       *config.Config
	connState ConnStateFunc
	matches   *match.Manager
	store     *history.Store

	httpServer *http.Server
	router     *gin.Engine
	startedAt  time.Time
}

// NewServer creates the status API server. store may be nil when match
// history is disabled.
func NewServer(cfg *config.Config, connState ConnStateFunc, matches *match.Manager, store *history.Store) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:       cfg,
		connState: connState,
		matches:   matches,
		store:     store,
		startedAt: time.Now(),
	}
}

// Start runs the API server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := fmt.Sprintf(":%d", s.cfg.GetApplicationData().API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("status API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status API server error: %w", err)
	}

	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(defaultRateLimitRPS)
	router.Use(rateLimiter.Middleware())

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/ping", s.handlePing)
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/match", s.handleMatch)
		apiGroup.GET("/history", s.handleHistory)
		apiGroup.GET("/system", s.handleSystem)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func (s *Server) handleStatus(c *gin.Context) {
	chatData := s.cfg.GetChatData()

	c.JSON(http.StatusOK, gin.H{
		"server_id":        chatData.ServerID,
		"server_name":      chatData.Name,
		"region":           chatData.Region,
		"chat_address":     chatData.ChatAddress,
		"connection_state": s.connState().String(),
		"match_state":      s.matches.State().String(),
		"uptime_sec":       int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleMatch(c *gin.Context) {
	snapshot, ok := s.matches.Snapshot()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"active": true,
		"match":  snapshot,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "match history is disabled"})
		return
	}

	records, err := s.store.RecentMatches(20)
	if err != nil {
		log.Error().Err(err).Msg("failed to read match history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read match history"})
		return
	}

	count, err := s.store.MatchCount()
	if err != nil {
		count = len(records)
	}

	c.JSON(http.StatusOK, gin.H{
		"total":   count,
		"matches": records,
	})
}

func (s *Server) handleSystem(c *gin.Context) {
	resp := gin.H{
		"system": util.GetSystemInfo(),
	}

	if cpuPercent, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpuPercent
	}
	if memUsage, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = memUsage
	}

	c.JSON(http.StatusOK, resp)
}
