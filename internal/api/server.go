package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"liqsweep-bot/config"
	"liqsweep-bot/internal/binance"
	"liqsweep-bot/internal/cluster"
	"liqsweep-bot/internal/events"
	"liqsweep-bot/internal/market"
	"liqsweep-bot/internal/tracker"
	"liqsweep-bot/internal/universe"
)

// Server exposes read-only state over HTTP: health, open and closed
// positions, zones, cluster assignments, the eligible universe, and a
// websocket event feed.
type Server struct {
	router *gin.Engine
	cfg    config.ServerConfig
	logger zerolog.Logger

	store    *market.Store
	track    *tracker.Tracker
	clusters *cluster.Clusterer
	pool     *universe.Universe
	hub      *WSHub

	srv *http.Server
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	store *market.Store,
	track *tracker.Tracker,
	clusters *cluster.Clusterer,
	pool *universe.Universe,
	bus *events.Bus,
	logger zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:   router,
		cfg:      cfg,
		logger:   logger.With().Str("component", "api").Logger(),
		store:    store,
		track:    track,
		clusters: clusters,
		pool:     pool,
		hub:      NewWSHub(logger),
	}

	server.setupRoutes()

	// Forward all bus events to connected websocket clients
	bus.SubscribeAll(server.hub.BroadcastEvent)
	go server.hub.Run()

	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	{
		api.GET("/positions", s.handleOpenPositions)
		api.GET("/positions/history", s.handleClosedPositions)
		api.GET("/stats", s.handleStats)
		api.GET("/zones/:symbol", s.handleZones)
		api.GET("/liquidations/:symbol", s.handleLiquidations)
		api.GET("/clusters", s.handleClusters)
		api.GET("/universe", s.handleUniverse)
	}
}

// Start runs the HTTP server in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info().Str("addr", addr).Msg("api server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("api server failed")
		}
	}()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"symbols": len(s.store.Candles.Symbols()),
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleOpenPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.track.OpenPositions())
}

func (s *Server) handleClosedPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.track.ClosedPositions())
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.track.Stats())
}

func (s *Server) handleZones(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	c.JSON(http.StatusOK, gin.H{
		"symbol":     symbol,
		"support":    s.store.Zones.Zones(symbol, market.ZoneSupport),
		"resistance": s.store.Zones.Zones(symbol, market.ZoneResistance),
	})
}

// handleLiquidations reports the last hour of forced orders for a symbol.
// A SELL forced order liquidates longs, a BUY liquidates shorts.
func (s *Server) handleLiquidations(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	cutoff := time.Now().Add(-time.Hour).UnixMilli()
	c.JSON(http.StatusOK, gin.H{
		"symbol":     symbol,
		"count":      s.store.Liquidations.CountSince(symbol, cutoff),
		"longs_usd":  s.store.Liquidations.NotionalSince(symbol, cutoff, binance.LiquidationSell),
		"shorts_usd": s.store.Liquidations.NotionalSince(symbol, cutoff, binance.LiquidationBuy),
		"events":     s.store.Liquidations.Since(symbol, cutoff),
	})
}

func (s *Server) handleClusters(c *gin.Context) {
	c.JSON(http.StatusOK, s.clusters.Assignments())
}

func (s *Server) handleUniverse(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"hot": s.pool.HotSymbols(),
		"all": s.pool.Symbols(),
	})
}
