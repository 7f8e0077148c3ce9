// Command msghub runs the multi-tenant RPC message hub: the /ws
// handshake endpoint, the REST control surface over workspaces and
// services, and the background reaper/sweep jobs.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/hyphahub/msghub/internal/apperrors"
	"github.com/hyphahub/msghub/internal/auth"
	"github.com/hyphahub/msghub/internal/broker"
	"github.com/hyphahub/msghub/internal/config"
	"github.com/hyphahub/msghub/internal/handshake"
	"github.com/hyphahub/msghub/internal/httpapi"
	"github.com/hyphahub/msghub/internal/logger"
	"github.com/hyphahub/msghub/internal/middleware"
	"github.com/hyphahub/msghub/internal/models"
	"github.com/hyphahub/msghub/internal/store"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.Component("main")

	if cfg.JWTSecret == "" {
		log.Warn().Msg("MSGHUB_JWT_SECRET is unset; bearer and reconnection tokens cannot be verified")
	}

	kv, err := newBroker(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("kind", cfg.BrokerKind).Msg("failed to connect to broker")
	}
	defer kv.Close()

	nodeID := os.Getenv("MSGHUB_NODE_ID")
	if nodeID == "" {
		hostname, _ := os.Hostname()
		nodeID = hostname
	}

	st, err := store.New(context.Background(), kv, nodeID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}
	if err := st.RegisterWorkspace(context.Background(), models.NewPublicWorkspace(), false); err != nil {
		if apperrors.As(err).Kind != apperrors.Conflict {
			log.Fatal().Err(err).Msg("failed to provision the public workspace")
		}
	}

	verifier := auth.New(cfg.JWTSecret, cfg.JWTIssuer)

	hs := &handshake.Handshaker{
		Store:                st,
		Auth:                 verifier,
		NodeID:               nodeID,
		ReconnectTTL:         cfg.ReconnectTTL,
		DuplicatePingTimeout: cfg.DuplicatePingTimeout,
	}
	server := &httpapi.Server{Handshaker: hs, HandshakeTimeout: cfg.HandshakeTimeout}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/ws", server.HandleWS)
	server.RegisterRoutes(router.Group(""), st)

	sched := cron.New()
	if _, err := sched.AddFunc(everySpec(cfg.WorkspaceReapInterval), func() {
		st.ReapEmptyWorkspaces(context.Background())
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule workspace reaper")
	}
	if _, err := sched.AddFunc(everySpec(cfg.StaleClientInterval), func() {
		st.SweepStaleClients(context.Background(), cfg.DuplicatePingTimeout)
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule stale-client sweep")
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("broker", cfg.BrokerKind).Str("node_id", nodeID).Msg("msghub listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// everySpec builds a robfig/cron "@every" spec from a duration, the
// way the teacher's internal/sync service parses MSGHUB_*_INTERVAL
// env vars into a scheduling period.
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

func newBroker(cfg *config.Config) (broker.Broker, error) {
	switch cfg.BrokerKind {
	case "nats":
		return broker.NewNats(broker.NATSConfig{
			URL:      cfg.NATSUrl,
			User:     cfg.NATSUser,
			Password: cfg.NATSPassword,
		})
	default:
		return broker.NewRedis(broker.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
}
