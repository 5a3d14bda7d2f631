// devgw runs the reference chat gateway for local development: the websocket
// endpoint plus the chat/notification REST API, all in one process with
// in-memory state.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/freightdesk/permitchat/pkg/auth"
	"github.com/freightdesk/permitchat/pkg/hub"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	addr := env("ADDR", ":8080")
	secret := env("JWT_SECRET", "dev-only-secret")
	nodeID, err := strconv.ParseInt(env("NODE_ID", "1"), 10, 64)
	if err != nil {
		logger.Error("invalid NODE_ID", "error", err)
		os.Exit(1)
	}

	cfg := hub.Config{NodeID: nodeID, Logger: logger}

	// Presence defaults to in-memory; point REDIS_ADDR at a Redis instance to
	// share rooms' member sets across gateways.
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.Presence = hub.NewRedisPresence(redisAddr)
		logger.Info("using redis presence", "addr", redisAddr)
	}

	// Fan-out defaults to in-process; set KAFKA_BROKERS to bridge events
	// across multiple gateway instances.
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		topic := env("KAFKA_TOPIC", "chat-events")
		cfg.Bridge = hub.NewBridge(strings.Split(brokers, ","), topic, logger)
		logger.Info("using kafka bridge", "brokers", brokers, "topic", topic)
	}

	h, err := hub.New(cfg)
	if err != nil {
		logger.Error("hub init failed", "error", err)
		os.Exit(1)
	}
	defer h.Close()

	mgr := auth.NewManager(secret, 24*time.Hour)
	srv := hub.NewServer(h, mgr, logger)

	logger.Info("dev gateway listening", "addr", addr)
	if err := http.ListenAndServe(addr, srv.Routes()); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
