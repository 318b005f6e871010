package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/quartier/community-app/internal/auth"
	"github.com/quartier/community-app/internal/content"
	"github.com/quartier/community-app/internal/httpapi"
	"github.com/quartier/community-app/internal/idempotency"
	"github.com/quartier/community-app/internal/messaging"
	"github.com/quartier/community-app/internal/notification"
	"github.com/quartier/community-app/internal/ratelimit"
	"github.com/quartier/community-app/internal/report"
	"github.com/quartier/community-app/internal/vote"
	"github.com/quartier/community-app/internal/ws"
)

func main() {
	_ = godotenv.Load()

	listenAddr := envOr("LISTEN_ADDR", ":8080")
	databaseURL := envOr("DATABASE_URL", "postgres://localhost:5432/quartier?sslmode=disable")
	redisAddr := envOr("REDIS_ADDR", "localhost:6379")
	migrationsPath := envOr("MIGRATIONS_PATH", "migrations")

	jwtSecret := os.Getenv("JWT_SECRET")
	tokens, err := auth.NewManager(jwtSecret, auth.DefaultTokenTTL)
	if err != nil {
		log.Fatalf("JWT_SECRET must be set: %v", err)
	}

	// --- PostgreSQL ---
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	cancel()

	if err := runMigrations(db, migrationsPath); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to redis: %v", err)
	}
	cancel()

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "quartier-apiserver"
	natsClient, err := messaging.NewClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Stores and core ---
	contentStore := content.NewStore(db)
	reportStore := report.NewStore(db)
	notificationStore := notification.NewStore(db)

	registry := ws.NewRegistry()
	rooms := ws.NewRooms()
	dispatcher := ws.NewDispatcher(registry, rooms)

	gatewayConfig := ws.DefaultGatewayConfig()
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			gatewayConfig.MaxConnections = n
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			gatewayConfig.WriteTimeout = d
		}
	}
	gateway := ws.NewGateway(gatewayConfig, tokens, contentStore, registry, rooms)
	ws.StartHeartbeat(gateway, ws.DefaultHeartbeatConfig())

	voteEngine := vote.NewEngine(vote.NewStore(db), dispatcher)
	guard := idempotency.NewGuard(rdb, idempotency.DefaultTTL)
	limiter := ratelimit.NewLimiter(rdb)

	// Bridge notifier output back to connected sockets: the notifier writes
	// the notification row and publishes it to notify.user.<id>; whichever
	// server instance holds that user's connections forwards it.
	err = natsClient.SubscribeNotifyAll(func(userID string, data []byte) {
		var n notification.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			log.Printf("apiserver: bad notify payload for user=%s: %v", userID, err)
			return
		}
		dispatcher.EmitNotification(userID, n)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to notify subjects: %v", err)
	}

	api := httpapi.NewServer(httpapi.Deps{
		Tokens:        tokens,
		ContentStore:  contentStore,
		ReportStore:   reportStore,
		Notifications: notificationStore,
		Votes:         voteEngine,
		Dispatcher:    dispatcher,
		Registry:      registry,
		Guard:         guard,
		Limiter:       limiter,
		Events:        natsClient,
		Gateway:       gateway,
	})

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: api.Router(),
	}

	log.Printf("Quartier API server starting")
	log.Printf("  listen_addr: %s", listenAddr)
	log.Printf("  redis_addr:  %s", redisAddr)
	log.Printf("  nats_url:    %s", natsConfig.URL)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	gateway.Shutdown()
	natsClient.Close()
	rdb.Close()
	db.Close()
}

// runMigrations applies any pending SQL migrations at startup.
func runMigrations(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
