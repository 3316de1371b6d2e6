package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-groupbuy/internal/auth"
	"ms-groupbuy/internal/config"
	"ms-groupbuy/internal/groupbuy/db"
	"ms-groupbuy/internal/kafka"
	"ms-groupbuy/internal/logger"
	"ms-groupbuy/internal/notify"
	notifyapi "ms-groupbuy/internal/notify/api"
)

// Standalone notification gateway. Consumes group events from Kafka and
// fans them out to connected clients over WebSocket and SSE.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	appLog := logger.NewLogger()
	defer appLog.Close()

	// --- PostgreSQL Setup ---
	dsn := "postgres://" + cfg.Database.Username + ":" + cfg.Database.Password +
		"@" + cfg.Database.Host + ":" + cfg.Database.Port + "/" + cfg.Database.Database + "?sslmode=disable"
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to open Postgres: %v", err)
	}
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	// --- Initialize Dependencies ---
	dbLayer := &db.DB{Bun: bunDB}
	verifyToken := auth.NewOIDCVerifier()
	hub := notify.NewHub()
	streamHandler := notify.NewStreamHandler(hub, appLog, cfg.Stream.HeartbeatInterval, verifyToken)
	store := notify.NewStore(bunDB)
	dispatcher := notify.NewDispatcher(store, hub, dbLayer, appLog)
	handler := notifyapi.NewHandler(store, appLog)

	// --- Kafka Consumer ---
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.GroupEvents, cfg.Kafka.GroupID, appLog)
	defer consumer.Close()
	go consumer.Start(consumerCtx, dispatcher.HandleGroupEvent)

	// --- Setup Router ---
	r := chi.NewRouter()

	r.Get("/api/v1/stream", streamHandler.HandleWS)
	r.Get("/api/v1/stream/sse", streamHandler.HandleSSE)

	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware(verifyToken))
		pr.Get("/api/v1/notifications", handler.List)
		pr.Get("/api/v1/notifications/unread-count", handler.UnreadCount)
		pr.Post("/api/v1/notifications/{notificationId}/read", handler.MarkRead)
	})

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:    gatewayPort(),
		Handler: r,
	}

	go func() {
		log.Printf("Notify gateway running on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancelConsumer()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Notify gateway exited gracefully")
}

func gatewayPort() string {
	if port := os.Getenv("GATEWAY_PORT"); port != "" {
		return port
	}
	return ":8081"
}
