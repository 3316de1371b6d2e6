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
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-groupbuy/internal/auth"
	"ms-groupbuy/internal/config"
	"ms-groupbuy/internal/groupbuy"
	"ms-groupbuy/internal/groupbuy/api"
	"ms-groupbuy/internal/groupbuy/db"
	"ms-groupbuy/internal/groupbuy/qr"
	rediswrap "ms-groupbuy/internal/groupbuy/redis"
	"ms-groupbuy/internal/kafka"
	"ms-groupbuy/internal/logger"
)

// Standalone group-purchase API. Runs without the notification gateway;
// events still go to Kafka for whoever consumes them.
func main() {
	_ = godotenv.Load()

	ctx := context.Background()
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
	db.Migrate(bunDB)

	// --- Redis Setup ---
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	// --- Initialize Dependencies ---
	dbLayer := &db.DB{Bun: bunDB}
	cache := rediswrap.NewRedis(redisClient)
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.GroupEvents)
	defer producer.Close()

	service := groupbuy.NewService(dbLayer, cache, producer, appLog)
	invites := qr.NewInviteGenerator(inviteSecret())
	handler := api.NewHandler(service, invites, appLog)

	// --- Setup Router ---
	r := chi.NewRouter()

	r.Get("/api/v1/group-purchases/{groupId}", handler.GetGroup)

	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware(auth.NewOIDCVerifier()))
		pr.Post("/api/v1/group-purchases/{groupId}/join", handler.Join)
		pr.Delete("/api/v1/group-purchases/{groupId}/leave", handler.Leave)
		pr.Get("/api/v1/group-purchases/{groupId}/participation", handler.GetParticipation)
		pr.Get("/api/v1/group-purchases/{groupId}/invite-qr", handler.InviteQR)
	})

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Group-buy service running on %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Group-buy service exited gracefully")
}

func inviteSecret() string {
	if secret := os.Getenv("INVITE_SECRET"); secret != "" {
		return secret
	}
	return "groupbuy-invite-secret"
}
