package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
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
	"ms-groupbuy/internal/database/migrations"
	"ms-groupbuy/internal/groupbuy"
	gbapi "ms-groupbuy/internal/groupbuy/api"
	gbdb "ms-groupbuy/internal/groupbuy/db"
	"ms-groupbuy/internal/groupbuy/qr"
	rediswrap "ms-groupbuy/internal/groupbuy/redis"
	"ms-groupbuy/internal/kafka"
	"ms-groupbuy/internal/logger"
	"ms-groupbuy/internal/metrics"
	"ms-groupbuy/internal/models"
	"ms-groupbuy/internal/notify"
	notifyapi "ms-groupbuy/internal/notify/api"
)

// subscribeGroupEnds closes groups whose end-time keys expire. Redis must
// have keyspace notifications enabled for expired events (notify-keyspace-
// events includes "Ex").
func subscribeGroupEnds(rdb *redis.Client, service *groupbuy.Service, log *logger.Logger) {
	ctx := context.Background()

	val, err := rdb.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		log.Error("REDIS", fmt.Sprintf("Failed to get keyspace config: %v", err))
	} else if len(val) >= 2 {
		setting, _ := val[1].(string)
		if !strings.Contains(setting, "x") && !strings.Contains(setting, "E") {
			log.Warn("REDIS", "Keyspace notifications not configured for expiry events!")
		}
	}

	pubsub := rdb.PSubscribe(ctx, "__keyevent@0__:expired")
	log.Info("REDIS", "Subscribed to Redis keyevent expired notifications")

	go func() {
		prefix := rediswrap.EndTimerPrefix()
		for msg := range pubsub.Channel() {
			if !strings.HasPrefix(msg.Payload, prefix) {
				continue
			}
			groupID := strings.TrimPrefix(msg.Payload, prefix)
			log.LogGroup("EXPIRE", groupID, "end time reached, closing group")

			if err := service.Close(context.Background(), groupID); err != nil {
				log.Error("GROUP", fmt.Sprintf("Failed to close expired group %s: %v", groupID, err))
			}
		}
	}()
}

// noopPublisher satisfies the publisher contract when Kafka is disabled.
type noopPublisher struct{}

func (noopPublisher) PublishParticipantJoined(models.GroupPurchase, string) error { return nil }
func (noopPublisher) PublishParticipantLeft(models.GroupPurchase, string) error { return nil }
func (noopPublisher) PublishGroupCompleted(models.GroupPurchase) error { return nil }
func (noopPublisher) PublishGroupClosed(models.GroupPurchase) error { return nil }

func main() {
	_ = godotenv.Load()

	log := logger.NewLogger()
	defer log.Close()

	cfg := config.Load()
	ctx := context.Background()

	// --- PostgreSQL Setup ---
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open Postgres: %v", err))
	}
	defer sqldb.Close()
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	// Versioned migrations when a migrations directory is configured,
	// otherwise the dev/test schema bootstrap.
	if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
		runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
			MigrationsDir: dir,
			AutoMigrate:   true,
		}, log)
		if err := runner.Initialize(); err != nil {
			log.Fatal("MIGRATE", fmt.Sprintf("Migration init failed: %v", err))
		}
		if err := runner.Up(); err != nil {
			log.Fatal("MIGRATE", fmt.Sprintf("Migration failed: %v", err))
		}
	} else if os.Getenv("AUTO_MIGRATE") != "false" {
		bootstrapSchema(bunDB, os.Getenv("SEED_DATA") == "true", log)
	}

	// --- Redis Setup ---
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	// --- Dependencies ---
	dbLayer := &gbdb.DB{Bun: bunDB}
	cache := rediswrap.NewRedis(redisClient)

	var publisher groupbuy.KafkaPublisher = noopPublisher{}
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.Topics.GroupEvents}); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic bootstrap failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.GroupEvents)
		publisher = producer
	}

	service := groupbuy.NewService(dbLayer, cache, publisher, log)
	invites := qr.NewInviteGenerator(getEnv("INVITE_SECRET", "groupbuy-invite-secret"))
	gbHandler := gbapi.NewHandler(service, invites, log)

	verifyToken := auth.NewOIDCVerifier()

	hub := notify.NewHub()
	streamHandler := notify.NewStreamHandler(hub, log, cfg.Stream.HeartbeatInterval, verifyToken)
	store := notify.NewStore(bunDB)
	dispatcher := notify.NewDispatcher(store, hub, dbLayer, log)
	notifyHandler := notifyapi.NewHandler(store, log)

	collector := metrics.NewCollector(512)

	// --- Kafka Consumer ---
	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.GroupEvents, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		go consumer.Start(consumerCtx, dispatcher.HandleGroupEvent)
	}

	// --- End-time watcher ---
	subscribeGroupEnds(redisClient, service, log)
	if groups, err := dbLayer.ListActiveGroups(ctx); err != nil {
		log.Error("GROUP", fmt.Sprintf("Failed to list active groups: %v", err))
	} else {
		for _, group := range groups {
			if err := cache.ArmEndTimer(ctx, group.GroupID, group.EndTime); err != nil {
				log.Error("GROUP", fmt.Sprintf("Failed to arm end timer for %s: %v", group.GroupID, err))
			}
		}
		log.Info("GROUP", fmt.Sprintf("Armed end timers for %d active groups", len(groups)))
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(collector.Middleware())

	r.Handle("/metrics", collector.PrometheusHandler())
	r.Handle("/internal/requests", collector.RecentHandler())

	// Stream endpoints authenticate via token query parameter; browsers
	// cannot set headers on WebSocket or EventSource requests.
	r.Get("/api/v1/stream", streamHandler.HandleWS)
	r.Get("/api/v1/stream/sse", streamHandler.HandleSSE)

	r.Get("/api/v1/group-purchases/{groupId}", gbHandler.GetGroup)

	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware(verifyToken))
		pr.Post("/api/v1/group-purchases/{groupId}/join", gbHandler.Join)
		pr.Delete("/api/v1/group-purchases/{groupId}/leave", gbHandler.Leave)
		pr.Get("/api/v1/group-purchases/{groupId}/participation", gbHandler.GetParticipation)
		pr.Get("/api/v1/group-purchases/{groupId}/invite-qr", gbHandler.InviteQR)
		pr.Get("/api/v1/notifications", notifyHandler.List)
		pr.Get("/api/v1/notifications/unread-count", notifyHandler.UnreadCount)
		pr.Post("/api/v1/notifications/{notificationId}/read", notifyHandler.MarkRead)
	})

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("Group-buy service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("SERVER", "Shutdown signal received, cleaning up...")

	cancelConsumer()
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error("KAFKA", fmt.Sprintf("Producer close failed: %v", err))
		}
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("SERVER", fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	log.Info("SERVER", "Server exited gracefully")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
