package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veil/chat-app/internal/history"
	"github.com/veil/chat-app/internal/ignore"
	"github.com/veil/chat-app/internal/matching"
	"github.com/veil/chat-app/internal/messaging"
	"github.com/veil/chat-app/internal/metrics"
	"github.com/veil/chat-app/internal/presence"
	"github.com/veil/chat-app/internal/queue"
	"github.com/veil/chat-app/internal/room"
)

func main() {
	log.Println("Starting Veil matcher service...")

	// Redis setup.
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "veil-matcher"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// Postgres setup for durable conversation records. Optional: without a
	// DSN, matches still form but leave no history.
	var conversations matching.ConversationLog
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn != "" {
		pgCtx, pgCancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := history.Open(pgCtx, dsn)
		pgCancel()
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		defer db.Close()

		if err := history.Migrate(db); err != nil {
			log.Fatalf("failed to migrate history schema: %v", err)
		}
		conversations = history.NewStore(db)
	} else {
		log.Println("POSTGRES_DSN not set, conversation history disabled")
	}

	workerCount := 32
	if v := os.Getenv("MATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			workerCount = n
		}
	}

	engine := matching.NewEngine(
		queue.NewStore(rdb),
		presence.NewStatus(rdb, 0),
		ignore.NewStore(rdb, 0),
		room.NewStore(rdb),
		presence.NewLiveness(rdb, "", 0),
		messaging.NewRoomNotifier(natsClient),
		conversations,
	)

	svc := matching.NewService(engine, natsClient, workerCount)
	if err := svc.Start(); err != nil {
		log.Fatalf("failed to start matcher service: %v", err)
	}

	// Metrics and health endpoint.
	metricsAddr := ":9091"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	log.Printf("Veil matcher service running")
	log.Printf("  redis_addr: %s", redisAddr)
	log.Printf("  nats_url:   %s", natsConfig.URL)
	log.Printf("  workers:    %d", workerCount)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	svc.Stop()
	natsClient.Close()
	rdb.Close()
}
