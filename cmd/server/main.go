/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the wash engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment, flags override)
  2. Initialize SQLite store
  3. Wire metrics, notifier, and the domain components
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Drain the notification dispatcher
  4. Close database connection
  5. Exit

SEE ALSO:
  - config/config.go: Environment configuration
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/washywashy/wash-engine/api"
	"github.com/washywashy/wash-engine/bay"
	"github.com/washywashy/wash-engine/config"
	"github.com/washywashy/wash-engine/core"
	"github.com/washywashy/wash-engine/loyalty"
	"github.com/washywashy/wash-engine/metrics"
	"github.com/washywashy/wash-engine/notify"
	"github.com/washywashy/wash-engine/queue"
	"github.com/washywashy/wash-engine/store/sqlite"
	"github.com/washywashy/wash-engine/wash"
)

func main() {
	cfg := config.Load()

	// Flags win over the environment.
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	// Store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Shared infrastructure
	clock := core.SystemClock{}
	ids := core.UUIDGenerator{}
	locks := core.NewKeyedMutex()
	m := metrics.New(prometheus.DefaultRegisterer)

	// Notification dedup: Redis when configured, in-memory otherwise.
	var dedup notify.Dedup
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to reach redis at %s: %v", cfg.RedisAddr, err)
		}
		dedup = notify.NewRedisDedup(client, "")
		log.Printf("Notification dedup backed by redis at %s", cfg.RedisAddr)
	} else {
		dedup = notify.NewMemoryDedup(clock)
	}

	dispatcher := notify.NewDispatcher(notify.LogNotifier{}, cfg.NotifyBuffer)
	defer dispatcher.Close()

	// Domain components
	queueMgr := queue.NewManager(store, clock, ids, locks, dispatcher, dedup, m)
	bays := bay.NewAllocator(store, clock, ids, locks, m)
	ledger := loyalty.NewLedger(store, clock, ids, locks, m)
	washes := wash.NewLifecycle(store, clock, ids, locks, queueMgr, bays, ledger, dispatcher, m)

	// HTTP
	handler := api.NewHandler(store, queueMgr, bays, ledger, washes, ids)
	router := api.NewRouter(handler, prometheus.DefaultGatherer)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
