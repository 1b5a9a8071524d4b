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

	"github.com/chepyr/go-task-tracker/internal/config"
	idb "github.com/chepyr/go-task-tracker/internal/db"
	"github.com/chepyr/go-task-tracker/internal/scheduler"
	"github.com/chepyr/go-task-tracker/tasks-service/handlers"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	cfg, err := config.Load("SERVER_PORT_TASKS")
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	dbConn := initDB(cfg)
	defer dbConn.Close()

	handler := handlers.New(dbConn, cfg)
	defer handler.Close()

	sched := initScheduler(cfg, handler)
	server := initServer(cfg, handler)

	sched.Start()
	startServer(server, cfg.ServerPort)
	sched.Stop()
}

func initDB(cfg *config.Config) *sql.DB {
	dbConn, err := idb.Connect(cfg.DBDriver, cfg.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := idb.Migrate(ctx, dbConn); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}
	return dbConn
}

// initScheduler registers the position compaction job. A zero interval
// disables it.
func initScheduler(cfg *config.Config, handler *handlers.Handler) *scheduler.Scheduler {
	sched := scheduler.New(time.UTC)
	if cfg.CompactionInterval == 0 {
		log.Println("Position compaction disabled")
		return sched
	}
	_, err := sched.Every("compact-positions", cfg.CompactionInterval, time.Minute, func(ctx context.Context) error {
		n, err := handler.TaskRepo.CompactPositions(ctx)
		if n > 0 {
			log.Printf("Compacted positions in %d columns", n)
		}
		return err
	})
	if err != nil {
		log.Fatalf("Failed to schedule compaction: %v", err)
	}
	return sched
}

func initServer(cfg *config.Config, handler *handlers.Handler) *http.Server {
	mux := http.NewServeMux()
	handler.Register(mux)
	return &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func startServer(server *http.Server, port string) {
	log.Printf("Starting tasks server on :%s", port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
