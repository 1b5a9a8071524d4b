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

	"github.com/chepyr/go-task-tracker/auth-service/handlers"
	"github.com/chepyr/go-task-tracker/internal/config"
	idb "github.com/chepyr/go-task-tracker/internal/db"
	"github.com/chepyr/go-task-tracker/internal/ratelimit"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	cfg, err := config.Load("SERVER_PORT")
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	dbConn := initDB(cfg)
	defer func() {
		if err := dbConn.Close(); err != nil {
			log.Printf("Error closing database connection: %v", err)
		}
	}()

	// allow max 5 login attempts per 15 minutes from the same IP
	limiter := ratelimit.New(5, 15*time.Minute)
	defer limiter.Stop()

	handler := &handlers.Handler{
		UserRepo:    idb.NewUserRepository(dbConn),
		RateLimiter: limiter,
		JWTSecret:   cfg.JWTSecret,
	}
	mux := http.NewServeMux()
	handler.Register(mux)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	startServer(server, cfg.ServerPort)
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

func startServer(server *http.Server, port string) {
	log.Printf("Starting server on :%s", port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
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
