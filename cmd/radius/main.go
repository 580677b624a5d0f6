package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vpnradius/backend/internal/config"
	"github.com/vpnradius/backend/internal/database"
	"github.com/vpnradius/backend/internal/logstore"
	"github.com/vpnradius/backend/internal/models"
	"github.com/vpnradius/backend/internal/radius"
	"github.com/vpnradius/backend/internal/scheduler"
	"github.com/vpnradius/backend/internal/services"
	"github.com/vpnradius/backend/internal/sessionbuffer"
)

func main() {
	log.Println("Starting VPN RADIUS server...")

	// Load configuration
	cfg := config.Load()

	// Connect to database (and Redis, best effort)
	if err := database.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Run migrations (just in case)
	if err := models.AutoMigrate(database.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	logs := logstore.New(database.DB, cfg.LogLevel)
	defer logs.Close()

	// Wire the core: buffer, registry, engines, dispatcher
	buffer := sessionbuffer.New(database.DB, logs)
	registry := radius.NewRegistry(database.DB, database.Redis, logs)
	authEngine := radius.NewAuthEngine(database.DB, buffer, logs, cfg)
	acctEngine := radius.NewAcctEngine(buffer, logs)

	server := radius.NewServer(cfg, registry, authEngine, acctEngine, logs)
	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start RADIUS server: %v", err)
	}

	// Background jobs
	cleanup := services.NewCleanupService(database.DB, logs, cfg)
	stats := services.NewStatsService(database.DB, logs)

	sched := scheduler.New(logs)
	addJob := func(name string, interval time.Duration, fn func() error) {
		if err := sched.Add(name, interval, fn); err != nil {
			log.Fatalf("Failed to register %s job: %v", name, err)
		}
	}
	addJob("session_buffer_flush", time.Duration(cfg.SessionBufferFlushInterval)*time.Second, func() error {
		_, err := buffer.Flush()
		return err
	})
	addJob("dead_session_cleanup", time.Duration(cfg.DeadSessionInterval)*time.Second, cleanup.DeadSessions)
	addJob("inactive_session_cleanup", time.Duration(cfg.InactiveSessionInterval)*time.Second, cleanup.InactiveSessions)
	addJob("radius_log_cleanup", time.Duration(cfg.LogCleanupInterval)*time.Second, cleanup.RadiusLogs)
	addJob("stats_sampler", time.Duration(cfg.StatsInterval)*time.Second, stats.Sample)
	sched.Start()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down RADIUS server...")

	// Stop accepting packets, then jobs, then drain the buffer. Order
	// matters: nothing may enqueue after the final flush.
	server.Shutdown()
	sched.Stop()
	buffer.Shutdown()
}
