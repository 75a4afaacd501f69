package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/geofence-server/internal/api"
	"github.com/smukkama/geofence-server/internal/broadcast"
	"github.com/smukkama/geofence-server/internal/connection"
	"github.com/smukkama/geofence-server/internal/database"
	"github.com/smukkama/geofence-server/internal/engine"
	"github.com/smukkama/geofence-server/internal/history"
	"github.com/smukkama/geofence-server/internal/queue"
	"github.com/smukkama/geofence-server/internal/server"
	"github.com/smukkama/geofence-server/internal/state"
	"github.com/smukkama/geofence-server/internal/timer"
	"github.com/smukkama/geofence-server/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Geofence Server...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var workers sync.WaitGroup
	goRun := func(fn func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			fn(ctx)
		}()
	}

	// Connect to database
	db, err := database.Connect(cfg.Database.ConnectionString(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	health := map[string]api.HealthCheck{"postgres": db.Ping}

	// Vehicle state mirror
	var (
		mirror  state.Mirror
		locator api.Locator
	)
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		redisMirror := state.NewRedisMirror(redisClient, 0)
		mirror, locator = redisMirror, redisMirror
		health["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		fmt.Println("Connected to Redis")
	}
	store := state.NewStore(mirror)

	// Location history
	var historySink engine.HistorySink
	if cfg.History.Enabled {
		pool, err := history.Connect(ctx, cfg.Database.URL())
		if err != nil {
			log.Fatalf("Failed to connect history pool: %v", err)
		}
		defer pool.Close()
		writer := history.NewWriter(pool, cfg.History.ChannelSize, cfg.History.BatchSize, cfg.History.FlushInterval)
		historySink = writer
		goRun(writer.Run)
		fmt.Printf("History writer started (batch=%d, flush=%s)\n", cfg.History.BatchSize, cfg.History.FlushInterval)
	}

	// Alert delivery
	policy, err := broadcast.ParsePolicy(cfg.Broadcast.OverflowPolicy)
	if err != nil {
		log.Fatalf("Invalid broadcast policy: %v", err)
	}
	hub := broadcast.NewHub(cfg.Broadcast.SubscriberBuffer, cfg.Broadcast.QueueSize, policy)
	goRun(hub.Run)
	sinks := []engine.AlertSink{hub}

	if cfg.Kafka.PublishAlerts {
		if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, 1, 1); err != nil {
			fmt.Printf("Note: Topic creation failed (may already exist): %v\n", err)
		}
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
		defer producer.Close()
		forwarder := queue.NewAlertForwarder(producer, cfg.Kafka.ForwardQueueSize)
		sinks = append(sinks, forwarder)
		goRun(forwarder.Run)
		fmt.Printf("Forwarding alerts to Kafka topic %s\n", cfg.Kafka.TopicAlerts)
	}

	// Evaluation engine
	eng := engine.New(db, store, historySink, engine.Options{
		ExitOnDeactivate:  cfg.Engine.ExitOnDeactivate,
		RuleCacheValidity: cfg.Engine.GeofenceRefreshInterval,
	}, sinks...)
	if err := eng.Preload(ctx); err != nil {
		log.Fatalf("Failed to preload engine: %v", err)
	}
	snap, err := eng.Snapshot(ctx)
	if err != nil {
		log.Fatalf("Failed to load geofences: %v", err)
	}
	fmt.Printf("Engine ready (active geofences=%d, tracked vehicles=%d)\n", len(snap.Fences), store.Len())

	// Timer scheduler drives tracker timeouts and the geofence refresh
	scheduler := timer.NewScheduler(10)
	scheduler.Start()
	defer scheduler.Stop()
	if err := scheduler.Every("geofence-refresh", cfg.Engine.GeofenceRefreshInterval, func() {
		if err := eng.RefreshGeofences(ctx); err != nil {
			log.Printf("engine: periodic refresh err=%v", err)
		}
		eng.InvalidateRules()
	}); err != nil {
		log.Fatalf("Failed to schedule geofence refresh: %v", err)
	}

	// TCP tracker ingest
	connManager := connection.NewManager(cfg.TCPServer.MaxConnections)
	if cfg.TCPServer.Enabled {
		tcpServer := server.NewTCPServer(&cfg.TCPServer, connManager, scheduler, eng)
		if err := tcpServer.Start(); err != nil {
			log.Fatalf("Failed to start TCP server: %v", err)
		}
		defer tcpServer.Stop()
	}

	// Kafka location ingest
	if cfg.Kafka.ConsumeLocations {
		consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicLocations, cfg.Kafka.ConsumerGroup)
		defer consumer.Close()
		goRun(queue.NewLocationConsumer(consumer, eng).Run)
		fmt.Printf("Consuming locations from Kafka topic %s\n", cfg.Kafka.TopicLocations)
	}

	// HTTP API
	handler := api.NewHandler(eng, hub, locator, health)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPServer.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Print statistics periodically
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			stats := connManager.Stats()
			timerStats := scheduler.Stats()
			fmt.Printf("\n--- Server Statistics ---\n")
			fmt.Printf("Tracker Connections: %d / %d\n", stats.TotalConnections, stats.MaxConnections)
			fmt.Printf("Tracked Vehicles: %d\n", store.Len())
			fmt.Printf("Alert Subscribers: %d\n", hub.Count())
			fmt.Printf("Scheduled Timers: %d\n", timerStats.ScheduledTasks)
			fmt.Printf("------------------------\n\n")
		}
	}()

	fmt.Println("\n✓ Geofence Server is running")
	fmt.Printf("✓ HTTP API listening on port %d\n", cfg.HTTPServer.Port)
	if cfg.TCPServer.Enabled {
		fmt.Printf("✓ TCP trackers on port %d\n", cfg.TCPServer.Port)
	}
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}

	cancel()
	workers.Wait()
}
