package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tidewater-io/cascade/internal/dag"
	"github.com/tidewater-io/cascade/internal/engine"
	"github.com/tidewater-io/cascade/internal/eventbus"
	"github.com/tidewater-io/cascade/internal/state"
	"github.com/tidewater-io/cascade/internal/storage"
	"github.com/tidewater-io/cascade/pkg/api"
	"github.com/tidewater-io/cascade/pkg/api/handlers"
	"github.com/tidewater-io/cascade/pkg/api/middleware"
	"github.com/tidewater-io/cascade/pkg/models"
)

const version = "0.1.0"

func main() {
	log.Printf("Starting Cascade Engine Server v%s", version)

	loadConfig()

	if viper.GetString("env") == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(viper.GetString("log.level")); err == nil {
		logger.SetLevel(level)
	}

	store, entities, db, health, cleanup := buildStorage()
	defer cleanup()

	bag := dag.NewBag()
	workflowDir := viper.GetString("workflows.dir")
	if _, err := os.Stat(workflowDir); err == nil {
		count, err := dag.NewParser().LoadDirectory(workflowDir, bag)
		if err != nil {
			log.Fatalf("Failed to load workflow definitions: %v", err)
		}
		log.Printf("Loaded %d workflow definitions from %s", count, workflowDir)
	} else {
		log.Printf("Workflow directory %s not found; starting with an empty registry", workflowDir)
	}
	for _, wf := range bag.List() {
		if err := store.SaveWorkflowRegistration(context.Background(), wf); err != nil {
			log.Printf("Failed to record workflow registration %s: %v", wf.ID, err)
		}
	}

	publisher := buildPublisher(db, health)
	bus := eventbus.NewBus()

	metricsRegistry := prometheus.NewRegistry()
	eng, err := engine.New(engine.Options{
		Bag:       bag,
		Store:     store,
		Entities:  entities,
		Bus:       bus,
		Publisher: publisher,
		Metrics:   engine.NewMetrics(metricsRegistry),
		Config:    engineConfig(),
	})
	if err != nil {
		log.Fatalf("Failed to assemble engine: %v", err)
	}

	registerHooks(eng)

	var bridge *eventbus.NATSBridge
	if natsURL := viper.GetString("nats.url"); natsURL != "" {
		bridge, err = eventbus.NewNATSBridge(natsURL, bus)
		if err != nil {
			log.Fatalf("Failed to connect NATS bridge: %v", err)
		}
		if err := bridge.Start(); err != nil {
			log.Fatalf("Failed to start NATS bridge: %v", err)
		}
		defer bridge.Close()
		log.Printf("NATS event bridge connected to %s", natsURL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	routerCfg := api.RouterConfig{
		Engine:  eng,
		Bag:     bag,
		Logger:  logger,
		Metrics: metricsRegistry,
		Health:  health,
	}
	if viper.GetBool("auth.enabled") {
		routerCfg.JWT = middleware.DefaultJWTConfig()
	}
	if viper.GetBool("rate_limit.enabled") {
		limiter := middleware.NewRateLimiter(
			viper.GetFloat64("rate_limit.requests_per_second"),
			viper.GetInt("rate_limit.burst"),
		)
		defer limiter.Stop()
		routerCfg.RateLimit = limiter
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", viper.GetString("server.port")),
		Handler: api.NewRouter(routerCfg),
	}

	go func() {
		log.Printf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		log.Printf("Engine shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}

func loadConfig() {
	viper.SetConfigName("cascade")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/cascade")
	viper.SetEnvPrefix("CASCADE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("env", "development")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("workflows.dir", "workflows")
	viper.SetDefault("db.enabled", false)
	viper.SetDefault("db.migrations_path", "migrations")
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests_per_second", 10.0)
	viper.SetDefault("rate_limit.burst", 20)
	viper.SetDefault("engine.worker_count", 5)
	viper.SetDefault("engine.queue_size", 100)
	viper.SetDefault("engine.hook_depth_limit", 8)
	viper.SetDefault("engine.default_max_attempts", 3)
	viper.SetDefault("engine.sweep_schedule", "@every 1s")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatalf("Failed to read config file: %v", err)
		}
		log.Println("No config file found; using defaults and environment")
	}
}

func engineConfig() *engine.Config {
	cfg := engine.DefaultConfig()
	cfg.WorkerCount = viper.GetInt("engine.worker_count")
	cfg.QueueSize = viper.GetInt("engine.queue_size")
	cfg.HookDepthLimit = viper.GetInt("engine.hook_depth_limit")
	cfg.DefaultMaxAttempts = viper.GetInt("engine.default_max_attempts")
	cfg.SweepSchedule = viper.GetString("engine.sweep_schedule")
	return cfg
}

// buildStorage returns the instance store, the entity store, the DB
// handle (nil when running in memory), the health checks for the backing
// services, and a cleanup function.
func buildStorage() (storage.Store, storage.EntityStore, *storage.DB, map[string]handlers.HealthCheck, func()) {
	health := make(map[string]handlers.HealthCheck)

	if !viper.GetBool("db.enabled") {
		log.Println("Database disabled; using in-memory store")
		mem := storage.NewMemoryStore()
		return mem, mem, nil, health, func() {}
	}

	dbCfg := storage.DefaultConfig()
	if v := viper.GetString("db.host"); v != "" {
		dbCfg.Host = v
	}
	if v := viper.GetString("db.port"); v != "" {
		dbCfg.Port = v
	}
	if v := viper.GetString("db.user"); v != "" {
		dbCfg.User = v
	}
	if v := viper.GetString("db.password"); v != "" {
		dbCfg.Password = v
	}
	if v := viper.GetString("db.name"); v != "" {
		dbCfg.DBName = v
	}
	if v := viper.GetString("db.sslmode"); v != "" {
		dbCfg.SSLMode = v
	}

	if err := storage.RunMigrations(dbCfg, viper.GetString("db.migrations_path")); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	db, err := storage.NewDB(dbCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	health["database"] = func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.Health(ctx)
	}

	gormStore := storage.NewGormStore(db.DB)
	return gormStore, gormStore, db, health, func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}
}

// buildPublisher assembles the transition publisher: history table when
// the database is on, Redis pub/sub when configured, both when both.
func buildPublisher(db *storage.DB, health map[string]handlers.HealthCheck) state.Publisher {
	var publishers []state.Publisher

	if db != nil {
		publishers = append(publishers, state.NewHistoryPublisher(db.DB))
	}

	if addr := viper.GetString("redis.addr"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		health["redis"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(ctx).Err()
		}
		log.Printf("Publishing state transitions to Redis at %s", addr)
		publishers = append(publishers, state.NewRedisPublisher(client))
	}

	switch len(publishers) {
	case 0:
		return &state.NoOpPublisher{}
	case 1:
		return publishers[0]
	default:
		return state.NewMultiPublisher(publishers...)
	}
}

// registerHooks loads hook declarations from the hooks key of the
// config file. The declarations are re-encoded through JSON so the Hook
// struct's snake_case field names apply.
func registerHooks(eng *engine.Engine) {
	raw := viper.Get("hooks")
	if raw == nil {
		return
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		log.Fatalf("Failed to read hook declarations: %v", err)
	}
	var hookDefs []*models.Hook
	if err := json.Unmarshal(encoded, &hookDefs); err != nil {
		log.Fatalf("Failed to parse hook declarations: %v", err)
	}
	for _, hook := range hookDefs {
		if err := eng.Hooks().Register(hook); err != nil {
			log.Fatalf("Failed to register hook %s: %v", hook.ID, err)
		}
	}
	if len(hookDefs) > 0 {
		log.Printf("Registered %d event hooks", len(hookDefs))
	}
}
