/*
main.go - Application entry point

PURPOSE:
  Starts the campus points API. Wires configuration, the ledger store,
  the optional Redis leaderboard and the reconciliation job, then serves
  HTTP until SIGINT/SIGTERM.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Open the store (SQLite or PostgreSQL)
  3. Connect Redis and rebuild the leaderboard (when enabled)
  4. Create the engine, handler and router
  5. Start the reconciliation scheduler (when enabled)
  6. Serve with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    Overrides server.port
  -db      Overrides database.path (SQLite only)

ENVIRONMENT:
  Every setting can be overridden with POINTS_<SECTION>_<KEY>, e.g.
  POINTS_DATABASE_DRIVER=postgres or POINTS_REDIS_ENABLED=true.

EXAMPLES:
  ./server -db=":memory:"
  ./server -config=./points.yaml -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings and defaults
  - cmd/seed: Catalog and demo data loader
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/campusengage/points-engine/api"
	"github.com/campusengage/points-engine/config"
	"github.com/campusengage/points-engine/leaderboard"
	"github.com/campusengage/points-engine/ledger"
	"github.com/campusengage/points-engine/logging"
	"github.com/campusengage/points-engine/points"
	"github.com/campusengage/points-engine/store"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log := logging.New(cfg.Logging)

	st, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer st.Close()
	log.WithField("driver", cfg.Database.Driver).Info("database ready")

	engineOpts := []points.Option{
		points.WithCodeGenerator(points.NewCodeGenerator(cfg.Shop.CodePrefix)),
		points.WithLogger(log.WithField("component", "engine")),
	}
	var handlerOpts []api.HandlerOption

	var board *leaderboard.Board
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to redis at %s: %v", cfg.Redis.Addr, err)
		}

		board = leaderboard.New(rdb, cfg.Redis.Key, st)
		n, err := board.Rebuild(context.Background())
		if err != nil {
			log.Fatalf("Failed to build leaderboard: %v", err)
		}
		log.WithField("students", n).Info("leaderboard loaded")

		engineOpts = append(engineOpts, points.WithObserver(board))
		handlerOpts = append(handlerOpts, api.WithRanker(board))
	}

	engine := points.NewEngine(st, engineOpts...)
	handler := api.NewHandler(engine, append(handlerOpts, api.WithLogger(log))...)
	router := api.NewRouter(handler)

	if cfg.Reconcile.Enabled {
		sched := api.NewReconciliationScheduler(engine, cfg.Reconcile.Schedule, cfg.Reconcile.Repair, log)
		if board != nil {
			// resync the sorted set too, in case Redis lost writes
			sched.AfterRun = func(ctx context.Context, _ *ledger.ReconcileReport) {
				if _, err := board.Rebuild(ctx); err != nil {
					log.WithError(err).Warn("leaderboard rebuild failed")
				}
			}
		}
		if err := sched.Start(); err != nil {
			log.Fatalf("Failed to start reconciliation: %v", err)
		}
		defer sched.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Infof("Server starting on http://localhost:%d", cfg.Server.Port)
		log.Infof("API available at http://localhost:%d/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
		return
	}

	log.Info("Server stopped")
}
