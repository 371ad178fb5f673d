// Package main provides the cloudbackend server executable: the REST and
// WebSocket API, the push receiver and the message retention sweeper.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coregx/cloudbackend"
	cbfirestore "github.com/coregx/cloudbackend/adapters/firestore"
	"github.com/coregx/cloudbackend/adapters/relica"
	"github.com/coregx/cloudbackend/cmd/cloudbackend-server/internal/api"
	"github.com/coregx/cloudbackend/cmd/cloudbackend-server/internal/config"
	"github.com/coregx/cloudbackend/push"
	"github.com/coregx/cloudbackend/push/gcppush"
	"github.com/coregx/cloudbackend/push/redispush"
	"github.com/coregx/cloudbackend/retry"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:          "cloudbackend-server",
		Short:        "Message store and push dispatch server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file (optional)")

	root.AddCommand(newServeCommand(&cfgPath))
	root.AddCommand(newMigrateCommand(&cfgPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and push receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg.Logging, os.Stderr))
		},
	}
}

func newMigrateCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Store != config.StoreSQL {
				return fmt.Errorf("migrate requires the %q store, configured %q", config.StoreSQL, cfg.Store)
			}
			logger := newLogger(cfg.Logging, os.Stderr)

			db, err := openDB(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			prefix := cfg.Database.Prefix
			if prefix == "" {
				prefix = cloudbackend.DefaultTablePrefix
			}
			if err := cloudbackend.Migrate(cmd.Context(), db, cfg.Database.Driver, prefix); err != nil {
				return err
			}
			logger.Info().Str("driver", cfg.Database.Driver).Str("prefix", prefix).Msg("Migrations applied.")
			return nil
		},
	}
}

func newLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "cloudbackend").Logger()
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

// openStore returns the configured entity service and a cleanup function.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cloudbackend.EntityService, func(), error) {
	switch cfg.Store {
	case config.StoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("create firestore client: %w", err)
		}
		store, err := cbfirestore.NewEntityStore(cbfirestore.Config{
			ProjectID:      cfg.Firestore.ProjectID,
			CollectionName: cfg.Firestore.Collection,
		}, client, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		logger.Info().Str("project_id", cfg.Firestore.ProjectID).Msg("Firestore entity store ready.")
		return store, func() { _ = client.Close() }, nil

	default:
		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		repo, err := relica.Open(ctx, db, cfg.Database.Driver, cfg.Database.Prefix)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info().Str("driver", cfg.Database.Driver).Msg("SQL entity store ready.")
		return repo, func() { _ = db.Close() }, nil
	}
}

// transport is both ends of a push transport.
type transport interface {
	push.Notifier
	push.Source
}

// openTransport returns the configured push transport and a cleanup function.
func openTransport(ctx context.Context, cfg config.PushConfig, logger zerolog.Logger) (transport, func(), error) {
	switch cfg.Transport {
	case config.PushRedis:
		t, err := redispush.New(ctx, redispush.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return t, func() { _ = t.Close() }, nil

	case config.PushGCP:
		client, err := pubsub.NewClient(ctx, cfg.GCP.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("create pubsub client: %w", err)
		}
		t, err := gcppush.New(client, gcppush.Config{
			TopicID:        cfg.GCP.TopicID,
			SubscriptionID: cfg.GCP.SubscriptionID,
		}, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		if err := t.CheckExists(ctx); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return t, func() {
			t.Stop()
			_ = client.Close()
		}, nil

	default:
		l := push.NewLoopback(cfg.Buffer)
		return l, func() { _ = l.Close() }, nil
	}
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().Str("version", api.Version).Str("store", cfg.Store).Str("push", cfg.Push.Transport).Msg("Starting cloudbackend server.")
	cbLogger := cloudbackend.NewZerologLogger(logger)

	entities, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tr, closeTransport, err := openTransport(ctx, cfg.Push, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	pool, err := cloudbackend.NewPoolExecutor(cfg.Dispatch.PoolSize, cbLogger)
	if err != nil {
		return err
	}
	defer pool.Release()

	manager, err := cloudbackend.NewMessagingManager(
		cloudbackend.WithEntityService(entities),
		cloudbackend.WithLogger(cbLogger),
		cloudbackend.WithNotifier(tr),
		cloudbackend.WithExecutor(pool),
		cloudbackend.WithObserver(cloudbackend.NewLoggingObserver(cbLogger)),
	)
	if err != nil {
		return err
	}

	if cfg.Retention.Schedule != "" {
		sweeper, err := cloudbackend.NewRetentionSweeper(
			cloudbackend.WithSweeperEntityService(entities),
			cloudbackend.WithSweeperLogger(cbLogger),
			cloudbackend.WithSweepBatchSize(cfg.Retention.BatchSize),
		)
		if err != nil {
			return err
		}
		if err := sweeper.Start(cfg.Retention.Schedule); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	strategy := retry.DefaultStrategy()
	strategy.MaxAttempts = cfg.Push.ReconnectAttempts
	receiverDone := make(chan error, 1)
	if cfg.Push.Transport == config.PushGCP && cfg.Push.GCP.SubscriptionID == "" {
		logger.Info().Msg("No Pub/Sub subscription configured, push receiver disabled.")
	} else {
		go func() {
			receiverDone <- push.Run(ctx, tr, func(ctx context.Context, topicID string) {
				manager.HandlePushNotification(ctx, topicID)
			}, strategy, logger)
		}()
	}

	handler, err := api.NewHandler(manager, entities, cbLogger)
	if err != nil {
		return err
	}
	router := api.NewRouter(
		handler,
		api.NewHub(manager, logger),
		api.NewRateLimiter(cfg.Server.PushRatePerMinute, cfg.Server.PushBurst),
		logger,
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("HTTP server listening.")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down server.")
	case runErr = <-serverErr:
		logger.Error().Err(runErr).Msg("HTTP server failed.")
	case runErr = <-receiverDone:
		if runErr != nil {
			logger.Error().Err(runErr).Msg("Push receiver stopped.")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Server forced to shutdown.")
	}

	logger.Info().Msg("Server stopped gracefully.")
	return runErr
}
