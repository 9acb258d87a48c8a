package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/readsync/internal/auth"
	"github.com/MarcoPoloResearchLab/readsync/internal/config"
	"github.com/MarcoPoloResearchLab/readsync/internal/database"
	"github.com/MarcoPoloResearchLab/readsync/internal/kvstore"
	"github.com/MarcoPoloResearchLab/readsync/internal/logging"
	"github.com/MarcoPoloResearchLab/readsync/internal/metrics"
	"github.com/MarcoPoloResearchLab/readsync/internal/progress"
	"github.com/MarcoPoloResearchLab/readsync/internal/server"
	"github.com/MarcoPoloResearchLab/readsync/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	storePingTimeout = 5 * time.Second
	shutdownTimeout  = 10 * time.Second
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "readsync-api",
		Short: "Reading progress sync service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("store-driver", defaults.GetString("store.driver"), "Storage backend (redis, sqlite, memory)")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis connection URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().Bool("metrics-enabled", defaults.GetBool("metrics.enabled"), "Expose Prometheus metrics on /metrics")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "store.driver", "store-driver")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "metrics.enabled", "metrics-enabled")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, err := openStore(ctx, appConfig, logger)
	if err != nil {
		logger.Error("store unavailable", zap.String("driver", appConfig.StoreDriver), zap.Error(err))
		return err
	}
	defer store.Close()

	usersService, err := users.NewService(users.ServiceConfig{
		Store:  store,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	authenticator, err := auth.NewAuthenticator(auth.AuthenticatorConfig{
		Secrets: usersService,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	progressService, err := progress.NewService(progress.ServiceConfig{
		Store:  store,
		Clock:  time.Now,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	var recorder *metrics.Recorder
	if appConfig.MetricsEnabled {
		recorder, err = metrics.New(nil)
		if err != nil {
			return err
		}
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Authenticator:   authenticator,
		UsersService:    usersService,
		ProgressService: progressService,
		Metrics:         recorder,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("store_driver", appConfig.StoreDriver),
			zap.Bool("metrics_enabled", appConfig.MetricsEnabled),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func openStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (kvstore.Store, error) {
	var (
		store kvstore.Store
		err   error
	)
	switch appConfig.StoreDriver {
	case kvstore.DriverRedis:
		store, err = kvstore.NewRedisStore(appConfig.RedisURL)
	case kvstore.DriverSQLite:
		db, openErr := database.OpenSQLite(appConfig.DatabasePath, logger)
		if openErr != nil {
			return nil, openErr
		}
		store, err = kvstore.NewSQLiteStore(db)
	case kvstore.DriverMemory:
		logger.Warn("memory store selected; data will not survive a restart")
		store = kvstore.NewMemoryStore()
	default:
		return nil, fmt.Errorf("%w: %s", kvstore.ErrUnsupportedDriver, appConfig.StoreDriver)
	}
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
