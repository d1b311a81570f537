package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castplanhq/castplan/internal/autostart"
	"github.com/castplanhq/castplan/internal/cache"
	"github.com/castplanhq/castplan/internal/config"
	"github.com/castplanhq/castplan/internal/database"
	"github.com/castplanhq/castplan/internal/logging"
	"github.com/castplanhq/castplan/internal/readiness"
	"github.com/castplanhq/castplan/internal/realtime"
	"github.com/castplanhq/castplan/internal/remote"
	"github.com/castplanhq/castplan/internal/schedule"
	"github.com/castplanhq/castplan/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "castplan",
		Short: "Castplan scheduling engine",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd.Context())
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
	cmd.PersistentFlags().String("calendar-base-url", defaults.GetString("calendar.base_url"), "Remote calendar base URL")
	cmd.PersistentFlags().String("notify-endpoint", defaults.GetString("calendar.notify_endpoint"), "Push notification channel URL (empty for polling only)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite cache path")
	cmd.PersistentFlags().Duration("poll-interval", defaults.GetDuration("realtime.poll_interval"), "Fallback poll interval")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "calendar.base_url", "calendar-base-url")
	bindFlag(cmd, "calendar.notify_endpoint", "notify-endpoint")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "realtime.poll_interval", "poll-interval")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
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

func runEngine(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sideCache, err := cache.NewCache(cache.CacheConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	remoteClient, err := remote.NewClient(remote.ClientConfig{
		BaseURL: appConfig.CalendarBaseURL,
		Timeout: appConfig.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	calendarConnected, err := remoteClient.Status(ctx)
	if err != nil {
		logger.Warn("calendar status poll failed", zap.Error(err))
	} else {
		logger.Info("calendar link status", zap.Bool("connected", calendarConnected))
	}

	store := schedule.NewStore()
	scheduleService, err := schedule.NewService(schedule.ServiceConfig{
		Store:      store,
		Remote:     remoteClient,
		Cache:      sideCache,
		Clock:      time.Now,
		IDProvider: schedule.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// Seed the store from the cache so the auto-start feature works before
	// the first reconcile pass completes.
	if cached, err := sideCache.LoadUpcoming(ctx); err != nil {
		logger.Warn("cache restore failed", zap.Error(err))
	} else {
		for _, record := range cached {
			store.Upsert(record)
		}
	}

	channelManager, err := realtime.NewManager(realtime.ManagerConfig{
		Endpoint:             appConfig.NotifyEndpoint,
		Reconcile:            scheduleService.Reconcile,
		PollInterval:         appConfig.PollInterval,
		ReconnectBase:        appConfig.ReconnectBase,
		ReconnectCap:         appConfig.ReconnectCap,
		MaxReconnectAttempts: appConfig.MaxReconnectAttempts,
		Logger:               logger,
	})
	if err != nil {
		return err
	}

	readinessTracker := readiness.NewTracker(readiness.TrackerConfig{
		Flags:  sideCache,
		Logger: logger,
	})

	// Point the tracker at the nearest upcoming live broadcast and restore the
	// readiness flag a previous run persisted for it.
	if record, ok := store.NextUpcoming(time.Now(), schedule.CategoryLiveBroadcast, time.Local); ok {
		if ready, err := sideCache.GetReadiness(ctx, record.ID); err != nil {
			logger.Warn("readiness flag restore failed",
				zap.String("record_id", record.ID), zap.Error(err))
		} else if ready {
			readinessTracker.Restore(true)
		}
		readinessTracker.Watch(ctx, record.ID)
	}

	trigger, err := autostart.NewTrigger(autostart.TriggerConfig{
		Upcoming:  store,
		Readiness: readinessTracker,
		Action: func(ctx context.Context, record schedule.Record) error {
			logger.Info("starting scheduled broadcast",
				zap.String("record_id", record.ID),
				zap.String("title", record.Title))
			return nil
		},
		Interval: appConfig.TriggerInterval,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Schedules:         scheduleService,
		Channel:           channelManager,
		Readiness:         readinessTracker,
		Session:           trigger,
		CalendarConnected: calendarConnected,
		Clock:             time.Now,
		Location:          time.Local,
		Logger:            logger,
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

	engineCtx, cancelEngine := context.WithCancel(signalCtx)
	defer cancelEngine()
	go channelManager.Run(engineCtx)
	go trigger.Run(engineCtx)
	go followUpcoming(engineCtx, scheduleService, readinessTracker)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		cancelEngine()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// followUpcoming re-points the readiness tracker at the nearest upcoming live
// broadcast whenever the record set changes, so the persisted flag always
// tracks the record the trigger will act on.
func followUpcoming(ctx context.Context, schedules *schedule.Service, tracker *readiness.Tracker) {
	notices, cleanup := schedules.Dispatcher().Subscribe(ctx)
	defer cleanup()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-notices:
			if !ok {
				return
			}
			if record, ok := schedules.Store().NextUpcoming(time.Now(), schedule.CategoryLiveBroadcast, time.Local); ok {
				tracker.Watch(ctx, record.ID)
			}
		}
	}
}
