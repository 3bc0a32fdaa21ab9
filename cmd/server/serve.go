package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/spaces-realtime/internal/api"
	"github.com/npezzotti/spaces-realtime/internal/database"
	"github.com/npezzotti/spaces-realtime/internal/notify"
	"github.com/npezzotti/spaces-realtime/internal/presence"
	"github.com/npezzotti/spaces-realtime/internal/rooms"
	"github.com/npezzotti/spaces-realtime/internal/server"
	"github.com/npezzotti/spaces-realtime/internal/stats"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
	}
	cmd.Flags().String("addr", "", "server address")
	cmd.Flags().String("dsn", "", "database connection string")
	cmd.Flags().String("signing-key", "", "base64 encoded signing key")
	cmd.Flags().StringSlice("allowed-origins", nil, "comma-separated list of allowed origins for CORS")
	cmd.Flags().String("redis-addr", "", "redis address for last seen times, empty keeps them in memory")
	cmd.Flags().String("log-level", "", "log level")
	cmd.Flags().Bool("migrate", true, "apply database migrations before serving")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	}

	return cmd
}

func bindServeFlags(cmd *cobra.Command) func(v *viper.Viper) error {
	return func(v *viper.Viper) error {
		for key, flag := range map[string]string{
			"addr":            "addr",
			"dsn":             "dsn",
			"signing_key":     "signing-key",
			"allowed_origins": "allowed-origins",
			"redis.address":   "redis-addr",
			"log.level":       "log-level",
		} {
			f := cmd.Flags().Lookup(flag)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
		return nil
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, logger, err := loadConfig(bindServeFlags(cmd))
	if err != nil {
		return err
	}

	store, err := database.NewPgStore(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	if runMigrations, _ := cmd.Flags().GetBool("migrate"); runMigrations {
		if err := database.Migrate(store.DB()); err != nil {
			return err
		}
		logger.Info().Msg("database migrations applied")
	}

	var lastSeen presence.LastSeenStore
	if cfg.Redis.Address != "" {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		client, err := presence.NewRedisClient(ctx, presence.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, last seen times kept in memory")
		} else {
			defer client.Close()
			lastSeen = presence.NewRedisLastSeenStore(client)
		}
	}

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)

	router := rooms.NewRouter(logger, statsUpdater)
	tracker := presence.NewTracker(logger, router, lastSeen, statsUpdater)
	dispatcher := server.NewDispatcher(logger, store, router, tracker, statsUpdater, server.Options{
		TypingTimeout: cfg.Realtime.TypingTimeout,
		EventRate:     cfg.Realtime.EventRate,
		EventBurst:    cfg.Realtime.EventBurst,
	})
	relay := notify.NewRelay(logger, router)

	app := api.NewApp(mux, logger, dispatcher, store, tracker, relay, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Start(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return dispatcher.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
