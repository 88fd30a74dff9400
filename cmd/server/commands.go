package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/RichardoC/office-gpt/internal/api"
	"github.com/RichardoC/office-gpt/internal/chat"
	"github.com/RichardoC/office-gpt/internal/config"
	"github.com/RichardoC/office-gpt/internal/db"
	"github.com/RichardoC/office-gpt/internal/llm"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		if err := cfg.ValidateProvider(); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, logger)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger.Info("Running database migrations...")
		database, err := openDatabase(cfg, logger)
		if err != nil {
			return err
		}
		logger.Info("Migrations completed successfully", zap.String("driver", database.Driver()))
		return database.Close()
	},
}

var (
	seedUsername string
	seedPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the default user the web client acts as",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		if err := cfg.Validate(); err != nil {
			return err
		}

		database, err := openDatabase(cfg, logger)
		if err != nil {
			return err
		}
		_, seedErr := database.SeedDefaultUser(cmd.Context(), seedUsername, seedPassword)
		return multierr.Append(seedErr, database.Close())
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Send a single prompt to the completion provider and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		if err := cfg.ValidateProvider(); err != nil {
			return err
		}

		provider, err := llm.New(providerConfig(cfg), logger)
		if err != nil {
			return err
		}
		completion, err := provider.Ask(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), completion)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedUsername, "username", "testuser", "username of the default user")
	seedCmd.Flags().StringVar(&seedPassword, "password", "password123", "password of the default user")
}

func openDatabase(cfg *config.Config, logger *zap.Logger) (*db.Database, error) {
	database, err := db.New(cfg.Database.Driver, cfg.Database.URL, logger.Named("db"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, nil
}

func providerConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		Token:       cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		CountTokens: cfg.LLM.CountTokens,
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, database.Close()) }()

	provider, err := llm.New(providerConfig(cfg), logger.Named("llm"))
	if err != nil {
		return fmt.Errorf("failed to initialize LLM service: %w", err)
	}

	exchanger := chat.NewExchanger(database, provider, logger.Named("chat"),
		chat.WithContextLimit(cfg.Chat.ContextLimit))
	handler := api.NewHandler(database, exchanger, provider.Model(), logger.Named("api"))

	routerCfg := api.RouterConfig{CORSOrigin: cfg.Server.CORSOrigin}
	if cfg.Server.RateLimitRPS > 0 {
		limiter := api.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, 2*time.Minute)
		go limiter.Run(ctx)
		routerCfg.Limiter = limiter
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(handler, routerCfg, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", srv.Addr), zap.String("model", provider.Model()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
