package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"torquedash/internal/accounts"
	"torquedash/internal/auth"
	"torquedash/internal/config"
	"torquedash/internal/forwarder"
	"torquedash/internal/hub"
	"torquedash/internal/ingest"
	"torquedash/internal/livecache"
	"torquedash/internal/server"
	"torquedash/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "torquedash",
		Short:         "Torque telemetry ingestion and live dashboard server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newAccountsCmd())
	root.AddCommand(newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP, Socket.IO and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	return logger
}

func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	gin.SetMode(cfg.GinMode)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if cfg.AccountsFile != "" {
		if err := importFile(ctx, st, cfg.AccountsFile, logger); err != nil {
			return err
		}
	}

	hubOpts := []hub.Option{hub.WithLogger(logger)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		hubOpts = append(hubOpts, hub.WithRedis(rdb))
	}
	h := hub.New(hubOpts...)
	go func() {
		if err := h.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("hub relay stopped", "error", err)
		}
	}()

	fwd := forwarder.New(forwarder.Config{
		Workers:   cfg.ForwardWorkers,
		QueueSize: cfg.ForwardQueueSize,
		Timeout:   cfg.ForwardTimeout,
	}, logger)
	fwd.Start(ctx)

	cache := livecache.New(livecache.WithLogger(logger))

	svc := ingest.NewService(ingest.Config{LiveOnlyMode: cfg.LiveOnlyMode, Location: cfg.Location}, ingest.Deps{
		Store:     st,
		Live:      cache,
		Publisher: h,
		Forwarder: fwd,
		Logger:    logger,
	})
	go svc.RunSweeper(ctx, livecache.DefaultSweepInterval)

	tokenCfg := auth.DefaultTokenConfig(cfg.MasterSecret)
	tokenCfg.Expiry = cfg.TokenExpiry

	router := server.NewRouter(server.Deps{
		Store:       st,
		Hub:         h,
		LiveCache:   cache,
		Ingest:      svc,
		TokenConfig: tokenCfg,
		Logger:      logger,
	})

	logger.Info("starting", "liveOnlyMode", cfg.LiveOnlyMode, "redis", cfg.RedisAddr != "", "timezone", cfg.Location.String())
	err = server.Run(ctx, cfg, router, logger)
	stop()
	fwd.Wait()
	stats := fwd.Stats()
	logger.Info("stopped", "forwarded", stats.Sent, "forwardFailed", stats.Failed, "forwardDropped", stats.Dropped)
	return err
}

func importFile(ctx context.Context, st store.Store, path string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open accounts file: %w", err)
	}
	defer f.Close()

	seed, err := accounts.Parse(f)
	if err != nil {
		return err
	}
	sum, err := accounts.Import(ctx, st, seed)
	if err != nil {
		return fmt.Errorf("import accounts: %w", err)
	}
	logger.Info("accounts imported", "file", path, "created", sum.Created, "updated", sum.Updated)
	return nil
}

// withStore runs fn against the configured store, for the one-shot
// maintenance commands.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, cfg config.Config, st store.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	newLogger(cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(ctx, cfg, st)
}

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "accounts", Short: "Manage accounts"}
	cmd.AddCommand(newAccountsAddCmd())
	cmd.AddCommand(newAccountsImportCmd())
	return cmd
}

func newAccountsAddCmd() *cobra.Command {
	var entry accounts.Entry
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an account, or update it if the email exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, _ config.Config, st store.Store) error {
				acc, created, err := accounts.Upsert(ctx, st, entry, time.Now().UnixMilli())
				if err != nil {
					return err
				}
				verb := "updated"
				if created {
					verb = "created"
				}
				fmt.Fprintln(cmd.OutOrStdout(), verb, acc.Email, acc.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entry.Email, "email", "", "account email (the Torque eml value)")
	cmd.Flags().BoolVar(&entry.LiveOnlyMode, "live-only", false, "do not store readings for this account")
	cmd.Flags().StringSliceVar(&entry.ForwardURLs, "forward-url", nil, "webhook URL to relay uploads to (repeatable)")
	cmd.Flags().StringVar(&entry.ShareID, "share-id", "", "public share id")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newAccountsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update accounts from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, _ config.Config, st store.Store) error {
				return importFile(ctx, st, args[0], slog.Default())
			})
		},
	}
}

func newTokenCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an API token for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cfg config.Config, st store.Store) error {
				acc, err := st.AccountByEmail(ctx, email)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no account for %s", email)
				}
				if err != nil {
					return err
				}
				tokenCfg := auth.DefaultTokenConfig(cfg.MasterSecret)
				tokenCfg.Expiry = cfg.TokenExpiry
				token, err := auth.CreateToken(acc.ID, acc.Email, tokenCfg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
