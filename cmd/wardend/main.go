// Command wardend serves a guarded GraphQL execution endpoint over a
// declarative schema and policy. Every operation passes through the
// authorization middlewares before it reaches the store.
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

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	_ "modernc.org/sqlite"

	"github.com/syssam/warden/ability"
	"github.com/syssam/warden/middleware"
	"github.com/syssam/warden/schema"
	"github.com/syssam/warden/store"
	"github.com/syssam/warden/store/memstore"
	"github.com/syssam/warden/store/sqlstore"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "wardend",
	Short:         "Authorization-aware GraphQL execution daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, env vars apply either way)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "wardend:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config) error {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	reg, err := schema.LoadFile(cfg.Schema)
	if err != nil {
		return err
	}
	db, err := openStore(cfg, reg)
	if err != nil {
		return err
	}
	defer closeStore(db)

	// The policy file is re-read on every cache miss; the watcher below
	// flushes the cache when it changes, so edits apply without a
	// restart.
	resolver := ability.NewResolver(func(ctx context.Context, identity string) (*ability.Ability, error) {
		p, err := ability.LoadPolicyFile(cfg.Policy)
		if err != nil {
			return nil, err
		}
		return p.BuildFunc(reg)(ctx, identity)
	})
	stopWatch, err := resolver.Watch(ctx, cfg.Policy)
	if err != nil {
		log.Warn("policy watch unavailable", zap.Error(err))
	} else {
		defer stopWatch()
	}

	ops, err := middleware.NewRegistry(reg, db,
		middleware.WithAbility(resolver),
		middleware.WithAccessLog(log),
		middleware.WithTiming(log),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewServer(ops, log, cfg.Dev),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Listen), zap.String("driver", cfg.Driver))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newLogger(cfg *Config) (*zap.Logger, error) {
	if cfg.Dev {
		return zap.NewDevelopment()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func openStore(cfg *Config, reg *schema.Registry) (store.Store, error) {
	if cfg.Driver == "mem" {
		return memstore.New(reg), nil
	}
	return sqlstore.Open(cfg.Driver, cfg.DSN, reg)
}

func closeStore(db store.Store) {
	if c, ok := db.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
