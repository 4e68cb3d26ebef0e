package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/vetgate/vetgate/internal/config"
	"github.com/vetgate/vetgate/internal/gateway"
	"github.com/vetgate/vetgate/internal/tracing"
)

func newServeCmd() *cobra.Command {
	var port int
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the vetgate decision server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				// Fall back to defaults if no config file
				cfg = config.Defaults()
			}

			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := newLogger(cfg.Server.LogLevel)

			if cfg.Tracing.Enabled {
				shutdown, err := tracing.Init("vetgate", version)
				if err != nil {
					return fmt.Errorf("initializing tracing: %w", err)
				}
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = shutdown(ctx)
				}()
			}

			srv, err := gateway.NewServer(cfg, logger)
			if err != nil {
				return err
			}

			// Re-read caller keys when the key directory changes, so
			// newly issued keys work without a restart.
			watcherDone, err := watchKeys(cfg.Identity.KeysDir, srv, logger)
			if err != nil {
				logger.Warn("key hot-reload disabled", "error", err)
			} else {
				defer watcherDone()
			}

			printBanner(cfg)

			// Graceful shutdown on SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "address to bind (default: 127.0.0.1)")
	return cmd
}

// watchKeys reloads the key store on changes to the keys directory.
// Reloads are debounced; editors and keygen touch files in bursts.
func watchKeys(dir string, srv *gateway.Server, logger *slog.Logger) (func(), error) {
	if dir == "" {
		return nil, fmt.Errorf("no keys_dir configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		var timer *time.Timer
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(500*time.Millisecond, func() {
					if err := srv.ReloadKeys(); err != nil {
						logger.Error("key reload failed", "error", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("key watcher error", "error", err)
			}
		}
	}()

	return func() { _ = watcher.Close() }, nil
}

func newLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printBanner(cfg *config.Config) {
	bind := cfg.Server.Bind
	if bind == "" {
		bind = "127.0.0.1"
	}

	fmt.Println()
	fmt.Println("  vetgate")
	fmt.Println("  ────────────────────────────────────────")
	fmt.Printf("  Decisions:  http://%s:%d/v1/decisions\n", bind, cfg.Server.Port)
	fmt.Printf("  Health:     http://%s:%d/healthz\n", bind, cfg.Server.Port)
	fmt.Printf("  Metrics:    http://%s:%d/metrics\n", bind, cfg.Server.Port)
	fmt.Println("  ────────────────────────────────────────")
	fmt.Printf("  Audit chain: %s\n", cfg.Audit.ChainPath)
	fmt.Printf("  Keys dir:    %s\n", cfg.Identity.KeysDir)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop.")
	fmt.Println()
}
