package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/puyokura/vibechat/backend"
	"github.com/puyokura/vibechat/config"
	"github.com/puyokura/vibechat/logging"
)

var (
	serveAddr      string
	serveNoConsole bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and push hub",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveNoConsole, "no-console", false, "do not read operator commands from stdin")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := logging.New(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	store, err := backend.NewStore(cfg.Server.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := backend.NewHub(logger)
	go hub.Run(ctx)

	tokens := backend.NewTokens([]byte(cfg.Server.JWTSecret), cfg.Server.SessionTTL)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           backend.NewServer(store, tokens, hub, backend.Options{PublicURL: cfg.Server.PublicURL, Logger: logger}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printBanner(cfg)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if !serveNoConsole {
		c := &console{hub: hub, store: store, out: os.Stdout}
		go func() {
			if c.run(ctx, os.Stdin) {
				stop()
			} else {
				logger.Debug("console input closed")
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
	}

	fmt.Println("\nShutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
	return nil
}

func printBanner(cfg *config.Config) {
	title := color.New(color.FgCyan, color.Bold)
	title.Println("vibechat server")
	fmt.Printf("  listening  %s\n", color.GreenString(cfg.Server.Addr))
	fmt.Printf("  database   %s\n", cfg.Server.DatabasePath)
	if cfg.Server.PublicURL != "" {
		fmt.Printf("  public url %s\n", cfg.Server.PublicURL)
	}
	fmt.Println()
}
