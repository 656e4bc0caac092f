package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/castroom/internal/adapter/driven/persistence/memory"
	handler "github.com/Wyydra/castroom/internal/adapter/driving/http"
	"github.com/Wyydra/castroom/internal/config"
	"github.com/Wyydra/castroom/internal/core/service"
	"github.com/Wyydra/castroom/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		cfg        config.Server
	)
	cmd := &cobra.Command{
		Use:          "castroom-server",
		Short:        "Signaling hub for one-to-many WebRTC broadcasts",
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Load(viper.New(), cmd.Flags(), configFile, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Config file (default ./castroom.yaml)")
	config.ServerFlags(cmd.Flags())
	return cmd
}

func run(cfg config.Server) error {
	l, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		return err
	}

	repo := memory.NewChatRepository(cfg.ChatHistory)
	hub := service.NewHub(repo)
	go hub.Run()

	h := handler.NewHandler(hub, repo, handler.Options{
		StaticDir:         cfg.StaticDir,
		AllowedOrigins:    cfg.AllowedOrigins,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerSecond: cfg.MessagesPerSecond,
		SendBuffer:        cfg.SendBuffer,
	})

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: h.NewRouter(),
	}

	errc := make(chan error, 1)
	go func() {
		l.Info().Str("addr", cfg.Listen).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errc:
		l.Error().Err(err).Msg("Failed to start server")
		hub.Stop()
		return err
	}
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// closing every client first lets hijacked websocket handlers return
	hub.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	l.Info().Msg("Server exited")
	return nil
}
