package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/pdftrans/internal/api"
	"github.com/dgallion1/pdftrans/internal/pipeline"
	"github.com/dgallion1/pdftrans/internal/session"
	"github.com/dgallion1/pdftrans/internal/translate"
	"github.com/spf13/cobra"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the translation web page",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := &slog.HandlerOptions{}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, opts))

	cfg, err := loadConfig(cmd)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	tr, err := newTranslator(cfg, translate.NewLLMStats(time.Hour))
	if err != nil {
		log.Error("invalid ollama host", "error", err)
		return err
	}
	if err := tr.Ping(ctx); err != nil {
		log.Warn("ollama not reachable yet", "host", cfg.OllamaHost, "error", err)
	}

	// Initialize pipeline.
	pipe := pipeline.New(newLoader(cfg), chunkConfig(cfg), tr, log)
	orch := pipeline.NewOrchestrator(session.NewStore(cfg.SessionTTL), pipe, cfg.WorkerCount, cfg.MaxQueueSize, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(ctx, orch, tr, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
		// Open event streams end when ctx is cancelled.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		orch.Stop()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting pdftrans",
		"port", cfg.Port,
		"ollama", cfg.OllamaHost,
		"model", cfg.OllamaModel,
		"language", cfg.TargetLanguage,
		"auth", cfg.APIKey != "",
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		return err
	}
	return nil
}
