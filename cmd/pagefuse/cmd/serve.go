package cmd

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

	"github.com/MeKo-Tech/pagefuse/internal/server"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the page-elements API",
	Long: `Start an HTTP server that provides REST and WebSocket endpoints for
page-elements post-processing.

The server provides the following endpoints:
  POST /v1/normalize - Decode raw predictions (and refine unless ?refine=false)
  POST /v1/refine    - Apply layout heuristics to annotations
  POST /v1/detect    - Run the local model on uploaded images
  GET  /ws/refine    - Streaming refinement over WebSocket
  GET  /health       - Health check endpoint
  GET  /metrics      - Prometheus metrics

Examples:
  pagefuse serve
  pagefuse serve --port 8080
  pagefuse serve --host 0.0.0.0 --port 3000 --rate-limit-rps 5`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, []flagBinding{
			{"server.host", "host"},
			{"server.port", "port"},
			{"server.cors_origin", "cors-origin"},
			{"server.max_upload_mb", "max-upload-size"},
			{"server.timeout_sec", "timeout"},
			{"server.shutdown_timeout", "shutdown-timeout"},
			{"server.rate_limit_rps", "rate-limit-rps"},
			{"server.rate_limit_burst", "rate-limit-burst"},
			{"model.path", "model"},
			{"gpu.enabled", "gpu"},
		})
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		serverConfig := server.Config{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			CORSOrigin:     cfg.Server.CORSOrigin,
			MaxUploadMB:    int64(cfg.Server.MaxUploadMB),
			TimeoutSec:     cfg.Server.TimeoutSec,
			PipelineConfig: cfg.ToPipelineConfig(),
			RateLimit: server.RateLimitConfig{
				Enabled:           cfg.Server.RateLimitRPS > 0,
				RequestsPerSecond: cfg.Server.RateLimitRPS,
				Burst:             cfg.Server.RateLimitBurst,
			},
		}

		apiServer, err := server.NewServer(serverConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		mux := http.NewServeMux()
		apiServer.SetupRoutes(mux)

		timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
		httpServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout,
		}

		go func() {
			slog.Info("Starting pagefuse server", "host", cfg.Server.Host, "port", cfg.Server.Port,
				"model", serverConfig.PipelineConfig.EnableModel)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", cfg.Server.ShutdownTimeout))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		if err := apiServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().Float64("rate-limit-rps", 0, "requests per second per client (0 disables rate limiting)")
	serveCmd.Flags().Int("rate-limit-burst", 20, "burst size per client")
	serveCmd.Flags().String("model", "", "override page-elements model path")
	serveCmd.Flags().Bool("gpu", false, "enable GPU acceleration via CUDA")
}
