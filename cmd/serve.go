package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cwbudde/eqfit/internal/server"
	"github.com/cwbudde/eqfit/internal/store"
	"github.com/spf13/cobra"
)

var (
	serveAddr    string
	serveDataDir string
	serveNoTrace bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fitting job server",
	Long: `Starts an HTTP server that runs fitting jobs in the background.
Jobs are created and observed through the /api/v1/jobs endpoints; progress
streams over SSE. Checkpoints and cost traces are written under the data
directory so interrupted jobs can be resumed.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
	serveCmd.Flags().BoolVar(&serveNoTrace, "no-trace", false, "Disable per-generation cost traces")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	checkpointStore, err := store.NewFSStore(serveDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	traceDir := ""
	if !serveNoTrace {
		traceDir = filepath.Join(serveDataDir, "traces")
		if err := os.MkdirAll(traceDir, 0755); err != nil {
			return fmt.Errorf("failed to create trace dir: %w", err)
		}
	}

	srv := server.NewServer(serveAddr, checkpointStore, traceDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("signal received, shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
