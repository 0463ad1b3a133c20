package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}

	cmd.Flags().String("bind", "", "Bind address (default: server.bind)")
	cmd.Flags().Int("port", 0, "Port (default: server.port)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if bind, _ := cmd.Flags().GetString("bind"); bind != "" {
		cfg.Server.Bind = bind
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	logger := logging.From(cmd.Context())

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	eng.StartSweeper(ctx)

	addr := cfg.Server.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.New(eng, Version),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("memtier serving",
			"addr", addr,
			"backend", cfg.Database.Backend,
			"embedding", cfg.Embedding.Provider,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return goerr.Wrap(err, "server failed", goerr.V("addr", addr))
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
