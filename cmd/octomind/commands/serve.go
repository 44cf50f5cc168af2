package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Muvon/octomind-sub000/internal/config"
	"github.com/Muvon/octomind-sub000/internal/logging"
	"github.com/Muvon/octomind-sub000/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control API",
	Long: `Start octomind as a headless server exposing sessions, tool server
health and an SSE event stream over HTTP.

Configuration changes are picked up without a restart; tool servers are
registered once at startup.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default from config or 127.0.0.1:8484)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := config.NewWatcher(a.workDir, a.reconfigure, a.bus)
	if err != nil {
		logging.Warn().Err(err).Msg("Config watcher disabled")
	} else {
		w.Start()
		defer w.Stop()
	}

	cfg := server.DefaultConfig()
	if hc := a.config.Server; hc != nil {
		if hc.Addr != "" {
			cfg.Addr = hc.Addr
		}
		if len(hc.CORSOrigins) > 0 {
			cfg.CORSOrigins = hc.CORSOrigins
		}
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	srv := server.New(cfg, server.Options{
		Manager: a.manager,
		Tools:   a.tools,
		Models:  a.providers.Prices(),
		Bus:     a.bus,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	cmd.Printf("octomind %s listening on http://%s\n", Version, cfg.Addr)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logging.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("Server shutdown error")
	}
	return nil
}
