package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/Muvon/octomind-sub000/internal/logging"
	"github.com/Muvon/octomind-sub000/internal/tool"
	"github.com/Muvon/octomind-sub000/internal/toolserver"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

var (
	toolsKind      string
	toolsTransport string
	toolsAddr      string
	toolsFraming   string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Work with builtin tool servers",
}

var toolsServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a builtin tool server to another process",
	Long: `Serve one builtin tool server outside of a session.

Transports:
  stdin   call envelopes on stdin, results on stdout (see --framing)
  http    call envelopes POSTed to --addr
  mcp     the MCP stdio protocol, for MCP clients`,
	RunE: runToolsServe,
}

func init() {
	toolsServeCmd.Flags().StringVar(&toolsKind, "kind", string(types.ServerDeveloper), "Builtin server kind: developer or filesystem")
	toolsServeCmd.Flags().StringVar(&toolsTransport, "transport", "stdin", "Transport: stdin, http or mcp")
	toolsServeCmd.Flags().StringVar(&toolsAddr, "addr", "127.0.0.1:8485", "Listen address for the http transport")
	toolsServeCmd.Flags().StringVar(&toolsFraming, "framing", string(types.FramingNewline), "Framing for the stdin transport: newline or length")
	toolsCmd.AddCommand(toolsServeCmd)
}

func runToolsServe(cmd *cobra.Command, args []string) error {
	kind := types.ServerKind(toolsKind)
	if kind == types.ServerAgent {
		return fmt.Errorf("the agent server needs a model registry and cannot be served standalone")
	}
	dir, err := GetWorkDir()
	if err != nil {
		return err
	}
	srv, err := tool.NewBuiltin(kind, "", tool.Environment{WorkDir: dir, Env: os.Environ()})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.Component("tools")
	switch toolsTransport {
	case "stdin":
		framing := types.Framing(toolsFraming)
		if framing != types.FramingNewline && framing != types.FramingLength {
			return fmt.Errorf("invalid framing %q: expected newline or length", toolsFraming)
		}
		log.Info().Str("server", srv.Name()).Str("framing", toolsFraming).Msg("Serving on stdin")
		return toolserver.Serve(ctx, srv, os.Stdin, os.Stdout, framing)
	case "http":
		hs := &http.Server{Addr: toolsAddr, Handler: toolserver.NewHTTPHandler(srv), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hs.Shutdown(shutdownCtx)
		}()
		log.Info().Str("server", srv.Name()).Str("addr", toolsAddr).Msg("Serving over HTTP")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case "mcp":
		return mcpserver.ServeStdio(srv.MCP())
	default:
		return fmt.Errorf("invalid transport %q: expected stdin, http or mcp", toolsTransport)
	}
}
