package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	runSessionName string
	runModel       string
	runFormat      string
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Run a single turn",
	Long: `Run one turn on a session and print the reply. With "-" as the only
argument the message is read from stdin.

Examples:
  octomind run "List the files in this project"
  octomind run --session fix-bug --model openrouter:anthropic/claude-sonnet-4 "Explain main.go"
  git diff | octomind run -`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVarP(&runSessionName, "session", "s", "", "Session name (default \"default\")")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (vendor:model)")
	runCmd.Flags().StringVar(&runFormat, "format", "default", "Output format (default|json)")
}

func runOnce(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	if message == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		message = string(data)
	}
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("message required. Usage: octomind run \"your message\"")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	name := sessionName(runSessionName)
	if runModel != "" {
		if err := a.manager.SetModel(ctx, name, runModel); err != nil {
			return err
		}
	}

	con := newConsole(cmd.ErrOrStderr())
	if runFormat != "json" {
		defer con.attach(a.bus)()
	}

	res, err := a.manager.Turn(ctx, name, message)
	if err != nil {
		return describeError(err, res)
	}

	if runFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"session": name,
			"output":  res.Output,
			"usage":   res.Usage,
			"pairs":   res.Pairs,
			"tokens":  res.View.Tokens,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Output)
	con.usage(res.Usage, res.View.Tokens)
	return nil
}
