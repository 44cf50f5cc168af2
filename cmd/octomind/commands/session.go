package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Muvon/octomind-sub000/internal/config"
	"github.com/Muvon/octomind-sub000/internal/logging"
)

var (
	sessionModel string
	sessionRole  string
	sessionWatch bool
)

var sessionCmd = &cobra.Command{
	Use:   "session [name]",
	Short: "Start or resume an interactive session",
	Long: `Start or resume a named interactive session. Ctrl-C interrupts the turn
in flight; completed tool results are kept, everything else of the turn is
discarded.

Commands inside the session:
  /help            show this help
  /info            show model, role, tokens and usage
  /model <id>      switch to another vendor:model
  /role <name>     switch to another role
  /reduce          compress the history with the role's cheap model
  /done            finalize the task and store durable facts
  /exit            leave the session`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSession,
}

func init() {
	sessionCmd.Flags().StringVarP(&sessionModel, "model", "m", "", "Model to use (vendor:model)")
	sessionCmd.Flags().StringVarP(&sessionRole, "role", "r", "", "Role to use")
	sessionCmd.Flags().BoolVar(&sessionWatch, "watch", true, "Reload configuration when config files change")
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	con := newConsole(cmd.OutOrStdout())
	defer con.attach(a.bus)()

	if sessionWatch {
		w, err := config.NewWatcher(a.workDir, a.reconfigure, a.bus)
		if err != nil {
			logging.Warn().Err(err).Msg("Config watcher disabled")
		} else {
			w.Start()
			defer w.Stop()
		}
	}

	name := sessionName(firstArg(args))
	if sessionRole != "" {
		if err := a.manager.SetRole(ctx, name, sessionRole); err != nil {
			return err
		}
	}
	if sessionModel != "" {
		if err := a.manager.SetModel(ctx, name, sessionModel); err != nil {
			return err
		}
	}
	s, err := a.manager.Open(ctx, name)
	if err != nil {
		return err
	}
	v := s.Snapshot()
	con.info("session %s · %s · role %s · %d messages", v.Name, v.Model, v.Role, len(v.Messages))

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for {
		con.printf("%s", con.prompt.Render("> "))
		if !scanner.Scan() {
			con.printf("\n")
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := sessionCommand(ctx, a, con, name, line)
			if err != nil {
				con.fail(err)
			}
			if quit {
				return nil
			}
			continue
		}
		turn(ctx, a, con, name, line)
	}
}

// turn runs one turn; Ctrl-C cancels it.
func turn(ctx context.Context, a *app, con *console, name, input string) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	res, err := a.manager.Turn(turnCtx, name, input)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			con.info("interrupted")
		}
		con.fail(describeError(err, res))
		return
	}
	con.reply(res.Output)
	con.usage(res.Usage, res.View.Tokens)
}

// sessionCommand handles a slash command. It reports whether to leave the
// session.
func sessionCommand(ctx context.Context, a *app, con *console, name, line string) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		con.printf("%s\n", sessionCmd.Long)
	case "/info":
		v, err := a.manager.Snapshot(ctx, name)
		if err != nil {
			return false, err
		}
		con.info("session %s · %s · role %s · %d messages", v.Name, v.Model, v.Role, len(v.Messages))
		con.usage(v.Usage, v.Tokens)
	case "/model":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /model vendor:model")
		}
		if err := a.manager.SetModel(ctx, name, fields[1]); err != nil {
			return false, err
		}
		con.info("model set to %s", fields[1])
	case "/role":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /role name")
		}
		if err := a.manager.SetRole(ctx, name, fields[1]); err != nil {
			return false, err
		}
		con.info("role set to %s", fields[1])
	case "/reduce":
		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		res, err := a.manager.Reduce(turnCtx, name)
		if err != nil {
			return false, describeError(err, res)
		}
		con.info("history reduced to %d tokens", res.View.Tokens)
	case "/done":
		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		res, err := a.manager.Finalize(turnCtx, name)
		if err != nil {
			return false, err
		}
		con.reply(res.Summary)
		for _, f := range res.Facts {
			con.info("remembered: %s", f.Text)
		}
	default:
		return false, fmt.Errorf("unknown command %s, try /help", fields[0])
	}
	return false, nil
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
