package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	modelsVerbose bool
	serversTools  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions",
	RunE:  runSessions,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a session and its log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.manager.Delete(ctx, args[0]); err != nil {
			return err
		}
		cmd.Printf("deleted %s\n", args[0])
		return nil
	},
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Show tool servers and their health",
	RunE:  runServers,
}

var modelsCmd = &cobra.Command{
	Use:   "models [vendor]",
	Short: "List known models",
	Long: `List the models of the model table.

Examples:
  octomind models              # List all models
  octomind models anthropic    # List only Anthropic models
  octomind models --verbose    # Show limits and pricing`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModels,
}

func init() {
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	serversCmd.Flags().BoolVar(&serversTools, "tools", false, "Also list the tools of each server")
	modelsCmd.Flags().BoolVarP(&modelsVerbose, "verbose", "v", false, "Include limits and costs")
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	names, err := a.manager.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMODEL\tROLE\tMESSAGES\tTOKENS\tCOST\tUPDATED")
	for _, name := range names {
		v, err := a.manager.Snapshot(ctx, name)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\t%v\n", name, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t$%.4f\t%s\n", v.Name, v.Model, v.Role, len(v.Messages), v.Tokens, v.Usage.Cost,
			time.UnixMilli(v.Updated).Format(time.DateTime))
	}
	return w.Flush()
}

func runServers(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tKIND\tSTATE\tTOOLS\tERROR")
	for _, h := range a.tools.Health() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", h.Server, h.Kind, h.State, h.Tools, h.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !serversTools {
		return nil
	}
	for _, b := range a.tools.Tools(nil) {
		cmd.Printf("  %s/%s\n", b.Server, b.Tool.Name)
	}
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	a, err := newApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	var vendor string
	if len(args) > 0 {
		vendor = args[0]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if modelsVerbose {
		fmt.Fprintln(w, "MODEL\tCONTEXT\tMAX OUTPUT\tINPUT $/M\tOUTPUT $/M\tCACHING")
	}
	for _, m := range a.providers.Prices().List() {
		if vendor != "" && m.Vendor != vendor {
			continue
		}
		id := m.Vendor + ":" + m.ID
		if modelsVerbose {
			fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\t%.2f\t%v\n", id, m.ContextWindow, m.MaxOutput, m.InputPrice, m.OutputPrice, m.PromptCaching)
		} else {
			fmt.Fprintln(w, id)
		}
	}
	return w.Flush()
}
