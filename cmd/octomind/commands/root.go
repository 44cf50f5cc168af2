// Package commands provides the CLI commands for octomind.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Muvon/octomind-sub000/internal/config"
	"github.com/Muvon/octomind-sub000/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
)

// logFile is the open log file when logs do not go to stderr.
var logFile *os.File

var rootCmd = &cobra.Command{
	Use:   "octomind",
	Short: "octomind - session orchestration for AI assistants",
	Long: `octomind runs conversational sessions against model vendors, routing
tool calls to builtin and external tool servers.

Run 'octomind session' for an interactive session, 'octomind run' for a
single turn, or 'octomind serve' to expose the HTTP control API.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "directory", "C", "", "Working directory")

	rootCmd.SetVersionTemplate(fmt.Sprintf("octomind %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(toolsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setupLogging sends logs to stderr with --print-logs and to a dated file
// under the state directory otherwise.
func setupLogging(cmd *cobra.Command, args []string) error {
	level := logLevel
	if level == "" {
		level = os.Getenv("OCTOMIND_LOG_LEVEL")
	}
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(level)
	if printLogs {
		cfg.Pretty = true
	} else {
		cfg.LogToFile = true
		cfg.LogDir = filepath.Join(config.GetPaths().State, "log")
	}
	f, err := logging.Init(cfg)
	if err != nil {
		return err
	}
	logFile = f
	return nil
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir() (string, error) {
	if workDir != "" {
		return filepath.Abs(workDir)
	}
	return os.Getwd()
}
