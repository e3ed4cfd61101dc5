package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jivan-ai/nexus"
	"github.com/jivan-ai/nexus/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Nexus is a command-orchestration core for conversational assistants",
	Long:  `Nexus resolves user utterances through deterministic tool routing, runs multi-step automation protocols, and gates remote integration calls behind a tool gateway.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "nexus.yaml", "Path to the Nexus config file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log to stderr at debug level")
}

// newAssistant builds an Assistant from the flags on cmd.
func newAssistant(cmd *cobra.Command) (*nexus.Assistant, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := nexus.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	opts := []nexus.Option{}
	if verbose {
		opts = append(opts, nexus.WithLogger(logging.New(slog.LevelDebug)))
	}
	return nexus.New(cfg, opts...)
}
