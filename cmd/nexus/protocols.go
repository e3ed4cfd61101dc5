package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var protocolsCmd = &cobra.Command{
	Use:   "protocols",
	Short: "Inspect and run automation protocols",
}

var protocolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the protocols in the catalog",
	Run: func(cmd *cobra.Command, args []string) {
		assistant, err := newAssistant(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		defer assistant.Close()

		for _, spec := range assistant.Protocols() {
			marker := " "
			if spec.SideEffects {
				marker = "!"
			}
			fmt.Printf("%s %-24s %s\n", marker, spec.Name, spec.Description)
		}
	},
}

var protocolsRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run one protocol by name",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		confirm, _ := cmd.Flags().GetBool("confirm")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		rawArgs, _ := cmd.Flags().GetString("args")

		var protocolArgs map[string]any
		if rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &protocolArgs); err != nil {
				fmt.Printf("Error: --args must be a JSON object: %v\n", err)
				os.Exit(1)
			}
		}

		assistant, err := newAssistant(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		defer assistant.Close()

		result := assistant.RunProtocol(cmd.Context(), args[0], protocolArgs, confirm, dryRun)
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		if !result.OK {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(protocolsCmd)
	protocolsCmd.AddCommand(protocolsListCmd)
	protocolsCmd.AddCommand(protocolsRunCmd)

	protocolsRunCmd.Flags().Bool("confirm", false, "Confirm protocols that require it")
	protocolsRunCmd.Flags().Bool("dry-run", false, "Describe the steps without executing them")
	protocolsRunCmd.Flags().String("args", "", "Protocol arguments as a JSON object")
}
