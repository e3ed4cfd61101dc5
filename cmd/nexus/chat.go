package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jivan-ai/nexus/internal/presentation/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long:  `Opens a local console conversation. Each line is resolved as one turn; type "exit" or "quit" to leave.`,
	Run: func(cmd *cobra.Command, args []string) {
		plain, _ := cmd.Flags().GetBool("plain")

		assistant, err := newAssistant(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		defer assistant.Close()

		render := func(s string) (string, error) { return s + "\n", nil }
		if !plain {
			tui.PrintBanner()
			render = tui.NewRenderer()
		}

		reader := bufio.NewReader(os.Stdin)
		ctx := cmd.Context()

		for {
			fmt.Print("> ")
			line, err := reader.ReadString('\n')
			if err != nil {
				break
			}
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}
			if input == "exit" || input == "quit" {
				fmt.Println("Bye!")
				break
			}

			reply := assistant.Respond(ctx, input)
			out, rerr := render(reply)
			if rerr != nil {
				out = reply + "\n"
			}
			fmt.Print(out)
		}
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().Bool("plain", false, "Disable the banner and markdown rendering")

	// Make 'chat' the default if no command is provided.
	rootCmd.Run = chatCmd.Run
}
