package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	portID    string
)

var (
	successStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true)

	dimStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("243"))
)

var rootCmd = &cobra.Command{
	Use:   "askctl",
	Short: "Ask ChatGPT through a running overflowgpt relay",
	Long: `askctl stands in for the browser extension's content script.

It opens the same websocket channel the extension opens, sends the question,
and prints each CHATGPT_OUTPUT increment as it arrives. Closing askctl closes
the channel, which cancels the answer and hides the conversation.

  askctl check
  askctl ask "How do I exit vim?"
  askctl ask --rate up "What is a goroutine?"`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("OVERFLOWGPT_SERVER", "http://localhost:8080"), "Relay server base URL")
	rootCmd.PersistentFlags().StringVar(&portID, "port-id", "askctl", "Port id sent as X-OGPT-Port-ID")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
