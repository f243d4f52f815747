package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/overflowgpt/internal/domain"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the relay can obtain a ChatGPT access token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		return runCheck(ctx, http.DefaultClient, serverURL, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(ctx context.Context, client *http.Client, server string, out io.Writer) error {
	body, err := json.Marshal(domain.Wrap(domain.CheckAccess{}))
	if err != nil {
		return err
	}
	url := strings.TrimRight(server, "/") + "/api/runtime/message"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OGPT-Port-ID", portID)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("contact relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("relay answered %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var env domain.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}

	switch p := env.Payload.(type) {
	case domain.AccessConfirmed:
		fmt.Fprintln(out, successStyle.Render("Access confirmed"))
		return nil
	case domain.ErrorMessage:
		return fmt.Errorf("access denied: %s", plainText(p.Message))
	default:
		return fmt.Errorf("unexpected reply %s", env.Key())
	}
}
