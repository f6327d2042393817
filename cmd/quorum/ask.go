package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/natsbus"
)

var (
	askURL          string
	askTimeout      time.Duration
	askConversation string
)

var askCmd = &cobra.Command{
	Use:   "ask <request>",
	Short: "Submit a request to a running server",
	Long: `Submit a request over NATS and print the merged response.

Examples:
  quorum ask "research the latest Go release"
  quorum ask "@code review this function" --timeout 5m
  quorum ask "everyone: how should we name this project?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askURL, "url", "", "NATS URL (default from config)")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 3*time.Minute, "How long to wait for the response")
	askCmd.Flags().StringVar(&askConversation, "conversation", "", "Conversation id to log the exchange under")
}

func runAsk(cmd *cobra.Command, args []string) error {
	url := askURL
	if url == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		url = cfg.NATS.ClientURL()
	}

	client, err := natsbus.NewClientFromURL(url)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", url, err)
	}
	defer client.Close()

	req := natsbus.SubmitRequest{
		Text:    strings.Join(args, " "),
		Context: map[string]any{agent.SenderKey: "cli"},
	}
	if askConversation != "" {
		req.Context[agent.ConversationKey] = askConversation
	}

	var reply natsbus.SubmitReply
	if err := client.RequestJSON(natsbus.TopicSubmit, req, &reply, askTimeout); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if reply.Error != "" {
		return fmt.Errorf("rejected: %s", reply.Error)
	}

	printReply(cmd.OutOrStdout(), reply)
	if !reply.Success {
		os.Exit(2)
	}
	return nil
}

func printReply(w io.Writer, reply natsbus.SubmitReply) {
	status := color.GreenString("ok")
	if !reply.Success {
		status = color.RedString("failed")
	}
	roles := strings.Join(reply.Roles, ", ")
	if roles == "" {
		roles = "-"
	}
	fmt.Fprintf(w, "%s %s %s\n\n", status,
		color.CyanString("[%s]", roles),
		color.New(color.Faint).Sprintf("%s in %.0fms", reply.RequestID, reply.DurationMs))
	fmt.Fprintln(w, reply.MergedOutput)
}
