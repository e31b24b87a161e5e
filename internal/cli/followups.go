package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"procurement_followup/internal/app"
	"procurement_followup/internal/channel"
	"procurement_followup/internal/dispatch"
	"procurement_followup/internal/followup"

	"github.com/spf13/cobra"
)

func newPendingCmd() *cobra.Command {
	var (
		channelName string
		maxAge      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List attempts still waiting for a transport outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := followup.PendingFilter{}
			if channelName != "" {
				ch, ok := channel.Parse(channelName)
				if !ok {
					return fmt.Errorf("unknown channel %q", channelName)
				}
				filter.Channel = ch
			}
			filter.MaxAge = maxAge
			return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				attempts, err := svc.Attempts.GetPendingJobs(ctx, filter)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), attempts)
			})
		},
	}

	cmd.Flags().StringVar(&channelName, "channel", "", "Only attempts on EMAIL, SMS or VOICE")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Only attempts created within this window")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <order-id>",
		Short: "Ask the model for a free-form order analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				analysis, err := svc.AI.AnalyzeOrder(ctx, orderID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), analysis)
			})
		},
	}
}

func newSendCmd() *cobra.Command {
	var (
		channelName string
		message     string
	)

	cmd := &cobra.Command{
		Use:   "send <order-ref>",
		Short: "Send a manual follow-up through the dispatcher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, ok := channel.Parse(channelName)
			if !ok {
				return fmt.Errorf("unknown channel %q", channelName)
			}
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("--message is required")
			}
			return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				result, err := svc.Dispatcher.SendFollowUp(ctx, dispatch.Request{
					OrderRef: args[0],
					Channel:  ch,
					Message:  message,
					Metadata: map[string]any{"source": "cli"},
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().StringVar(&channelName, "channel", string(channel.Email), "EMAIL, SMS or VOICE")
	cmd.Flags().StringVar(&message, "message", "", "Message body")
	return cmd
}
