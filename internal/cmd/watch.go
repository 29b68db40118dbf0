package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/inercia/helpdesk/internal/hooks"
	"github.com/inercia/helpdesk/internal/widget"
)

var (
	watchFor time.Duration
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the active ticket for replies",
	Long: `Poll the active ticket in the background without opening the chat.

New replies raise the unread indicator and run the configured unread hook.
The read marker is shared with every other helpdesk process, so a reply
read in a chat elsewhere is not announced here.

Examples:
  helpdesk watch               # until interrupted
  helpdesk watch --for 10m     # stop after ten minutes`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchFor, "for", 0, "Stop after this long (0 means until interrupted)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", cfg.Server.BaseURL)

	return runSession(cmd, func(ctx context.Context, ctrl *widget.Controller, sm *hooks.ShutdownManager) error {
		var timeout <-chan time.Time
		if watchFor > 0 {
			timer := time.NewTimer(watchFor)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case <-ctx.Done():
		case <-sm.Done():
		case <-timeout:
		}
		return nil
	})
}
