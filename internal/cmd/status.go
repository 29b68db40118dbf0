package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inercia/helpdesk/internal/console"
	"github.com/inercia/helpdesk/internal/session"
	"github.com/inercia/helpdesk/internal/widget"
)

var statusCheck bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active ticket and unread state",
	Long: `Show the session shared by every helpdesk process: the active ticket,
the last message read and whether replies are waiting.

With --check the server is asked for the unread count as well; the result
is reported but the shared state is left untouched.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusCheck, "check", false, "Also ask the server for the unread count")
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	return withStore(func(store *session.Store) error {
		sess := store.Load()
		fmt.Fprint(out, console.FormatStatus(widget.State{
			Session:          sess,
			IndicatorVisible: sess.IndicatorVisible(),
		}))

		if !statusCheck {
			return nil
		}
		uc, err := newClient().PollUnread(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to check unread count: %w", err)
		}
		fmt.Fprintf(out, "Server:    %d unread\n", uc.TotalUnread)
		return nil
	})
}
