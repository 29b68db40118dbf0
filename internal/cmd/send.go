package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inercia/helpdesk/internal/session"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Send a message to the active ticket",
	Long: `Send a message to the active ticket without opening the chat.

The message counts as read: the shared read marker moves to it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("message is empty")
	}

	return withStore(func(store *session.Store) error {
		sess := store.Load()
		if !sess.HasTicket() {
			return fmt.Errorf("no active ticket: create one with 'helpdesk ticket new'")
		}

		res, err := newClient().SendMessage(cmd.Context(), sess.TicketID(), text)
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		if res.MessageID != "" {
			if err := store.SaveMarker(sess.TicketID(), res.MessageID); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Message sent.")
		if res.Resolved {
			fmt.Fprintln(out, "The ticket has been resolved.")
		}
		return nil
	})
}
