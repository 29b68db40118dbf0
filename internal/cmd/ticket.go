package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inercia/helpdesk/internal/console"
	"github.com/inercia/helpdesk/internal/session"
	"github.com/inercia/helpdesk/internal/transcript"
)

var (
	ticketFields []string
)

// ticketCmd represents the ticket parent command
var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Manage the active ticket",
}

// ticketNewCmd represents the ticket new subcommand
var ticketNewCmd = &cobra.Command{
	Use:   "new <subject> [description]",
	Short: "Create a ticket and make it the active one",
	Long: `Create a ticket on the support server and make it the active ticket.

Running chats and watchers pick the new ticket up immediately.

Examples:
  helpdesk ticket new "VPN broken" "Since this morning"
  helpdesk ticket new "Printer jam" --field category=hardware`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runTicketNew,
}

func init() {
	rootCmd.AddCommand(ticketCmd)
	ticketCmd.AddCommand(ticketNewCmd)

	ticketNewCmd.Flags().StringArrayVar(&ticketFields, "field", nil, "Extra form field as name=value. Can be specified multiple times.")
}

func runTicketNew(cmd *cobra.Command, args []string) error {
	for _, f := range ticketFields {
		if k, _, ok := strings.Cut(f, "="); !ok || k == "" {
			return fmt.Errorf("invalid --field %q: expected name=value", f)
		}
	}
	form, err := console.TicketForm(append(append([]string(nil), args...), ticketFields...))
	if err != nil {
		return err
	}

	ct, err := newClient().CreateTicket(cmd.Context(), form)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	t := session.Ticket{ID: ct.ID, HumanID: ct.HumanID, Status: ct.Status, UserRole: ct.UserRole}

	err = withStore(func(store *session.Store) error {
		role := store.Load().UserRole
		if t.UserRole != "" {
			role = t.UserRole
		}
		return errors.Join(
			store.SaveTicket(&t),
			store.SaveMarker("", ""),
			store.SaveUnread(false),
			store.SaveRole(role),
		)
	})
	if err != nil {
		return fmt.Errorf("ticket created but not saved: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", transcript.Document{Ticket: t}.Title(), t.ID)
	return nil
}
