package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inercia/helpdesk/internal/session"
)

var resetAll bool

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the active ticket",
	Long: `Forget the active ticket, its read marker and the unread flag.

Running chats and watchers stop polling for it. The user role is kept
unless --all is given.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().BoolVar(&resetAll, "all", false, "Also forget the user role")
}

func runReset(cmd *cobra.Command, args []string) error {
	return withStore(func(store *session.Store) error {
		clearFn := store.Clear
		if resetAll {
			clearFn = store.ClearAll
		}
		if err := clearFn(); err != nil {
			return fmt.Errorf("failed to reset session: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Session reset.")
		return nil
	})
}
