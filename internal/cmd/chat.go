package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inercia/helpdesk/internal/console"
	"github.com/inercia/helpdesk/internal/hooks"
	"github.com/inercia/helpdesk/internal/logging"
	"github.com/inercia/helpdesk/internal/session"
	"github.com/inercia/helpdesk/internal/storage"
	"github.com/inercia/helpdesk/internal/widget"
)

var (
	// chat-specific flags
	chatOpen bool
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive support chat",
	Long: `Start an interactive support chat.

The active ticket is restored from the shared session state and checked
against the server. Replies are polled in the background; while the chat is
closed they raise an unread indicator instead of being printed.

Commands:
  /open, /close       - Open or close the chat
  /new "subject" ...  - Create a ticket
  /status             - Show the current ticket
  /transcript [path]  - Print or save the conversation
  /reset              - Forget the current ticket
  /quit, /exit        - Exit
  /help               - Show available commands`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().BoolVar(&chatOpen, "open", false, "Open the chat right away")
}

// newController wires a controller to the configured server and the shared
// session state.
func newController(st storage.Storage, view widget.View) (*widget.Controller, error) {
	api := newClient()
	opts := widget.Options{
		API:                  api,
		Store:                session.NewStore(st),
		View:                 view,
		MessageCheckInterval: cfg.Polling.MessageCheckInterval.Std(),
		UnreadCheckInterval:  cfg.Polling.UnreadCheckInterval.Std(),
		BotMaxMessages:       cfg.Bot.MaxMessages,
		BotDelay:             cfg.Bot.Delay.Std(),
		ComposingDelay:       cfg.Bot.ComposingDelay.Std(),
		NoticeTTL:            cfg.UI.NoticeTTL.Std(),
		Logger:               logging.Get(),
	}
	if cfg.Push.Enabled {
		opts.Push = api
	}
	return widget.New(opts)
}

// newView returns the console view for out, wrapped so the configured hooks
// run on unread and resolved events.
func newView(out io.Writer, notifier *hooks.Notifier) widget.View {
	var opts []console.ViewOption
	if cfg.UI.NoColor {
		opts = append(opts, console.WithoutColor())
	}
	return hooks.WrapView(console.NewView(out, opts...), notifier)
}

// runSession runs fn with a started controller and tears everything down in
// order when fn returns or a signal arrives.
func runSession(cmd *cobra.Command, fn func(ctx context.Context, ctrl *widget.Controller, sm *hooks.ShutdownManager) error) error {
	out := cmd.OutOrStdout()

	st, err := openStorage()
	if err != nil {
		return err
	}
	notifier := hooks.NewNotifier(cfg.Hooks)
	ctrl, err := newController(st, newView(out, notifier))
	if err != nil {
		st.Close()
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sm := hooks.NewShutdownManager()
	sm.SetNotifier(notifier)
	sm.AddCleanup(func(string) { ctrl.Stop() })
	sm.AddCleanup(func(string) { _ = st.Close() })
	sm.SetTerminateUI(cancel)
	sm.Start()
	defer sm.Shutdown("command finished")

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, ctrl, sm)
}

func runChat(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected to %s\n", cfg.Server.BaseURL)

	return runSession(cmd, func(ctx context.Context, ctrl *widget.Controller, sm *hooks.ShutdownManager) error {
		// A signal cannot interrupt a blocking read, so leave once the
		// cleanups have run.
		go func() {
			<-sm.Done()
			if strings.HasPrefix(sm.Reason(), "signal:") {
				fmt.Fprintln(out, "\nGoodbye!")
				_ = logging.Close()
				os.Exit(0)
			}
		}()

		if chatOpen {
			if err := ctrl.Open(ctx); err != nil {
				return err
			}
		}
		return console.NewShell(ctrl, out).Run(ctx)
	})
}
