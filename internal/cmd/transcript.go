package cmd

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inercia/helpdesk/internal/fileutil"
	"github.com/inercia/helpdesk/internal/session"
	"github.com/inercia/helpdesk/internal/transcript"
)

var (
	transcriptOutput string
	transcriptFormat string
)

// transcriptCmd represents the transcript command
var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Export the conversation of the active ticket",
	Long: `Fetch the full conversation of the active ticket and print or save it.

The format follows --format, or the extension of --output (.md, .html),
and defaults to plain text. HTML output is sanitized.

Examples:
  helpdesk transcript
  helpdesk transcript -o ticket.html`,
	Args: cobra.NoArgs,
	RunE: runTranscript,
}

func init() {
	rootCmd.AddCommand(transcriptCmd)

	transcriptCmd.Flags().StringVarP(&transcriptOutput, "output", "o", "", "Write to this file instead of stdout")
	transcriptCmd.Flags().StringVar(&transcriptFormat, "format", "", "Output format: text, markdown, html")
}

func runTranscript(cmd *cobra.Command, args []string) error {
	format := transcript.FormatText
	if transcriptOutput != "" {
		format = transcript.FormatForPath(transcriptOutput)
	}
	if transcriptFormat != "" {
		f, err := transcript.ParseFormat(transcriptFormat)
		if err != nil {
			return err
		}
		format = f
	}

	var sess session.Session
	if err := withStore(func(store *session.Store) error {
		sess = store.Load()
		return nil
	}); err != nil {
		return err
	}
	if !sess.HasTicket() {
		return fmt.Errorf("no active ticket")
	}

	h, err := newClient().LoadHistory(cmd.Context(), sess.TicketID())
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	doc := transcript.Document{Ticket: *sess.ActiveTicket, Messages: h.Messages}
	if h.Status != "" {
		doc.Ticket.Status = h.Status
	}

	var buf bytes.Buffer
	if err := transcript.New().Write(&buf, doc, format); err != nil {
		return err
	}
	if transcriptOutput == "" {
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}
	if err := fileutil.WriteFileAtomic(transcriptOutput, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Transcript saved to %s\n", transcriptOutput)
	return nil
}
