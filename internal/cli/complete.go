package cli

import (
	"context"

	"github.com/emoelevate/notesledger/internal/access"
	"github.com/emoelevate/notesledger/internal/app"
	"github.com/emoelevate/notesledger/internal/notes"
	"github.com/spf13/cobra"
)

type sessionFlags struct {
	session string
	client  string
	date    string
	time    string
	text    string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.session, "session", "", "booking id of the session")
	cmd.Flags().StringVar(&f.client, "client", "", "client user id")
	cmd.Flags().StringVar(&f.date, "date", "", "scheduled date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.time, "time", "", "scheduled time (HH:MM)")
	cmd.Flags().StringVar(&f.text, "text", "", "note text (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("client")
}

// writeFunc matches the method expressions of *notes.Guarded.
type writeFunc func(g *notes.Guarded, ctx context.Context, id access.Identity, s notes.Session, text string) (*notes.NoteRecord, error)

func (r *runner) noteCommand(f *sessionFlags, write writeFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		text, err := readNoteText(cmd.InOrStdin(), cmd.ErrOrStderr(), f.text)
		if err != nil {
			return err
		}
		return r.withApp(cmd, func(ctx context.Context, a *app.App) error {
			id, err := caller(ctx, cmd, a)
			if err != nil {
				return err
			}
			s := notes.Session{
				ID:            f.session,
				ClientID:      f.client,
				TherapistID:   id.TherapistKey,
				ScheduledDate: f.date,
				ScheduledTime: f.time,
			}
			rec, err := write(a.Guarded, ctx, id, s, text)
			if err != nil {
				return err
			}
			cmd.Printf("Stored %s\n", rec.Path())
			cmd.Printf("  Block: %s\n", rec.BlockHash)
			return nil
		})
	}
}

func newCompleteCommand(r *runner) *cobra.Command {
	f := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Complete a session and store its notes",
		Long: `Encrypts the session notes, notarizes them in the ledger and marks the
booking completed, all in one commit. A session can be completed once.`,
		Args: cobra.NoArgs,
	}
	f.register(cmd)
	cmd.RunE = r.noteCommand(f, (*notes.Guarded).CompleteSessionWithNotes)
	return cmd
}

func newAddendumCommand(r *runner) *cobra.Command {
	f := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "addendum",
		Short: "Append additional notes to a completed session",
		Args:  cobra.NoArgs,
	}
	f.register(cmd)
	cmd.RunE = r.noteCommand(f, (*notes.Guarded).AppendAdditionalNotes)
	return cmd
}
