package cli

import (
	"context"

	"github.com/emoelevate/notesledger/internal/app"
	"github.com/emoelevate/notesledger/internal/notes"
	"github.com/spf13/cobra"
)

func newBookCommand(r *runner) *cobra.Command {
	var s notes.Session
	var therapistID string
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Schedule a session",
		Long: `Creates the therapist's and the client's copy of a booking. Without
--session a time-ordered id is generated. Clients book for themselves;
admins name the client with --client.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.App) error {
				id, err := caller(ctx, cmd, a)
				if err != nil {
					return err
				}
				booked, err := a.Guarded.Book(ctx, id, s, notes.Therapist{ID: therapistID})
				if err != nil {
					return err
				}
				cmd.Printf("Booked %s\n", booked.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&s.ID, "session", "", "booking id (generated when empty)")
	cmd.Flags().StringVar(&s.ClientID, "client", "", "client user id (defaults to the caller)")
	cmd.Flags().StringVar(&s.ScheduledDate, "date", "", "scheduled date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&s.ScheduledTime, "time", "", "scheduled time (HH:MM)")
	cmd.Flags().StringVar(&therapistID, "therapist", "", "therapist key")
	_ = cmd.MarkFlagRequired("therapist")
	return cmd
}
