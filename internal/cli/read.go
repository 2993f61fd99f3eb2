package cli

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/emoelevate/notesledger/internal/app"
	"github.com/emoelevate/notesledger/internal/cryptox"
	"github.com/emoelevate/notesledger/internal/notes"
	"github.com/spf13/cobra"
)

// noteView is the --json output of one note.
type noteView struct {
	Path          string `json:"path"`
	SessionID     string `json:"sessionId"`
	ClientID      string `json:"clientId"`
	TherapistID   string `json:"therapistId"`
	TherapistName string `json:"therapistName,omitempty"`
	SessionDate   string `json:"sessionDate,omitempty"`
	SessionTime   string `json:"sessionTime,omitempty"`
	BlockHash     string `json:"blockHash,omitempty"`
	Status        string `json:"status"`
	Notes         string `json:"notes"`
}

func newReadCommand(r *runner) *cobra.Command {
	var (
		clientID, sessionID string
		addenda, asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print the notes of a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.App) error {
				id, err := caller(ctx, cmd, a)
				if err != nil {
					return err
				}
				rec, d, err := a.Guarded.ReadNotes(ctx, id, clientID, sessionID)
				if err != nil {
					return err
				}
				views := []noteView{view(rec, d)}

				if addenda {
					list, err := a.Guarded.ListAddenda(ctx, id, clientID, sessionID)
					if errors.Is(err, notes.ErrAddendumUnreadable) {
						cmd.PrintErrf("warning: %v\n", err)
					} else if err != nil {
						return err
					}
					for _, ad := range list {
						d, err := a.Notes.ReadNotes(ctx, ad)
						if err != nil {
							return err
						}
						views = append(views, view(ad, d))
					}
				}

				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(views)
				}
				for _, v := range views {
					if v.Status != cryptox.StatusDecrypted.String() {
						cmd.PrintErrf("warning: %s is %s, shown as stored\n", v.Path, v.Status)
					}
					cmd.Printf("%s (%s %s, %s)\n", v.Path, v.SessionDate, v.SessionTime, v.TherapistName)
					cmd.Println(v.Notes)
					cmd.Println()
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client user id")
	cmd.Flags().StringVar(&sessionID, "session", "", "booking id of the session")
	cmd.Flags().BoolVar(&addenda, "addenda", false, "also print the addenda")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func view(rec *notes.NoteRecord, d cryptox.Decrypted) noteView {
	return noteView{
		Path:          rec.Path(),
		SessionID:     rec.SessionID,
		ClientID:      rec.ClientID,
		TherapistID:   rec.TherapistID,
		TherapistName: rec.TherapistName,
		SessionDate:   rec.SessionDate,
		SessionTime:   rec.SessionTime,
		BlockHash:     rec.BlockHash,
		Status:        d.Status.String(),
		Notes:         d.Text,
	}
}
