package cli

import (
	"context"

	"github.com/emoelevate/notesledger/internal/access"
	"github.com/emoelevate/notesledger/internal/app"
	"github.com/emoelevate/notesledger/internal/archive"
	"github.com/emoelevate/notesledger/internal/common"
	"github.com/spf13/cobra"
)

func newArchiveCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Export verified ledger snapshots to S3",
		Long:  `Snapshots are only written for a chain that verifies. All subcommands require an admin token.`,
	}

	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Verify the ledger and upload a snapshot",
		Args:  cobra.NoArgs,
		RunE: r.withArchiver(func(ctx context.Context, cmd *cobra.Command, ar *archive.Archiver, _ []string) error {
			snap, err := ar.Snapshot(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Uploaded %s (%d blocks)\n", snap.Key, len(snap.Blocks))
			return nil
		}),
	}

	presign := &cobra.Command{
		Use:   "presign [key]",
		Short: "Print a temporary download URL for a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: r.withArchiver(func(ctx context.Context, cmd *cobra.Command, ar *archive.Archiver, args []string) error {
			url, err := ar.PresignGet(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Println(url)
			return nil
		}),
	}

	fetch := &cobra.Command{
		Use:   "fetch [key]",
		Short: "Download a snapshot and verify it",
		Args:  cobra.ExactArgs(1),
		RunE: r.withArchiver(func(ctx context.Context, cmd *cobra.Command, ar *archive.Archiver, args []string) error {
			snap, err := ar.Fetch(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Snapshot OK: %d blocks, head %s\n", len(snap.Blocks), snap.Head)
			return nil
		}),
	}

	cmd.AddCommand(snapshot, presign, fetch)
	return cmd
}

type archiveFunc func(ctx context.Context, cmd *cobra.Command, ar *archive.Archiver, args []string) error

// withArchiver checks for an admin caller before handing over the archiver.
func (r *runner) withArchiver(fn archiveFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return r.withApp(cmd, func(ctx context.Context, a *app.App) error {
			id, err := caller(ctx, cmd, a)
			if err != nil {
				return err
			}
			if !id.Active || id.Role != access.RoleAdmin {
				return common.ErrorForbidden
			}
			ar, err := a.Archiver()
			if err != nil {
				return err
			}
			return fn(ctx, cmd, ar, args)
		})
	}
}
