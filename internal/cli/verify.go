package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/emoelevate/notesledger/internal/app"
	"github.com/emoelevate/notesledger/internal/archive"
	"github.com/spf13/cobra"
)

func newVerifyCommand(r *runner) *cobra.Command {
	var sessionID, clientID, snapshot string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the ledger",
		Long: `Checks every block's hash and its link to the previous block.

With --session only the blocks of that session are reported, but the whole
chain is still checked. Adding --client also checks the stored note record
against its block (requires a token).

With --snapshot a downloaded archive file is checked offline; no store is
opened.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if snapshot != "" {
				return verifySnapshotFile(cmd, snapshot)
			}
			return r.withApp(cmd, func(ctx context.Context, a *app.App) error {
				rep, err := a.Verifier.VerifyChain(ctx, sessionID)
				if err != nil {
					return err
				}
				cmd.Printf("Ledger OK: %d blocks, head %s\n", rep.Blocks, rep.Head)
				if !rep.HeadConsistent {
					cmd.PrintErrln("warning: stored head does not name the last block")
				}
				if sessionID == "" {
					return nil
				}
				cmd.Printf("Session %s: %d blocks\n", sessionID, rep.SessionBlocks)
				if clientID == "" {
					return nil
				}

				id, err := caller(ctx, cmd, a)
				if err != nil {
					return err
				}
				b, err := a.Guarded.VerifyRecord(ctx, id, clientID, sessionID)
				if err != nil {
					return err
				}
				cmd.Printf("Record matches block %s\n", b.Hash)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "report only the blocks of this session")
	cmd.Flags().StringVar(&clientID, "client", "", "also check the session's note record")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "verify an archived snapshot file instead of the store")
	return cmd
}

func verifySnapshotFile(cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := archive.VerifySnapshot(data)
	if err != nil {
		return err
	}
	cmd.Printf("Snapshot OK: %d blocks, head %s, exported %s\n", len(snap.Blocks), snap.Head, snap.ExportedAt.Format(time.RFC3339))
	return nil
}
