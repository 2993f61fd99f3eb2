package cli

import (
	"context"
	"fmt"

	"github.com/emoelevate/notesledger/internal/app"
	"github.com/emoelevate/notesledger/internal/common"
	"github.com/spf13/cobra"
)

func newReconcileCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Find ledger blocks and note records that lost their counterpart",
		Long: `Cross-checks the ledger against the stored note records and lists every
orphan. Nothing is repaired. Requires an admin token; exits non-zero when
orphans are found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.App) error {
				id, err := caller(ctx, cmd, a)
				if err != nil {
					return err
				}
				orphans, err := a.Guarded.Reconcile(ctx, id)
				if err != nil {
					return err
				}
				if len(orphans) == 0 {
					cmd.Println("No orphans found")
					return nil
				}
				for _, o := range orphans {
					cmd.Printf("%-6s %s\n", o.Kind, o.RecordPath)
					if o.BlockHash != "" {
						cmd.Printf("  Block: %s\n", o.BlockHash)
					}
					cmd.Printf("  Reason: %s\n", o.Reason)
				}
				return fmt.Errorf("%w: %d orphans", common.ErrPartialCompletion, len(orphans))
			})
		},
	}
}
