package cli

import (
	"context"
	"fmt"

	"github.com/emoelevate/notesledger/internal/app"
	"github.com/spf13/cobra"
)

func newTokenCommand(r *runner) *cobra.Command {
	var uid string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an identity token for a user",
		Long: `Signs a token for uid with the configured JWT secret. The user must
exist in the directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if _, err := a.Directory.Resolve(ctx, uid); err != nil {
					return fmt.Errorf("resolve %s: %w", uid, err)
				}
				tokens, err := a.Tokens(ctx)
				if err != nil {
					return err
				}
				tok, err := tokens.IssueToken(uid)
				if err != nil {
					return err
				}
				cmd.Println(tok)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&uid, "uid", "", "user id")
	_ = cmd.MarkFlagRequired("uid")
	return cmd
}
