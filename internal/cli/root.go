// Package cli is the notesledger command line: it completes sessions,
// appends addenda, reads notes and audits the ledger.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/emoelevate/notesledger/internal/access"
	"github.com/emoelevate/notesledger/internal/app"
	"github.com/emoelevate/notesledger/internal/config"
	"github.com/spf13/cobra"
)

const (
	flagToken = "token"
	// TokenEnv is read when --token is not given.
	TokenEnv = "NOTESLEDGER_TOKEN"
)

// Opener builds the App a command runs against.
type Opener func(ctx context.Context, cfg *config.Config) (*app.App, error)

// DefaultOpener is app.New.
func DefaultOpener(ctx context.Context, cfg *config.Config) (*app.App, error) {
	return app.New(ctx, cfg)
}

// NewRootCommand returns the notesledger command tree.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "notesledger",
		Short: "Tamper-evident therapy session notes",
		Long: `notesledger stores encrypted therapist session notes and notarizes
every note in an append-only, hash-linked ledger that can be verified
and archived independently of the live store.`,
		SilenceUsage: true,
	}
	config.RegisterFlags(root.PersistentFlags())
	root.PersistentFlags().String(flagToken, "", "bearer token of the caller (default $"+TokenEnv+")")

	r := &runner{open: open}
	root.AddCommand(
		newBookCommand(r),
		newCompleteCommand(r),
		newAddendumCommand(r),
		newReadCommand(r),
		newVerifyCommand(r),
		newReconcileCommand(r),
		newArchiveCommand(r),
		newTokenCommand(r),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI against the real backends.
func Execute(ctx context.Context) error {
	return NewRootCommand(DefaultOpener).ExecuteContext(ctx)
}

type runner struct {
	open Opener
}

// withApp loads the configuration from cmd's flags, opens the App and runs fn.
func (r *runner) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.LoadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := r.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			a.Logger.Error(ctx, "close store", "error", cerr)
		}
	}()
	return fn(ctx, a)
}

// caller authenticates the token given by --token or the environment.
func caller(ctx context.Context, cmd *cobra.Command, a *app.App) (access.Identity, error) {
	tok, err := cmd.Flags().GetString(flagToken)
	if err != nil {
		return access.Identity{}, err
	}
	if tok == "" {
		tok = os.Getenv(TokenEnv)
	}
	if tok == "" {
		return access.Identity{}, fmt.Errorf("a token is required: pass --%s or set %s", flagToken, TokenEnv)
	}
	return a.Authenticate(ctx, tok)
}
