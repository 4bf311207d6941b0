package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/secretstage/internal/config"
	sserrors "github.com/systmms/secretstage/internal/errors"
	"github.com/systmms/secretstage/internal/execenv"
	"github.com/systmms/secretstage/internal/secure"
	"github.com/systmms/secretstage/pkg/reconcile"
)

func NewExecCommand(cfg *config.Config) *cobra.Command {
	var (
		opts       loadOptions
		printVars  bool
		workingDir string
		timeout    int
	)

	cmd := &cobra.Command{
		Use:   "exec [flags] -- <command> [args...]",
		Short: "Execute command with secrets loaded into its environment",
		Long: `Resolve the secret pointers in the current environment and run a command
with the result. Loaded values stay encrypted in memory until the child
process starts and are never written to disk.

The command must be separated from secretstage arguments with '--'.

Examples:
  secretstage exec -- npm start
  secretstage exec --policy overwrite -- bundle exec rails server
  secretstage exec --print -- python app.py`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return sserrors.UserError{
					Message:    "No command specified",
					Suggestion: "Use: secretstage exec -- <command> [args...]",
				}
			}
			if err := execenv.ValidateCommand(args); err != nil {
				return err
			}

			ctx := cmd.Context()
			client, err := newClient(ctx, cfg, opts)
			if err != nil {
				return err
			}

			env := secure.NewSealedEnv(os.Environ())
			defer env.Destroy()

			if _, err := client.LoadIntoEnv(ctx, reconcile.Snapshot(), env); err != nil {
				return err
			}

			return execenv.New(cfg.Logger).Exec(ctx, execenv.ExecOptions{
				Command:    args,
				Env:        env,
				PrintVars:  printVars,
				WorkingDir: workingDir,
				Timeout:    timeout,
				Stdin:      cmd.InOrStdin(),
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			})
		},
	}

	addLoadFlags(cmd, &opts)
	cmd.Flags().BoolVar(&printVars, "print", false, "Print loaded secrets (values masked)")
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "Working directory for the command")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Command timeout in seconds (0 for no timeout)")

	return cmd
}
