package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/systmms/secretstage/internal/config"
	"github.com/systmms/secretstage/internal/execenv"
	"github.com/systmms/secretstage/pkg/reconcile"
)

func NewLoadCommand(cfg *config.Config) *cobra.Command {
	var (
		opts    loadOptions
		outFile string
	)

	cmd := &cobra.Command{
		Use:   "load [--out FILE]",
		Short: "Resolve the secrets pointed to by the current environment",
		Long: `Resolve every SECRET_VERSION_ENV_<NAME> pointer in the current environment
and apply the clash policy against the variables already set.

Without --out the loaded names are printed with masked values. With --out
the loaded values are written to a dotenv file.

Examples:
  secretstage load
  secretstage load --policy raise
  secretstage load --force DATABASE_URL --out .env.secrets`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := newClient(ctx, cfg, opts)
			if err != nil {
				return err
			}

			environ := reconcile.Snapshot()
			env := reconcile.Snapshot()
			summary, err := client.LoadIntoEnv(ctx, environ, env)
			if err != nil {
				return err
			}
			if summary.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "Secret loading is disabled")
				return nil
			}

			if outFile != "" {
				values := make(map[string]string, len(summary.Loaded))
				for _, name := range summary.Loaded {
					values[name] = env[name]
				}
				if err := godotenv.Write(values, outFile); err != nil {
					return fmt.Errorf("failed to write %s: %w", outFile, err)
				}
				if err := os.Chmod(outFile, 0o600); err != nil {
					return fmt.Errorf("failed to restrict permissions on %s: %w", outFile, err)
				}
				cfg.Logger.Info("Wrote %d secrets to %s", len(values), outFile)
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Loaded %d secrets in %s\n", len(summary.Loaded), summary.Duration)
			for _, name := range summary.Loaded {
				fmt.Fprintf(out, "  %s=%s\n", name, execenv.MaskValue(env[name]))
			}
			for _, name := range summary.Preserved {
				fmt.Fprintf(out, "  preserved existing %s\n", name)
			}
			for _, name := range summary.Overwritten {
				fmt.Fprintf(out, "  overwrote existing %s\n", name)
			}
			return nil
		},
	}

	addLoadFlags(cmd, &opts)
	cmd.Flags().StringVar(&outFile, "out", "", "Write loaded secrets to this dotenv file")

	return cmd
}

func addLoadFlags(cmd *cobra.Command, opts *loadOptions) {
	cmd.Flags().StringVar(&opts.policy, "policy", "", "Clash policy: raise, preserve or overwrite (defaults to clash_policy)")
	cmd.Flags().StringSliceVar(&opts.force, "force", nil, "Variables that always take the fetched value")
}
