package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/secretstage/internal/config"
	sserrors "github.com/systmms/secretstage/internal/errors"
)

func NewAddCommand(cfg *config.Config) *cobra.Command {
	var (
		namespace   string
		description string
		value       string
		fromStdin   bool
	)

	cmd := &cobra.Command{
		Use:   "add NAME (--value VALUE | --from-stdin)",
		Short: "Add a new version of a secret",
		Long: `Store a value as the next version of a secret and print the pointer
variable that selects it. Set that variable in the application's
environment to roll the new version out.

Examples:
  secretstage add db_password --value hunter2
  printf '%s' "$TOKEN" | secretstage add api_token --from-stdin --namespace payments`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromStdin == cmd.Flags().Changed("value") {
				return sserrors.UserError{
					Message:    "Exactly one of --value or --from-stdin is required",
					Suggestion: "Prefer --from-stdin so the value stays out of shell history",
				}
			}
			if fromStdin {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read value from stdin: %w", err)
				}
				value = strings.TrimRight(string(data), "\r\n")
			}

			ctx := cmd.Context()
			client, err := newClient(ctx, cfg, loadOptions{})
			if err != nil {
				return err
			}

			pointer, version, err := client.AddOrUpdate(ctx, args[0], namespace, value, description)
			if err != nil {
				return err
			}

			cfg.Logger.Info("Added version %d of %s", version, strings.ToLower(args[0]))
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%d\n", pointer, version)
			return nil
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "", "Store namespace (defaults to secrets_namespace)")
	cmd.Flags().StringVar(&description, "description", "", "Description for a newly created secret")
	cmd.Flags().StringVar(&value, "value", "", "Secret value")
	cmd.Flags().BoolVar(&fromStdin, "from-stdin", false, "Read the secret value from stdin")

	return cmd
}
