package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/secretstage/internal/config"
)

func NewStageCommand(cfg *config.Config) *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:   "stage NAME",
		Short: "Show the highest version stage of a secret",
		Long: `List the versions of a secret and print its highest version stage label,
the version it is attached to, and the pointer variable that selects it.

Examples:
  secretstage stage db_password
  secretstage stage api_token --namespace payments`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := newClient(ctx, cfg, loadOptions{})
			if err != nil {
				return err
			}

			id, history, err := client.CurrentStage(ctx, args[0], namespace)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case !history.Exists:
				fmt.Fprintf(out, "%s does not exist\n", id.StoreKey())
			case !history.Staged:
				fmt.Fprintf(out, "%s has %d versions but no version stage\n", id.StoreKey(), history.Versions)
			default:
				fmt.Fprintf(out, "%s\t%s\t%s=%d\n",
					client.Naming().StageLabel(history.Latest),
					history.VersionID,
					id.PointerName(),
					history.Latest.Number())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "", "Store namespace (defaults to secrets_namespace)")

	return cmd
}
