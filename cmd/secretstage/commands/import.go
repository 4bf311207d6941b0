package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/systmms/secretstage/internal/config"
	sserrors "github.com/systmms/secretstage/internal/errors"
	"github.com/systmms/secretstage/internal/importer"
)

func NewImportCommand(cfg *config.Config) *cobra.Command {
	var (
		source      string
		outFile     string
		namespace   string
		description string
		overwrite   bool
	)

	cmd := &cobra.Command{
		Use:   "import --source FILE --out FILE",
		Short: "Move secrets from a dotenv file into the store",
		Long: `Read a dotenv file, add every value whose name looks like a secret to the
store, and write the remaining configuration plus one version pointer per
secret to the output dotenv file.

Existing store values and existing entries in the output file that differ
from the source stop the import unless --overwrite is given.

Examples:
  secretstage import --source heroku.env --out .env
  secretstage import --source prod.env --out .env.production --namespace payments --overwrite`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			def := cfg.Definition

			m, err := def.Matcher()
			if err != nil {
				return sserrors.ConfigError{
					Field:      "secret_name_tokens",
					Message:    err.Error(),
					Suggestion: "Each token must be a valid regular expression",
				}
			}

			values, err := importer.ReadSource(source)
			if err != nil {
				return err
			}

			if description == "" {
				description = "imported from " + source
			}

			imp := importer.New(client, def.Naming(), m, cfg.Logger.Zap())
			res, err := imp.Import(ctx, values, outFile, importer.Options{
				Namespace:   namespace,
				Description: description,
				Overwrite:   overwrite,
				DoNotImport: def.DoNotImport(),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			pointers := make([]string, 0, len(res.Pointers))
			for name := range res.Pointers {
				pointers = append(pointers, name)
			}
			sort.Strings(pointers)
			fmt.Fprintf(out, "Imported %d secrets and %d configs into %s\n", len(pointers), len(res.Configs), outFile)
			for _, name := range pointers {
				fmt.Fprintf(out, "  %s=%d\n", name, res.Pointers[name])
			}
			for _, name := range res.Skipped {
				fmt.Fprintf(out, "  skipped %s\n", name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Dotenv file to import (required)")
	cmd.Flags().StringVar(&outFile, "out", ".env", "Dotenv file to write pointers and configs to")
	cmd.Flags().StringVar(&namespace, "namespace", "", "Store namespace (defaults to secrets_namespace)")
	cmd.Flags().StringVar(&description, "description", "", "Description for created secrets (default \"imported from <source>\")")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace differing store values and file entries")

	_ = cmd.MarkFlagRequired("source")

	return cmd
}
