package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/systmms/secretstage/cmd/secretstage/commands"
	"github.com/systmms/secretstage/internal/config"
	sserrors "github.com/systmms/secretstage/internal/errors"
	"github.com/systmms/secretstage/internal/execenv"
	"github.com/systmms/secretstage/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	code := 0
	if err := run(); err != nil {
		var exitErr *execenv.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", sserrors.Explain(err))
			code = 1
		}
	}
	memguard.Purge()
	os.Exit(code)
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{Logger: logging.NewNop()}

	rootCmd := &cobra.Command{
		Use:   "secretstage",
		Short: "Versioned secrets pinned by environment pointers",
		Long: `secretstage stores secrets as labelled versions in AWS Secrets Manager and
loads the version each SECRET_VERSION_ENV_<NAME> pointer asks for into the
environment.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default "+config.DefaultPath+" if present)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewAddCommand(cfg),
		commands.NewLoadCommand(cfg),
		commands.NewExecCommand(cfg),
		commands.NewImportCommand(cfg),
		commands.NewStageCommand(cfg),
		commands.NewCompletionCommand(cfg),
	)

	err := rootCmd.Execute()
	if werr := commands.FlushMetrics(cfg); werr != nil {
		cfg.Logger.Warn("failed to write metrics: %v", werr)
	}
	cfg.Logger.Sync()
	return err
}
