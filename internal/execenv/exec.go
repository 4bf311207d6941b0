// Package execenv runs a child command with secrets loaded into its
// environment.
package execenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	sserrors "github.com/systmms/secretstage/internal/errors"
	"github.com/systmms/secretstage/internal/logging"
	"github.com/systmms/secretstage/internal/secure"
)

// Executor handles running commands with a sealed environment
type Executor struct {
	logger *logging.Logger
}

// New creates a new executor
func New(logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		logger: logger,
	}
}

// ExecOptions configures command execution
type ExecOptions struct {
	Command    []string          // Command and arguments to run
	Env        *secure.SealedEnv // Full environment of the child
	PrintVars  bool              // Print loaded variable names with masked values
	WorkingDir string            // Working directory for the command
	Timeout    int               // Timeout in seconds (0 for no timeout)

	// Standard streams, defaulting to the process's own
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// ExitError carries a non-zero exit code of the child process.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

// Exec runs the command and waits for it. A child that exits non-zero is
// reported as *ExitError so the caller can propagate the code.
func (e *Executor) Exec(ctx context.Context, options ExecOptions) error {
	if err := ValidateCommand(options.Command); err != nil {
		return err
	}

	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(options.Timeout)*time.Second)
		defer cancel()
	}

	env := options.Env
	if env == nil {
		env = secure.NewSealedEnv(os.Environ())
	}
	environ, err := env.Environ()
	if err != nil {
		return sserrors.UserError{
			Message:    "Failed to build environment",
			Details:    err.Error(),
			Suggestion: "Raise RLIMIT_MEMLOCK or run without memory locking restrictions",
			Err:        err,
		}
	}

	stdout := writerOr(options.Stdout, os.Stdout)
	if options.PrintVars {
		printEnvironment(stdout, env)
	}

	cmdName := options.Command[0]
	cmd := exec.CommandContext(ctx, cmdName, options.Command[1:]...)
	cmd.Env = environ
	cmd.Stdout = stdout
	cmd.Stderr = writerOr(options.Stderr, os.Stderr)
	cmd.Stdin = os.Stdin
	if options.Stdin != nil {
		cmd.Stdin = options.Stdin
	}
	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}

	e.logger.Debug("Executing command: %s", strings.Join(options.Command, " "))
	e.logger.Debug("Loaded secrets: %d", len(env.SealedNames()))

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				code = 1
			}
			return &ExitError{Command: cmdName, Code: code}
		}
		return sserrors.CommandError{
			Command:    strings.Join(options.Command, " "),
			Message:    err.Error(),
			Suggestion: "Check the command output above for details",
		}
	}

	return nil
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}

// printEnvironment lists the sealed variables with masked values
func printEnvironment(w io.Writer, env *secure.SealedEnv) {
	names := env.SealedNames()
	if len(names) == 0 {
		fmt.Fprintln(w, "No secrets loaded")
		return
	}

	fmt.Fprintf(w, "Loaded %d secrets:\n", len(names))
	for _, name := range names {
		value, _ := env.Lookup(name)
		fmt.Fprintf(w, "  %s=%s\n", name, MaskValue(value))
	}
	fmt.Fprintln(w)
}

// MaskValue masks a secret value for display
func MaskValue(value string) string {
	if len(value) == 0 {
		return "(empty)"
	}

	if len(value) <= 3 {
		return strings.Repeat("*", len(value))
	}

	// Show first and last characters for short values
	if len(value) <= 8 {
		return value[:1] + strings.Repeat("*", len(value)-2) + value[len(value)-1:]
	}

	// For long values, show first 3 and last 2 with asterisks in between
	return value[:3] + strings.Repeat("*", 8) + value[len(value)-2:]
}

// ValidateCommand checks that a command was given and is on the PATH
func ValidateCommand(command []string) error {
	if len(command) == 0 {
		return sserrors.UserError{
			Message:    "No command specified",
			Suggestion: "Provide a command after -- (e.g., secretstage exec -- npm start)",
		}
	}

	if _, err := exec.LookPath(command[0]); err != nil {
		return sserrors.WrapCommandNotFound(command[0], err)
	}
	return nil
}
