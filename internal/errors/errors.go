// Package errors turns failures into messages a CLI user can act on.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/aws/smithy-go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/secretstage/internal/importer"
	"github.com/systmms/secretstage/pkg/fetch"
	"github.com/systmms/secretstage/pkg/reconcile"
	"github.com/systmms/secretstage/pkg/secret"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// CommandError represents a command execution error
type CommandError struct {
	Command    string
	ExitCode   int
	Message    string
	Suggestion string
}

func (e CommandError) Error() string {
	msg := fmt.Sprintf("Command '%s' failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// StoreError enhances store errors with context
func StoreError(storeType, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s store error during %s", storeType, operation),
		Details:    err.Error(),
		Suggestion: storeSuggestion(storeType, err),
		Err:        err,
	}
}

// storeSuggestion returns helpful suggestions based on store and error
func storeSuggestion(storeType string, err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if suggestion := codeSuggestion(apiErr.ErrorCode()); suggestion != "" {
			return suggestion
		}
	}
	var azErr *azcore.ResponseError
	if errors.As(err, &azErr) {
		if suggestion := httpSuggestion(azErr.StatusCode); suggestion != "" {
			return suggestion
		}
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		if suggestion := grpcSuggestion(st.Code()); suggestion != "" {
			return suggestion
		}
	}

	errStr := err.Error()
	if storeType == "aws.secretsmanager" && (strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization")) {
		return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
	}

	// Generic suggestions
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and the store endpoint"
	}

	return ""
}

// codeSuggestion maps AWS error codes to hints.
func codeSuggestion(code string) string {
	switch code {
	case "AccessDeniedException", "AccessDenied":
		return "Check IAM permissions for secretsmanager:BatchGetSecretValue, GetSecretValue, ListSecretVersionIds, CreateSecret, PutSecretValue and UpdateSecretVersionStage"
	case "ResourceNotFoundException":
		return "Verify the secret name, namespace and region. List secrets with: 'aws secretsmanager list-secrets'"
	case "ThrottlingException":
		return "AWS rate limit exceeded. Wait a moment and try again"
	case "UnrecognizedClientException", "InvalidSignatureException", "ExpiredTokenException":
		return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
	case "DecryptionFailure":
		return "Check that your credentials may use the KMS key that encrypts the secret"
	}
	return ""
}

// httpSuggestion maps Key Vault response statuses to hints.
func httpSuggestion(code int) string {
	switch code {
	case 401:
		return "Sign in with 'az login' or set AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET"
	case 403:
		return "Grant the identity secret get, list and set permissions on the vault"
	case 404:
		return "Verify the secret name and the vault_url"
	case 429:
		return "Key Vault throttled the request. Wait a moment and try again"
	}
	return ""
}

// grpcSuggestion maps Secret Manager status codes to hints.
func grpcSuggestion(code codes.Code) string {
	switch code {
	case codes.PermissionDenied:
		return "Grant roles/secretmanager.admin or secretAccessor plus secretVersionManager on the project"
	case codes.Unauthenticated:
		return "Run 'gcloud auth application-default login' or set GOOGLE_APPLICATION_CREDENTIALS"
	case codes.NotFound:
		return "Verify the secret name and project_id"
	case codes.ResourceExhausted:
		return "Secret Manager quota exceeded. Wait a moment and try again"
	case codes.Unavailable, codes.DeadlineExceeded:
		return "Secret Manager is unreachable. Check your network and the store endpoint"
	}
	return ""
}

// Explain converts secretstage failures into UserErrors. Errors it does not
// recognise are passed to SimplifyError.
func Explain(err error) error {
	if err == nil {
		return nil
	}

	var (
		missing    *fetch.MissingSecretsError
		additional *fetch.AdditionalSecretsError
		fetching   *fetch.FetchingSecretsError
		clash      *reconcile.EnvClashError
		pointer    secret.PointerValueError
		identity   secret.IdentityError
		exSecret   *importer.ExistingSecretError
		exConfig   *importer.ExistingConfigError
	)

	switch {
	case errors.As(err, &missing):
		return UserError{
			Message:    "Some secrets are missing from the store",
			Details:    strings.Join(missingNames(missing), ", "),
			Suggestion: "Add them with 'secretstage add', fix the pointer version, or set raise_if_secret_not_found: false",
			Err:        err,
		}
	case errors.As(err, &additional):
		return UserError{
			Message:    "The store returned more results than one batch can hold",
			Suggestion: "Lower max_secrets_per_fetch to the store's page size (20 for AWS Secrets Manager)",
			Err:        err,
		}
	case errors.As(err, &fetching):
		suggestion := ""
		if len(fetching.Items) > 0 {
			suggestion = codeSuggestion(fetching.Items[0].Code)
		} else {
			suggestion = storeSuggestion("", err)
		}
		return UserError{
			Message:    "The store failed to return some secrets",
			Details:    fetching.Error(),
			Suggestion: suggestion,
			Err:        err,
		}
	case errors.As(err, &clash):
		return UserError{
			Message:    fmt.Sprintf("%s conflicts with the fetched secret", clash.Name),
			Suggestion: fmt.Sprintf("Unset %s, use --policy preserve, or --force %s to overwrite it", clash.Name, clash.Name),
			Err:        err,
		}
	case errors.As(err, &pointer):
		return UserError{
			Message:    fmt.Sprintf("%s must hold a version number", pointer.PointerName),
			Details:    fmt.Sprintf("got %q", pointer.Value),
			Suggestion: "Set it to the number printed by 'secretstage add', or -1 for the newest version",
			Err:        err,
		}
	case errors.As(err, &identity):
		return UserError{
			Message:    "Cannot work out the secret name",
			Suggestion: "Pass a non-empty secret name",
			Err:        err,
		}
	case errors.As(err, &exSecret):
		return UserError{
			Message:    fmt.Sprintf("Secret %s already exists with a different value", exSecret.Name),
			Suggestion: "Re-run with --overwrite to add the imported value as a new version",
			Err:        err,
		}
	case errors.As(err, &exConfig):
		return UserError{
			Message:    fmt.Sprintf("%s differs from the value in %s", exConfig.Key, exConfig.Path),
			Suggestion: "Re-run with --overwrite or remove the entry from the file",
			Err:        err,
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		operation := "request"
		var opErr *smithy.OperationError
		if errors.As(err, &opErr) {
			operation = opErr.Operation()
		}
		return StoreError("aws.secretsmanager", operation, err)
	}
	var azErr *azcore.ResponseError
	if errors.As(err, &azErr) {
		return StoreError("azure.keyvault", azErr.ErrorCode, err)
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return StoreError("gcp.secretmanager", st.Code().String(), err)
	}
	return SimplifyError(err)
}

func missingNames(e *fetch.MissingSecretsError) []string {
	names := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		names[i] = m.String()
	}
	return names
}

// WrapCommandNotFound wraps command not found errors with helpful suggestions
func WrapCommandNotFound(command string, err error) error {
	return CommandError{
		Command:    command,
		Message:    "command not found",
		Suggestion: fmt.Sprintf("Make sure '%s' is installed and in your PATH", command),
	}
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var userErr UserError
	var configErr ConfigError
	var commandErr CommandError
	if errors.As(err, &userErr) || errors.As(err, &configErr) || errors.As(err, &commandErr) {
		return err
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
