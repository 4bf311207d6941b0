package errors_test

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/systmms/secretstage/internal/errors"
	"github.com/systmms/secretstage/internal/importer"
	"github.com/systmms/secretstage/pkg/fetch"
	"github.com/systmms/secretstage/pkg/reconcile"
	"github.com/systmms/secretstage/pkg/secret"
	"github.com/systmms/secretstage/pkg/store"
	"github.com/systmms/secretstage/tests/fakes"
)

// TestUserErrorFormatting verifies UserError displays properly
func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Operation failed",
		Details:    "Connection timeout",
		Suggestion: "Check network connectivity",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Operation failed")
	assert.Contains(t, errMsg, "Connection timeout")
	assert.Contains(t, errMsg, "Check network connectivity")
	assert.Contains(t, errMsg, "💡")
}

func TestUserErrorFallsBackToWrapped(t *testing.T) {
	t.Parallel()

	inner := stderrors.New("inner failure")
	err := errors.UserError{Err: inner}
	assert.Equal(t, "inner failure", err.Error())
	assert.ErrorIs(t, err, inner)
}

// TestConfigErrorFormatting verifies ConfigError displays with context
func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "clash_policy",
		Value:      "clobber",
		Message:    "unknown clash policy",
		Suggestion: "Use raise, preserve or overwrite",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "clash_policy")
	assert.Contains(t, errMsg, "clobber")
	assert.Contains(t, errMsg, "unknown clash policy")
	assert.Contains(t, errMsg, "raise, preserve or overwrite")
}

// TestCommandErrorFormatting verifies CommandError includes exit code
func TestCommandErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.CommandError{
		Command:    "rails server",
		ExitCode:   1,
		Message:    "exited",
		Suggestion: "Check the application logs",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "rails server")
	assert.Contains(t, errMsg, "exit code: 1")
	assert.Contains(t, errMsg, "exited")
	assert.Contains(t, errMsg, "application logs")
}

func TestStoreErrorSuggestions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "access denied",
			err:      &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not authorized"},
			expected: "IAM permissions",
		},
		{
			name:     "not found",
			err:      &smithy.GenericAPIError{Code: "ResourceNotFoundException"},
			expected: "list-secrets",
		},
		{
			name:     "throttling",
			err:      fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{Code: "ThrottlingException"}),
			expected: "rate limit",
		},
		{
			name:     "credentials",
			err:      stderrors.New("failed to retrieve credentials"),
			expected: "aws configure",
		},
		{
			name:     "timeout",
			err:      stderrors.New("i/o timeout"),
			expected: "timed out",
		},
		{
			name:     "connection refused",
			err:      stderrors.New("dial tcp 127.0.0.1:4566: connection refused"),
			expected: "store endpoint",
		},
		{
			name:     "key vault forbidden",
			err:      fakes.AzureForbiddenError(),
			expected: "permissions on the vault",
		},
		{
			name:     "key vault throttled",
			err:      fmt.Errorf("get secret: %w", fakes.AzureThrottledError()),
			expected: "throttled",
		},
		{
			name:     "secret manager permission denied",
			err:      status.Error(codes.PermissionDenied, "caller lacks permission"),
			expected: "roles/secretmanager",
		},
		{
			name:     "secret manager unauthenticated",
			err:      status.Error(codes.Unauthenticated, "no credentials"),
			expected: "application-default login",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := errors.StoreError("aws.secretsmanager", "fetch", tt.err)
			assert.Contains(t, err.Error(), "aws.secretsmanager store error during fetch")
			assert.Contains(t, err.Error(), tt.expected)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestExplain(t *testing.T) {
	t.Parallel()

	atoiErr := func() error { _, err := strconv.Atoi("abc"); return err }()

	tests := []struct {
		name     string
		err      error
		expected []string
	}{
		{
			name:     "missing secrets",
			err:      &fetch.MissingSecretsError{Missing: []fetch.Missing{{StoreKey: "/a"}, {StoreKey: "/b", Label: "CLEO-002"}}},
			expected: []string{"missing from the store", "/a, /b@CLEO-002", "secretstage add"},
		},
		{
			name:     "additional secrets",
			err:      &fetch.AdditionalSecretsError{BatchSize: 25},
			expected: []string{"max_secrets_per_fetch"},
		},
		{
			name: "fetching secrets",
			err: &fetch.FetchingSecretsError{Items: []store.ItemError{
				{StoreKey: "/a", Code: "DecryptionFailure", Message: "kms"},
			}},
			expected: []string{"failed to return some secrets", "KMS key"},
		},
		{
			name:     "env clash",
			err:      &reconcile.EnvClashError{Name: "DATABASE_URL"},
			expected: []string{"DATABASE_URL conflicts with the fetched secret", "--force DATABASE_URL"},
		},
		{
			name:     "pointer value",
			err:      fmt.Errorf("load: %w", secret.PointerValueError{PointerName: "SECRET_VERSION_ENV_X", Value: "abc", Err: atoiErr}),
			expected: []string{"SECRET_VERSION_ENV_X must hold a version number", `"abc"`},
		},
		{
			name:     "identity",
			err:      secret.IdentityError{},
			expected: []string{"secret name"},
		},
		{
			name:     "existing secret",
			err:      &importer.ExistingSecretError{Name: "api_key"},
			expected: []string{"api_key already exists", "--overwrite"},
		},
		{
			name:     "existing config",
			err:      &importer.ExistingConfigError{Key: "PORT", Path: ".env"},
			expected: []string{"PORT differs from the value in .env", "--overwrite"},
		},
		{
			name: "aws operation error",
			err: &smithy.OperationError{
				ServiceID:     "Secrets Manager",
				OperationName: "BatchGetSecretValue",
				Err:           &smithy.GenericAPIError{Code: "ThrottlingException"},
			},
			expected: []string{"store error during BatchGetSecretValue", "rate limit"},
		},
		{
			name:     "aws api error",
			err:      &smithy.GenericAPIError{Code: "AccessDeniedException"},
			expected: []string{"store error during request", "IAM permissions"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			explained := errors.Explain(tt.err)
			var userErr errors.UserError
			require.ErrorAs(t, explained, &userErr)
			for _, want := range tt.expected {
				assert.Contains(t, explained.Error(), want)
			}
			assert.ErrorIs(t, explained, tt.err)
		})
	}

	assert.Nil(t, errors.Explain(nil))
}

func TestWrapCommandNotFound(t *testing.T) {
	t.Parallel()

	err := errors.WrapCommandNotFound("rails", stderrors.New("executable file not found in $PATH"))
	assert.Contains(t, err.Error(), "Command 'rails' failed")
	assert.Contains(t, err.Error(), "installed and in your PATH")
}

func TestSimplifyError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, errors.SimplifyError(nil))

	userErr := errors.UserError{Message: "already friendly"}
	assert.Equal(t, error(userErr), errors.SimplifyError(userErr))

	yamlErr := errors.SimplifyError(fmt.Errorf("load: %w", stderrors.New("yaml: line 3: mapping values are not allowed")))
	var configErr errors.ConfigError
	require.ErrorAs(t, yamlErr, &configErr)
	assert.Contains(t, configErr.Message, "Invalid YAML")

	permErr := errors.SimplifyError(fmt.Errorf("open: %w", stderrors.New("permission denied")))
	assert.Contains(t, permErr.Error(), "Permission denied")

	missing := errors.SimplifyError(stderrors.New("open x: no such file or directory"))
	assert.Contains(t, missing.Error(), "File or directory not found")

	plain := stderrors.New("something else")
	assert.Equal(t, plain, errors.SimplifyError(plain))
}

func TestExplainCloudErrors(t *testing.T) {
	t.Parallel()

	var userErr errors.UserError

	err := errors.Explain(fakes.AzureForbiddenError())
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.Message, "azure.keyvault store error during Forbidden")

	err = errors.Explain(status.Error(codes.ResourceExhausted, "quota"))
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.Message, "gcp.secretmanager store error during ResourceExhausted")
	assert.Contains(t, userErr.Suggestion, "quota")
}
