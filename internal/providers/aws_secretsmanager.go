package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/systmms/secretstage/pkg/store"
)

// AWSSecretsManagerStoreName identifies the store in errors and logs.
const AWSSecretsManagerStoreName = "aws.secretsmanager"

// SecretsManagerClientAPI defines the Secrets Manager operations the store uses.
// This allows for mocking in tests
type SecretsManagerClientAPI interface {
	ListSecretVersionIds(ctx context.Context, params *secretsmanager.ListSecretVersionIdsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretVersionIdsOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error)
	BatchGetSecretValue(ctx context.Context, params *secretsmanager.BatchGetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.BatchGetSecretValueOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManagerStore implements store.Client on top of AWS Secrets Manager.
type AWSSecretsManagerStore struct {
	client  SecretsManagerClientAPI
	region  string
	timeout time.Duration
}

// StoreOption is a functional option for configuring stores
type StoreOption func(*AWSSecretsManagerStore)

// WithSecretsManagerClient sets a custom Secrets Manager client (for testing)
func WithSecretsManagerClient(client SecretsManagerClientAPI) StoreOption {
	return func(s *AWSSecretsManagerStore) {
		s.client = client
	}
}

// NewAWSSecretsManagerStore creates a store backed by AWS Secrets Manager.
func NewAWSSecretsManagerStore(ctx context.Context, cfg AWSConfig, opts ...StoreOption) (*AWSSecretsManagerStore, error) {
	s := &AWSSecretsManagerStore{
		region:  cfg.region(),
		timeout: cfg.Timeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		awsCfg, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}

		var clientOpts []func(*secretsmanager.Options)
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = secretsmanager.NewFromConfig(awsCfg, clientOpts...)
	}

	return s, nil
}

// Region returns the region the store talks to.
func (s *AWSSecretsManagerStore) Region() string {
	return s.region
}

// ListVersions walks every page of the secret's version list.
func (s *AWSSecretsManagerStore) ListVersions(ctx context.Context, storeKey string) ([]store.Version, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	paginator := secretsmanager.NewListSecretVersionIdsPaginator(s.client, &secretsmanager.ListSecretVersionIdsInput{
		SecretId: aws.String(storeKey),
	})

	var versions []store.Version
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.handleError(err, storeKey, "")
		}
		for _, entry := range page.Versions {
			versions = append(versions, store.Version{
				VersionID:   aws.ToString(entry.VersionId),
				StageLabels: entry.VersionStages,
				CreatedAt:   aws.ToTime(entry.CreatedDate),
			})
		}
	}
	return versions, nil
}

// CreateSecret creates the secret with payload as its first version.
func (s *AWSSecretsManagerStore) CreateSecret(ctx context.Context, storeKey, payload, description string) (store.WriteResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	input := &secretsmanager.CreateSecretInput{
		Name:         aws.String(storeKey),
		SecretString: aws.String(payload),
	}
	if description != "" {
		input.Description = aws.String(description)
	}

	result, err := s.client.CreateSecret(ctx, input)
	if err != nil {
		var exists *types.ResourceExistsException
		if errors.As(err, &exists) {
			return store.WriteResult{}, &store.ExistsError{Store: AWSSecretsManagerStoreName, StoreKey: storeKey}
		}
		return store.WriteResult{}, s.handleError(err, storeKey, "")
	}
	return store.WriteResult{VersionID: aws.ToString(result.VersionId)}, nil
}

// PutSecretValue adds a version to an existing secret.
func (s *AWSSecretsManagerStore) PutSecretValue(ctx context.Context, storeKey, payload string) (store.WriteResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(storeKey),
		SecretString: aws.String(payload),
	})
	if err != nil {
		return store.WriteResult{}, s.handleError(err, storeKey, "")
	}
	return store.WriteResult{VersionID: aws.ToString(result.VersionId)}, nil
}

// UpdateVersionStage attaches label to versionID. Stage labels written by
// the manager are always fresh, so no RemoveFromVersionId is sent.
func (s *AWSSecretsManagerStore) UpdateVersionStage(ctx context.Context, storeKey, versionID, label string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.UpdateSecretVersionStage(ctx, &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:        aws.String(storeKey),
		VersionStage:    aws.String(label),
		MoveToVersionId: aws.String(versionID),
	})
	if err != nil {
		return s.handleError(err, storeKey, label)
	}
	return nil
}

// BatchGetCurrent reads the current version of every key in a single page.
// A continuation token in the response is reported through MorePages and
// not followed.
func (s *AWSSecretsManagerStore) BatchGetCurrent(ctx context.Context, storeKeys []string) (store.BatchResult, error) {
	if len(storeKeys) == 0 {
		return store.BatchResult{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.client.BatchGetSecretValue(ctx, &secretsmanager.BatchGetSecretValueInput{
		SecretIdList: storeKeys,
	})
	if err != nil {
		return store.BatchResult{}, fmt.Errorf("AWS Secrets Manager batch read of %d secrets: %w", len(storeKeys), err)
	}

	out := store.BatchResult{
		MorePages: aws.ToString(result.NextToken) != "",
	}
	for _, entry := range result.SecretValues {
		out.Values = append(out.Values, store.Value{
			StoreKey:    aws.ToString(entry.Name),
			VersionID:   aws.ToString(entry.VersionId),
			Payload:     secretPayload(entry.SecretString, entry.SecretBinary),
			StageLabels: entry.VersionStages,
		})
	}
	for _, apiErr := range result.Errors {
		out.Errors = append(out.Errors, store.ItemError{
			StoreKey: aws.ToString(apiErr.SecretId),
			Code:     aws.ToString(apiErr.ErrorCode),
			Message:  aws.ToString(apiErr.Message),
		})
	}
	return out, nil
}

// GetAtStage reads the version carrying label.
func (s *AWSSecretsManagerStore) GetAtStage(ctx context.Context, storeKey, label string) (store.Value, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(storeKey),
		VersionStage: aws.String(label),
	})
	if err != nil {
		return store.Value{}, s.handleError(err, storeKey, label)
	}

	name := aws.ToString(result.Name)
	if name == "" {
		name = storeKey
	}
	return store.Value{
		StoreKey:    name,
		VersionID:   aws.ToString(result.VersionId),
		Payload:     secretPayload(result.SecretString, result.SecretBinary),
		StageLabels: result.VersionStages,
	}, nil
}

func (s *AWSSecretsManagerStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withCallTimeout(ctx, s.timeout)
}

// handleError converts AWS errors to store errors. Anything other than a
// missing resource keeps the SDK error in its chain so callers can inspect
// the smithy error code.
func (s *AWSSecretsManagerStore) handleError(err error, storeKey, label string) error {
	if isNotFoundError(err) {
		return &store.NotFoundError{
			Store:    AWSSecretsManagerStoreName,
			StoreKey: storeKey,
			Label:    label,
		}
	}
	return fmt.Errorf("AWS Secrets Manager error for %s: %w", storeKey, err)
}

func secretPayload(secretString *string, secretBinary []byte) string {
	if secretString != nil {
		return *secretString
	}
	return string(secretBinary)
}

func isNotFoundError(err error) bool {
	var resourceNotFound *types.ResourceNotFoundException
	return errors.As(err, &resourceNotFound)
}

var _ store.Client = (*AWSSecretsManagerStore)(nil)
