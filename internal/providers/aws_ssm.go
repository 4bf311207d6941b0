package providers

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
	"github.com/systmms/secretstage/pkg/store"
)

// AWSSSMStoreName identifies the store in errors and logs.
const AWSSSMStoreName = "aws.ssm"

// DefaultParameterPrefix turns store keys into fully qualified parameter
// names.
const DefaultParameterPrefix = "/"

// SSMClientAPI defines the Parameter Store operations the store uses.
// This allows for mocking in tests
type SSMClientAPI interface {
	GetParameterHistory(ctx context.Context, params *ssm.GetParameterHistoryInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterHistoryOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	LabelParameterVersion(ctx context.Context, params *ssm.LabelParameterVersionInput, optFns ...func(*ssm.Options)) (*ssm.LabelParameterVersionOutput, error)
}

// AWSSSMConfig holds the Parameter Store settings.
type AWSSSMConfig struct {
	AWSConfig

	// KMSKeyID encrypts SecureString parameters. Empty means the account's
	// default aws/ssm key.
	KMSKeyID string

	// ParameterPrefix is prepended to every store key. Defaults to
	// DefaultParameterPrefix.
	ParameterPrefix string
}

// AWSSSMStore implements store.Client on top of SSM Parameter Store.
//
// Parameter versions are numbered, and version labels move between versions
// the same way stage labels do. Parameter Store has no current/previous
// labels of its own and rejects labels starting with "aws", so both are
// derived from version order: the newest version is store.CurrentLabel and
// the one before it store.PreviousLabel.
type AWSSSMStore struct {
	client  SSMClientAPI
	region  string
	keyID   string
	prefix  string
	timeout time.Duration
}

// SSMStoreOption is a functional option for configuring SSM stores
type SSMStoreOption func(*AWSSSMStore)

// WithSSMClient sets a custom SSM client (for testing)
func WithSSMClient(client SSMClientAPI) SSMStoreOption {
	return func(s *AWSSSMStore) {
		s.client = client
	}
}

// NewAWSSSMStore creates a store backed by SSM Parameter Store.
func NewAWSSSMStore(ctx context.Context, cfg AWSSSMConfig, opts ...SSMStoreOption) (*AWSSSMStore, error) {
	prefix := cfg.ParameterPrefix
	if prefix == "" {
		prefix = DefaultParameterPrefix
	}

	s := &AWSSSMStore{
		region:  cfg.region(),
		keyID:   cfg.KMSKeyID,
		prefix:  prefix,
		timeout: cfg.Timeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		awsCfg, err := loadAWSConfig(ctx, cfg.AWSConfig)
		if err != nil {
			return nil, err
		}

		var clientOpts []func(*ssm.Options)
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			clientOpts = append(clientOpts, func(o *ssm.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		s.client = ssm.NewFromConfig(awsCfg, clientOpts...)
	}

	return s, nil
}

// Region returns the region the store talks to.
func (s *AWSSSMStore) Region() string {
	return s.region
}

type ssmVersion struct {
	version  int64
	value    string
	labels   []string
	modified time.Time
}

// ListVersions lists every retained version of the parameter.
func (s *AWSSSMStore) ListVersions(ctx context.Context, storeKey string) ([]store.Version, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	history, err := s.history(ctx, storeKey, false)
	if err != nil {
		return nil, err
	}

	versions := make([]store.Version, 0, len(history))
	for _, v := range history {
		versions = append(versions, store.Version{
			VersionID:   formatParameterVersion(v.version),
			StageLabels: v.labels,
			CreatedAt:   v.modified,
		})
	}
	return versions, nil
}

// CreateSecret creates the parameter as an encrypted SecureString.
func (s *AWSSSMStore) CreateSecret(ctx context.Context, storeKey, payload, description string) (store.WriteResult, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	input := &ssm.PutParameterInput{
		Name:      aws.String(s.parameterName(storeKey)),
		Value:     aws.String(payload),
		Type:      types.ParameterTypeSecureString,
		Overwrite: aws.Bool(false),
	}
	if description != "" {
		input.Description = aws.String(description)
	}
	if s.keyID != "" {
		input.KeyId = aws.String(s.keyID)
	}

	result, err := s.client.PutParameter(ctx, input)
	if err != nil {
		var exists *types.ParameterAlreadyExists
		if errors.As(err, &exists) {
			return store.WriteResult{}, &store.ExistsError{Store: AWSSSMStoreName, StoreKey: storeKey}
		}
		return store.WriteResult{}, s.handleError(err, storeKey, "")
	}
	return store.WriteResult{VersionID: formatParameterVersion(result.Version)}, nil
}

// PutSecretValue writes a new version of the parameter. Parameter Store
// creates the parameter when it does not exist yet.
func (s *AWSSSMStore) PutSecretValue(ctx context.Context, storeKey, payload string) (store.WriteResult, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	input := &ssm.PutParameterInput{
		Name:      aws.String(s.parameterName(storeKey)),
		Value:     aws.String(payload),
		Type:      types.ParameterTypeSecureString,
		Overwrite: aws.Bool(true),
	}
	if s.keyID != "" {
		input.KeyId = aws.String(s.keyID)
	}

	result, err := s.client.PutParameter(ctx, input)
	if err != nil {
		return store.WriteResult{}, s.handleError(err, storeKey, "")
	}
	return store.WriteResult{VersionID: formatParameterVersion(result.Version)}, nil
}

// UpdateVersionStage labels versionID. Parameter Store detaches the label
// from whichever version held it before.
func (s *AWSSSMStore) UpdateVersionStage(ctx context.Context, storeKey, versionID, label string) error {
	if label == store.CurrentLabel || label == store.PreviousLabel {
		return fmt.Errorf("label %s is derived from version order in %s and cannot be attached", label, AWSSSMStoreName)
	}

	version, err := strconv.ParseInt(versionID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid parameter version %q for %s: %w", versionID, storeKey, err)
	}

	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.client.LabelParameterVersion(ctx, &ssm.LabelParameterVersionInput{
		Name:             aws.String(s.parameterName(storeKey)),
		ParameterVersion: aws.Int64(version),
		Labels:           []string{label},
	})
	if err != nil {
		return s.handleError(err, storeKey, label)
	}
	if len(result.InvalidLabels) > 0 {
		return fmt.Errorf("%s rejected labels %s for %s", AWSSSMStoreName, strings.Join(result.InvalidLabels, ", "), storeKey)
	}
	return nil
}

// BatchGetCurrent reads the newest version of every key. Parameter Store
// has no batch read that returns labels, so each key costs one history
// walk. A missing parameter becomes a per-item not-found error.
func (s *AWSSSMStore) BatchGetCurrent(ctx context.Context, storeKeys []string) (store.BatchResult, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	var out store.BatchResult
	for _, key := range storeKeys {
		history, err := s.history(ctx, key, true)
		if err != nil {
			var apiErr smithy.APIError
			switch {
			case store.IsNotFound(err):
				out.Errors = append(out.Errors, store.ItemError{
					StoreKey: key,
					Code:     store.ErrCodeNotFound,
					Message:  "parameter not found",
				})
				continue
			case errors.As(err, &apiErr):
				out.Errors = append(out.Errors, store.ItemError{
					StoreKey: key,
					Code:     apiErr.ErrorCode(),
					Message:  apiErr.ErrorMessage(),
				})
				continue
			default:
				return store.BatchResult{}, err
			}
		}

		current := history[len(history)-1]
		out.Values = append(out.Values, current.storeValue(key))
	}
	return out, nil
}

// GetAtStage reads the version carrying label, including the derived
// current and previous labels.
func (s *AWSSSMStore) GetAtStage(ctx context.Context, storeKey, label string) (store.Value, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	history, err := s.history(ctx, storeKey, true)
	if err != nil {
		return store.Value{}, err
	}
	for _, v := range history {
		if slices.Contains(v.labels, label) {
			return v.storeValue(storeKey), nil
		}
	}
	return store.Value{}, &store.NotFoundError{Store: AWSSSMStoreName, StoreKey: storeKey, Label: label}
}

// history returns the parameter's versions oldest first with the derived
// labels attached.
func (s *AWSSSMStore) history(ctx context.Context, storeKey string, withValues bool) ([]ssmVersion, error) {
	paginator := ssm.NewGetParameterHistoryPaginator(s.client, &ssm.GetParameterHistoryInput{
		Name:           aws.String(s.parameterName(storeKey)),
		WithDecryption: aws.Bool(withValues),
	})

	var history []ssmVersion
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.handleError(err, storeKey, "")
		}
		for _, p := range page.Parameters {
			history = append(history, ssmVersion{
				version:  p.Version,
				value:    aws.ToString(p.Value),
				labels:   slices.Clone(p.Labels),
				modified: aws.ToTime(p.LastModifiedDate),
			})
		}
	}
	if len(history) == 0 {
		return nil, &store.NotFoundError{Store: AWSSSMStoreName, StoreKey: storeKey}
	}

	slices.SortFunc(history, func(a, b ssmVersion) int {
		return cmp.Compare(a.version, b.version)
	})

	last := len(history) - 1
	history[last].labels = append(history[last].labels, store.CurrentLabel)
	if last > 0 {
		history[last-1].labels = append(history[last-1].labels, store.PreviousLabel)
	}
	return history, nil
}

func (s *AWSSSMStore) parameterName(storeKey string) string {
	return s.prefix + strings.TrimPrefix(storeKey, "/")
}

// handleError converts SSM errors to store errors.
func (s *AWSSSMStore) handleError(err error, storeKey, label string) error {
	var notFound *types.ParameterNotFound
	var versionNotFound *types.ParameterVersionNotFound
	if errors.As(err, &notFound) || errors.As(err, &versionNotFound) {
		return &store.NotFoundError{
			Store:    AWSSSMStoreName,
			StoreKey: storeKey,
			Label:    label,
		}
	}
	return fmt.Errorf("AWS SSM error for %s: %w", storeKey, err)
}

func (v ssmVersion) storeValue(storeKey string) store.Value {
	return store.Value{
		StoreKey:    storeKey,
		VersionID:   formatParameterVersion(v.version),
		Payload:     v.value,
		StageLabels: slices.Clone(v.labels),
	}
}

func formatParameterVersion(version int64) string {
	return strconv.FormatInt(version, 10)
}

var _ store.Client = (*AWSSSMStore)(nil)
