package fakes

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/google/uuid"
)

// SecretsManagerAPI defines the interface for AWS Secrets Manager operations
// This matches the subset of methods used by AWSSecretsManagerStore
type SecretsManagerAPI interface {
	ListSecretVersionIds(ctx context.Context, params *secretsmanager.ListSecretVersionIdsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretVersionIdsOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error)
	BatchGetSecretValue(ctx context.Context, params *secretsmanager.BatchGetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.BatchGetSecretValueOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// FakeSecretsManagerClient is an in-memory implementation of SecretsManagerAPI
// that tracks versions and stage labels the way Secrets Manager does.
type FakeSecretsManagerClient struct {
	mu sync.Mutex

	// Secrets maps secret names to their data
	Secrets map[string]*SecretData
	// Errors maps secret names to errors to return
	Errors map[string]error
	// VersionPageSize splits ListSecretVersionIds responses into pages when set
	VersionPageSize int
	// BatchNextToken is returned from every BatchGetSecretValue call when set
	BatchNextToken string

	// BatchGetSecretValueFunc allows custom behavior for BatchGetSecretValue
	BatchGetSecretValueFunc func(ctx context.Context, params *secretsmanager.BatchGetSecretValueInput) (*secretsmanager.BatchGetSecretValueOutput, error)
	// GetSecretValueFunc allows custom behavior for GetSecretValue
	GetSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error)

	// Inputs recorded per operation, in call order
	UpdateStageInputs []*secretsmanager.UpdateSecretVersionStageInput
	CreateInputs      []*secretsmanager.CreateSecretInput
}

// SecretData holds the versions of a mock secret
type SecretData struct {
	Description *string
	Versions    []*VersionData
}

// VersionData is one version of a mock secret
type VersionData struct {
	VersionId     string
	SecretString  *string
	SecretBinary  []byte
	VersionStages []string
	CreatedDate   time.Time
}

// NewFakeSecretsManagerClient creates a new mock Secrets Manager client
func NewFakeSecretsManagerClient() *FakeSecretsManagerClient {
	return &FakeSecretsManagerClient{
		Secrets: make(map[string]*SecretData),
		Errors:  make(map[string]error),
	}
}

// AddSecretString adds a version holding value and moves the given labels
// onto it. AWSCURRENT and AWSPREVIOUS move as they would on a real write.
func (f *FakeSecretsManagerClient) AddSecretString(name, value string, labels ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	v := f.addVersion(name, aws.String(value), nil)
	for _, label := range labels {
		f.moveLabel(f.Secrets[name], label, v.VersionId)
	}
	return v.VersionId
}

// AddSecretBinary adds a binary version and moves the given labels onto it.
func (f *FakeSecretsManagerClient) AddSecretBinary(name string, value []byte, labels ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	v := f.addVersion(name, nil, value)
	for _, label := range labels {
		f.moveLabel(f.Secrets[name], label, v.VersionId)
	}
	return v.VersionId
}

// AddError configures the mock to return an error for a specific secret
func (f *FakeSecretsManagerClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// ListSecretVersionIds mocks the ListSecretVersionIds operation. NextToken is
// the decimal index of the next version.
func (f *FakeSecretsManagerClient) ListSecretVersionIds(ctx context.Context, params *secretsmanager.ListSecretVersionIdsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretVersionIdsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	data, err := f.lookup(name)
	if err != nil {
		return nil, err
	}

	start := 0
	if params.NextToken != nil {
		if _, err := fmt.Sscanf(*params.NextToken, "%d", &start); err != nil {
			return nil, &types.InvalidNextTokenException{Message: aws.String("bad token")}
		}
	}
	end := len(data.Versions)
	if f.VersionPageSize > 0 {
		end = min(start+f.VersionPageSize, len(data.Versions))
	}

	out := &secretsmanager.ListSecretVersionIdsOutput{Name: aws.String(name)}
	for _, v := range data.Versions[start:end] {
		created := v.CreatedDate
		out.Versions = append(out.Versions, types.SecretVersionsListEntry{
			VersionId:     aws.String(v.VersionId),
			VersionStages: slices.Clone(v.VersionStages),
			CreatedDate:   &created,
		})
	}
	if end < len(data.Versions) {
		out.NextToken = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

// CreateSecret mocks the CreateSecret operation
func (f *FakeSecretsManagerClient) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	f.CreateInputs = append(f.CreateInputs, params)
	if err, exists := f.Errors[name]; exists {
		return nil, err
	}
	if _, exists := f.Secrets[name]; exists {
		return nil, &types.ResourceExistsException{
			Message: aws.String(fmt.Sprintf("The operation failed because the secret %s already exists.", name)),
		}
	}

	v := f.addVersion(name, params.SecretString, params.SecretBinary)
	f.Secrets[name].Description = params.Description
	f.moveLabel(f.Secrets[name], "AWSCURRENT", v.VersionId)

	return &secretsmanager.CreateSecretOutput{
		ARN:       aws.String(arn(name)),
		Name:      aws.String(name),
		VersionId: aws.String(v.VersionId),
	}, nil
}

// PutSecretValue mocks the PutSecretValue operation
func (f *FakeSecretsManagerClient) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	data, err := f.lookup(name)
	if err != nil {
		return nil, err
	}

	v := f.addVersion(name, params.SecretString, params.SecretBinary)
	f.moveLabel(data, "AWSCURRENT", v.VersionId)

	return &secretsmanager.PutSecretValueOutput{
		ARN:           aws.String(arn(name)),
		Name:          aws.String(name),
		VersionId:     aws.String(v.VersionId),
		VersionStages: slices.Clone(v.VersionStages),
	}, nil
}

// UpdateSecretVersionStage mocks the UpdateSecretVersionStage operation
func (f *FakeSecretsManagerClient) UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	f.UpdateStageInputs = append(f.UpdateStageInputs, params)
	data, err := f.lookup(name)
	if err != nil {
		return nil, err
	}

	target := aws.ToString(params.MoveToVersionId)
	if findVersion(data, target) == nil {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret version: %s", target)),
		}
	}
	f.moveLabel(data, aws.ToString(params.VersionStage), target)

	return &secretsmanager.UpdateSecretVersionStageOutput{
		ARN:  aws.String(arn(name)),
		Name: aws.String(name),
	}, nil
}

// BatchGetSecretValue mocks the BatchGetSecretValue operation. Missing
// secrets and configured errors are reported per item.
func (f *FakeSecretsManagerClient) BatchGetSecretValue(ctx context.Context, params *secretsmanager.BatchGetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.BatchGetSecretValueOutput, error) {
	if f.BatchGetSecretValueFunc != nil {
		return f.BatchGetSecretValueFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out := &secretsmanager.BatchGetSecretValueOutput{}
	for _, name := range params.SecretIdList {
		data, err := f.lookup(name)
		if err != nil {
			code := "InternalServiceError"
			if _, ok := err.(*types.ResourceNotFoundException); ok {
				code = "ResourceNotFoundException"
			}
			out.Errors = append(out.Errors, types.APIErrorType{
				SecretId:  aws.String(name),
				ErrorCode: aws.String(code),
				Message:   aws.String(err.Error()),
			})
			continue
		}
		v := findStage(data, "AWSCURRENT")
		if v == nil {
			continue
		}
		created := v.CreatedDate
		out.SecretValues = append(out.SecretValues, types.SecretValueEntry{
			ARN:           aws.String(arn(name)),
			Name:          aws.String(name),
			SecretString:  v.SecretString,
			SecretBinary:  v.SecretBinary,
			VersionId:     aws.String(v.VersionId),
			VersionStages: slices.Clone(v.VersionStages),
			CreatedDate:   &created,
		})
	}
	if f.BatchNextToken != "" {
		out.NextToken = aws.String(f.BatchNextToken)
	}
	return out, nil
}

// GetSecretValue mocks the GetSecretValue operation
func (f *FakeSecretsManagerClient) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.GetSecretValueFunc != nil {
		return f.GetSecretValueFunc(ctx, params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.SecretId)
	data, err := f.lookup(name)
	if err != nil {
		return nil, err
	}

	var v *VersionData
	switch {
	case params.VersionId != nil:
		v = findVersion(data, *params.VersionId)
	case params.VersionStage != nil:
		v = findStage(data, *params.VersionStage)
	default:
		v = findStage(data, "AWSCURRENT")
	}
	if v == nil {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String("Secrets Manager can't find the specified secret value for staging label: " + aws.ToString(params.VersionStage)),
		}
	}

	created := v.CreatedDate
	return &secretsmanager.GetSecretValueOutput{
		ARN:           aws.String(arn(name)),
		Name:          aws.String(name),
		SecretString:  v.SecretString,
		SecretBinary:  v.SecretBinary,
		VersionId:     aws.String(v.VersionId),
		VersionStages: slices.Clone(v.VersionStages),
		CreatedDate:   &created,
	}, nil
}

func (f *FakeSecretsManagerClient) lookup(name string) (*SecretData, error) {
	if err, exists := f.Errors[name]; exists {
		return nil, err
	}
	data, exists := f.Secrets[name]
	if !exists {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Secrets Manager can't find the specified secret: %s", name)),
		}
	}
	return data, nil
}

func (f *FakeSecretsManagerClient) addVersion(name string, value *string, binary []byte) *VersionData {
	data, exists := f.Secrets[name]
	if !exists {
		data = &SecretData{}
		f.Secrets[name] = data
	}
	v := &VersionData{
		VersionId:    uuid.NewString(),
		SecretString: value,
		SecretBinary: binary,
		CreatedDate:  time.Now(),
	}
	data.Versions = append(data.Versions, v)
	return v
}

// moveLabel attaches label to versionID, detaching it elsewhere. Moving
// AWSCURRENT demotes the old holder to AWSPREVIOUS.
func (f *FakeSecretsManagerClient) moveLabel(data *SecretData, label, versionID string) {
	var previous string
	for _, v := range data.Versions {
		if v.VersionId == versionID {
			continue
		}
		if i := slices.Index(v.VersionStages, label); i >= 0 {
			v.VersionStages = slices.Delete(v.VersionStages, i, i+1)
			previous = v.VersionId
		}
	}
	target := findVersion(data, versionID)
	if !slices.Contains(target.VersionStages, label) {
		target.VersionStages = append(target.VersionStages, label)
	}
	if label == "AWSCURRENT" && previous != "" {
		f.moveLabel(data, "AWSPREVIOUS", previous)
	}
}

func findVersion(data *SecretData, versionID string) *VersionData {
	for _, v := range data.Versions {
		if v.VersionId == versionID {
			return v
		}
	}
	return nil
}

func findStage(data *SecretData, label string) *VersionData {
	for _, v := range data.Versions {
		if slices.Contains(v.VersionStages, label) {
			return v
		}
	}
	return nil
}

func arn(name string) string {
	return fmt.Sprintf("arn:aws:secretsmanager:us-east-1:123456789012:secret:%s", name)
}
