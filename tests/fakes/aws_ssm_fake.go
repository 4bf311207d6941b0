package fakes

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// FakeSSMClient is an in-memory Parameter Store. Versions count up from 1
// and a label sits on at most one version of a parameter.
type FakeSSMClient struct {
	mu sync.Mutex

	// Parameters maps fully qualified names to their versions, oldest first
	Parameters map[string][]*ParameterVersion
	// Errors maps parameter names to errors to return
	Errors map[string]error
	// HistoryPageSize splits GetParameterHistory responses into pages when set
	HistoryPageSize int

	// Inputs recorded per operation, in call order
	PutInputs   []*ssm.PutParameterInput
	LabelInputs []*ssm.LabelParameterVersionInput
}

// ParameterVersion is one version of a mock parameter
type ParameterVersion struct {
	Version     int64
	Value       string
	Labels      []string
	Description string
	Modified    time.Time
}

// NewFakeSSMClient creates a new mock SSM client
func NewFakeSSMClient() *FakeSSMClient {
	return &FakeSSMClient{
		Parameters: make(map[string][]*ParameterVersion),
		Errors:     make(map[string]error),
	}
}

// AddParameter appends a version holding value and moves labels onto it.
func (f *FakeSSMClient) AddParameter(name, value string, labels ...string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	v := f.appendVersion(name, value, "")
	for _, label := range labels {
		f.moveLabel(name, label, v)
	}
	return v.Version
}

// AddError configures the mock to return an error for a specific parameter
func (f *FakeSSMClient) AddError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[name] = err
}

// GetParameterHistory mocks the GetParameterHistory operation. NextToken is
// the decimal index of the next version. Values are hidden unless
// WithDecryption is set, as they are for SecureString parameters.
func (f *FakeSSMClient) GetParameterHistory(ctx context.Context, params *ssm.GetParameterHistoryInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterHistoryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Name)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	versions, ok := f.Parameters[name]
	if !ok {
		return nil, &types.ParameterNotFound{Message: aws.String(fmt.Sprintf("Parameter %s not found.", name))}
	}

	start := 0
	if params.NextToken != nil {
		n, err := strconv.Atoi(*params.NextToken)
		if err != nil {
			return nil, fmt.Errorf("invalid NextToken %q", *params.NextToken)
		}
		start = n
	}
	end := len(versions)
	if f.HistoryPageSize > 0 {
		end = min(start+f.HistoryPageSize, len(versions))
	}

	out := &ssm.GetParameterHistoryOutput{}
	for _, v := range versions[start:end] {
		entry := types.ParameterHistory{
			Name:             aws.String(name),
			Version:          v.Version,
			Labels:           slices.Clone(v.Labels),
			LastModifiedDate: aws.Time(v.Modified),
			Type:             types.ParameterTypeSecureString,
		}
		if aws.ToBool(params.WithDecryption) {
			entry.Value = aws.String(v.Value)
		} else {
			entry.Value = aws.String(strings.Repeat("*", len(v.Value)))
		}
		out.Parameters = append(out.Parameters, entry)
	}
	if end < len(versions) {
		out.NextToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

// PutParameter mocks the PutParameter operation.
func (f *FakeSSMClient) PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.PutInputs = append(f.PutInputs, params)

	name := aws.ToString(params.Name)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	if _, exists := f.Parameters[name]; exists && !aws.ToBool(params.Overwrite) {
		return nil, &types.ParameterAlreadyExists{Message: aws.String("The parameter already exists. To overwrite this value, set the overwrite option in the request to true.")}
	}

	v := f.appendVersion(name, aws.ToString(params.Value), aws.ToString(params.Description))
	return &ssm.PutParameterOutput{Version: v.Version, Tier: types.ParameterTierStandard}, nil
}

// LabelParameterVersion mocks the LabelParameterVersion operation. Labels
// starting with "aws" or "ssm" are reported invalid, as the service does.
func (f *FakeSSMClient) LabelParameterVersion(ctx context.Context, params *ssm.LabelParameterVersionInput, optFns ...func(*ssm.Options)) (*ssm.LabelParameterVersionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.LabelInputs = append(f.LabelInputs, params)

	name := aws.ToString(params.Name)
	if err, ok := f.Errors[name]; ok {
		return nil, err
	}
	versions, ok := f.Parameters[name]
	if !ok {
		return nil, &types.ParameterNotFound{Message: aws.String(fmt.Sprintf("Parameter %s not found.", name))}
	}

	var target *ParameterVersion
	if params.ParameterVersion == nil {
		target = versions[len(versions)-1]
	} else {
		for _, v := range versions {
			if v.Version == *params.ParameterVersion {
				target = v
			}
		}
	}
	if target == nil {
		return nil, &types.ParameterVersionNotFound{Message: aws.String("The specified parameter version was not found.")}
	}

	out := &ssm.LabelParameterVersionOutput{ParameterVersion: target.Version}
	for _, label := range params.Labels {
		lower := strings.ToLower(label)
		if strings.HasPrefix(lower, "aws") || strings.HasPrefix(lower, "ssm") {
			out.InvalidLabels = append(out.InvalidLabels, label)
			continue
		}
		f.moveLabel(name, label, target)
	}
	return out, nil
}

func (f *FakeSSMClient) appendVersion(name, value, description string) *ParameterVersion {
	versions := f.Parameters[name]
	v := &ParameterVersion{
		Version:     int64(len(versions) + 1),
		Value:       value,
		Description: description,
		Modified:    time.Now(),
	}
	f.Parameters[name] = append(versions, v)
	return v
}

func (f *FakeSSMClient) moveLabel(name, label string, target *ParameterVersion) {
	for _, v := range f.Parameters[name] {
		v.Labels = slices.DeleteFunc(v.Labels, func(l string) bool { return l == label })
	}
	target.Labels = append(target.Labels, label)
}
