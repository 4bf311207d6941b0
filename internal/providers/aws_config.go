package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// DefaultRegion is used when neither the config nor the environment names one.
const DefaultRegion = "us-east-1"

// AWSConfig holds the connection settings shared by the AWS stores.
type AWSConfig struct {
	Region   string
	Profile  string
	Endpoint string // Optional custom endpoint for LocalStack or testing
	Timeout  time.Duration

	// AssumeRole is a role ARN assumed through STS before any store call.
	AssumeRole string
	ExternalID string

	// Static credentials, only honoured when both are set.
	AccessKeyID     string
	SecretAccessKey string
}

func (c AWSConfig) region() string {
	if c.Region == "" {
		return DefaultRegion
	}
	return c.Region
}

// loadAWSConfig resolves credentials the usual SDK way, then layers static
// credentials and an assumed role on top.
func loadAWSConfig(ctx context.Context, cfg AWSConfig) (aws.Config, error) {
	configOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.region()),
	}
	if cfg.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	// Use static credentials if provided (for LocalStack/testing)
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.AssumeRole != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		provider := stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRole, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = fmt.Sprintf("secretstage-%d", time.Now().Unix())
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	return awsCfg, nil
}

func withCallTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// deref returns the value p points to, or the zero value when p is nil.
func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
