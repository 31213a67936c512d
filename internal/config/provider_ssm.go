package config

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// GetParameters accepts at most ten names per call.
const ssmNamesPerCall = 10

type ssmClient interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMProvider reads SecureString parameters from SSM Parameter Store with
// decryption. Names SSM reports as invalid are left out of the result.
type SSMProvider struct {
	region string

	once    sync.Once
	client  ssmClient
	initErr error
}

func NewSSMProvider(region string) *SSMProvider {
	return &SSMProvider{region: region}
}

func newSSMProviderWithClient(region string, client ssmClient) *SSMProvider {
	p := &SSMProvider{region: region, client: client}
	p.once.Do(func() {})
	return p
}

func (p *SSMProvider) getClient(ctx context.Context) (ssmClient, error) {
	p.once.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
		if err != nil {
			p.initErr = fmt.Errorf("loading AWS config for SSM in %s: %w", p.region, err)
			return
		}
		p.client = ssm.NewFromConfig(cfg)
	})
	return p.client, p.initErr
}

func (p *SSMProvider) GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}

	for names := range slices.Chunk(keys, ssmNamesPerCall) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolving SSM parameters: %w", err)
		}
		out, err := client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          names,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("SSM GetParameters for %v: %w", names, err)
		}
		for _, prm := range out.Parameters {
			if prm.Name != nil && prm.Value != nil {
				values[*prm.Name] = *prm.Value
			}
		}
	}
	return values, nil
}
