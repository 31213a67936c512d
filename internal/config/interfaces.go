package config

import "context"

// SecretProvider resolves _SSM_PARAM pointers into secret values: SSM Parameter
// Store in deployed environments, plain environment variables locally.
type SecretProvider interface {
	// GetParametersBatch returns key -> plaintext value for every key it
	// could resolve.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
