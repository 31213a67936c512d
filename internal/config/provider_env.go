package config

import (
	"context"
	"os"
)

// EnvVarProvider treats each _SSM_PARAM value as the name of another
// environment variable. CI and container runs use it to exercise the secret
// indirection without Parameter Store:
//
//	DATABASE_URL_SSM_PARAM=CI_DATABASE_URL
type EnvVarProvider struct{}

func NewEnvVarProvider() *EnvVarProvider { return &EnvVarProvider{} }

func (*EnvVarProvider) GetParametersBatch(_ context.Context, names []string) (map[string]string, error) {
	found := make(map[string]string, len(names))
	for _, n := range names {
		if v, ok := os.LookupEnv(n); ok {
			found[n] = v
		}
	}
	return found, nil
}

// SecretsFromEnv picks the SecretProvider for the process: nil for local
// development, EnvVarProvider when SECRETS_PROVIDER=env, SSM otherwise.
func SecretsFromEnv(lookup func(string) (string, bool)) SecretProvider {
	if env, _ := lookup("APP_ENV"); env == "" || env == localEnv {
		return nil
	}
	if p, _ := lookup("SECRETS_PROVIDER"); p == "env" {
		return NewEnvVarProvider()
	}
	region, _ := lookup("AWS_REGION")
	return NewSSMProvider(region)
}
