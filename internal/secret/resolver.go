// Package secret resolves named secrets. Production reads SSM Parameter
// Store; DEV_MODE reads environment variables derived from the same names so
// configuration stays identical across both.
package secret

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Resolver retrieves a secret value by its parameter name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMClient is the slice of *ssm.Client the resolver needs.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMResolver reads SecureString parameters from SSM Parameter Store.
type SSMResolver struct {
	client SSMClient
}

func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client}
}

func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver maps parameter names onto environment variables:
// "/refhub/jwt-secret" reads JWT_SECRET.
type EnvResolver struct{}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := paramNameToEnvVar(name)
	val, ok := os.LookupEnv(envName)
	if !ok || val == "" {
		return "", fmt.Errorf("environment variable %s (for parameter %q) is not set", envName, name)
	}
	return val, nil
}

// paramNameToEnvVar takes the last path segment, uppercases it, and swaps
// hyphens for underscores.
func paramNameToEnvVar(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
