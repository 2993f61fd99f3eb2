// Package secret resolves named secrets (the token signing key, the key
// custody passphrase) from SSM Parameter Store or the environment.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/emoelevate/notesledger/internal/common"
)

// ErrSecretNotFound wraps common.ErrorNotFound.
var ErrSecretNotFound = fmt.Errorf("secret: %w", common.ErrorNotFound)

// SSMClient is the subset of *ssm.Client used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver reads SecureString parameters.
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
		var nf *ssmtypes.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: ssm parameter %q", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("%w: ssm parameter %q has no value", ErrSecretNotFound, name)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver reads the environment variable derived from a parameter
// name: "/notesledger/jwt-secret" is read from JWT_SECRET.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	env := EnvVarName(name)
	val, ok := r.lookup(env)
	if !ok || val == "" {
		return "", fmt.Errorf("%w: environment variable %q (from %q) is not set", ErrSecretNotFound, env, name)
	}
	return val, nil
}

// EnvVarName takes the last segment of name, upper-cases it and replaces
// hyphens with underscores.
func EnvVarName(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}
