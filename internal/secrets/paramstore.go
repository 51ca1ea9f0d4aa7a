// Package secrets reads credentials such as the hub API key from AWS SSM
// Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by ParamStore.
// *ssm.Client satisfies it.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter returns the decrypted value of a named parameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ParamStore wraps the SSM API for parameter retrieval.
type ParamStore struct {
	api ssmAPI
}

// NewParamStore creates a ParamStore on api.
func NewParamStore(api ssmAPI) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("secrets: api must not be nil")
	}
	return &ParamStore{api: api}, nil
}

func (p *ParamStore) GetParameter(ctx context.Context, name string) (string, error) {
	if p.api == nil {
		return "", errors.New("secrets: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}

	withDecryption := true
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("secrets: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// ParameterName joins prefix and name into an SSM path.
func ParameterName(prefix, name string) string {
	return path.Join("/", strings.Trim(prefix, "/"), name)
}

// Resolve returns fallback when it is set, otherwise the parameter
// prefix/name read through g.
func Resolve(ctx context.Context, g Getter, prefix, name, fallback string) (string, error) {
	if fallback != "" {
		return fallback, nil
	}
	if g == nil || prefix == "" {
		return "", fmt.Errorf("secrets: %s not configured", name)
	}
	full := ParameterName(prefix, name)
	v, err := g.GetParameter(ctx, full)
	if err != nil {
		return "", err
	}
	slog.Info("Secrets Resolve loaded parameter", "name", full)
	return v, nil
}
