// Package auth obtains bearer tokens for the Key Vault data plane.
//
// A TokenProvider returns a complete Authorization header value
// ("Bearer <token>") for a target resource. Providers do not cache tokens;
// each call asks the underlying tool or credential again.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	dserrors "github.com/systmms/akv/internal/errors"
	"github.com/systmms/akv/internal/logging"
)

// DefaultResource is the audience of Key Vault data-plane tokens.
const DefaultResource = "https://vault.azure.net"

const bearerPrefix = "Bearer "

// TokenProvider produces an Authorization header value for resource.
type TokenProvider interface {
	Token(ctx context.Context, resource string) (string, error)
}

// Method selects how tokens are obtained.
type Method string

const (
	MethodCLI             Method = "cli"
	MethodManagedIdentity Method = "managed_identity"
	MethodClientSecret    Method = "client_secret"
	MethodDefault         Method = "default"
	MethodStatic          Method = "static"
)

// Config describes the token source.
type Config struct {
	Method         Method
	AzPath         string
	TenantID       string
	ClientID       string
	ClientSecret   string
	UserAssignedID string
	Token          string
}

// New builds the provider selected by cfg.Method. An empty method means
// the Azure CLI.
func New(cfg Config, logger *logging.Logger) (TokenProvider, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	switch cfg.Method {
	case "", MethodCLI:
		opts := []CLIOption{WithCLILogger(logger)}
		if cfg.AzPath != "" {
			opts = append(opts, WithAzPath(cfg.AzPath))
		}
		return NewCLIProvider(opts...), nil
	case MethodStatic:
		if cfg.Token == "" {
			return nil, dserrors.ConfigError{
				Field:      "auth.token",
				Message:    "a token is required for the static auth method",
				Suggestion: "Set auth.token or the AKV_TOKEN environment variable",
			}
		}
		return NewStaticProvider(cfg.Token), nil
	case MethodManagedIdentity, MethodClientSecret, MethodDefault:
		cred, err := NewCredential(cfg)
		if err != nil {
			return nil, err
		}
		return NewCredentialProvider(cred), nil
	default:
		return nil, dserrors.ConfigError{
			Field:      "auth.method",
			Value:      string(cfg.Method),
			Message:    "unknown auth method",
			Suggestion: "Use one of: cli, managed_identity, client_secret, default, static",
		}
	}
}

// NewCredential creates an Azure credential for the managed identity,
// client secret and default methods.
func NewCredential(cfg Config) (azcore.TokenCredential, error) {
	var cred azcore.TokenCredential
	var err error

	switch cfg.Method {
	case MethodManagedIdentity:
		if cfg.UserAssignedID != "" {
			cred, err = azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
				ID: azidentity.ClientID(cfg.UserAssignedID),
			})
		} else {
			cred, err = azidentity.NewManagedIdentityCredential(nil)
		}
	case MethodClientSecret:
		if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, dserrors.ConfigError{
				Field:      "auth",
				Message:    "tenant_id, client_id and client_secret are required for service principal authentication",
				Suggestion: "Set auth.tenant_id, auth.client_id and auth.client_secret",
			}
		}
		cred, err = azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	default:
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return cred, nil
}

// CredentialProvider adapts an azcore.TokenCredential.
type CredentialProvider struct {
	cred azcore.TokenCredential
}

// NewCredentialProvider wraps cred.
func NewCredentialProvider(cred azcore.TokenCredential) *CredentialProvider {
	return &CredentialProvider{cred: cred}
}

// Token requests the "<resource>/.default" scope.
func (p *CredentialProvider) Token(ctx context.Context, resource string) (string, error) {
	scope := strings.TrimSuffix(resource, "/") + "/.default"
	tok, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
	if err != nil {
		return "", dserrors.Auth(fmt.Errorf("get token for %s: %w", scope, err))
	}
	if tok.Token == "" {
		return "", dserrors.Auth(fmt.Errorf("credential returned an empty token for %s", scope))
	}
	return bearerPrefix + tok.Token, nil
}

// StaticProvider always returns the same token.
type StaticProvider struct {
	header string
}

// NewStaticProvider returns a provider for a pre-issued token. The
// "Bearer " prefix is added when missing.
func NewStaticProvider(token string) *StaticProvider {
	if token != "" && !strings.HasPrefix(token, bearerPrefix) {
		token = bearerPrefix + token
	}
	return &StaticProvider{header: token}
}

// Token returns the configured header value.
func (p *StaticProvider) Token(_ context.Context, _ string) (string, error) {
	if p.header == "" {
		return "", dserrors.Auth(fmt.Errorf("no static token configured"))
	}
	return p.header, nil
}
