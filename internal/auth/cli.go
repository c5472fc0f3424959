package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	dserrors "github.com/systmms/akv/internal/errors"
	"github.com/systmms/akv/internal/logging"
	pkgexec "github.com/systmms/akv/pkg/exec"
)

// DefaultAzPath is used when "az" cannot be found on PATH.
const DefaultAzPath = "/usr/bin/az"

// CLIProvider gets tokens from "az account get-access-token".
type CLIProvider struct {
	executor pkgexec.CommandExecutor
	logger   *logging.Logger
	azPath   string
}

// CLIOption configures a CLIProvider.
type CLIOption func(*CLIProvider)

// WithExecutor sets the command executor (for testing).
func WithExecutor(executor pkgexec.CommandExecutor) CLIOption {
	return func(p *CLIProvider) {
		p.executor = executor
	}
}

// WithAzPath skips PATH resolution and uses path.
func WithAzPath(path string) CLIOption {
	return func(p *CLIProvider) {
		p.azPath = path
	}
}

// WithCLILogger sets the logger.
func WithCLILogger(logger *logging.Logger) CLIOption {
	return func(p *CLIProvider) {
		p.logger = logger
	}
}

// NewCLIProvider resolves the az executable once.
func NewCLIProvider(opts ...CLIOption) *CLIProvider {
	p := &CLIProvider{
		executor: pkgexec.DefaultExecutor(),
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.azPath == "" {
		path, err := p.executor.LookPath("az")
		if err != nil || path == "" {
			p.logger.Debug("az not found on PATH, falling back to %s", DefaultAzPath)
			path = DefaultAzPath
		}
		p.azPath = path
	}
	return p
}

// Path returns the az executable in use.
func (p *CLIProvider) Path() string {
	return p.azPath
}

type cliToken struct {
	AccessToken string `json:"accessToken"`
	ExpiresOn   string `json:"expiresOn"`
	TokenType   string `json:"tokenType"`
}

// Token runs the Azure CLI for resource and returns "Bearer <accessToken>".
func (p *CLIProvider) Token(ctx context.Context, resource string) (string, error) {
	args := []string{"account", "get-access-token", "--resource=" + resource, "--output", "json"}
	p.logger.Debug("Requesting token from %s for %s", p.azPath, resource)

	stdout, stderr, err := p.executor.Execute(ctx, p.azPath, args...)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			return "", dserrors.Auth(fmt.Errorf("%s account get-access-token: %w", p.azPath, err))
		}
		return "", dserrors.Auth(fmt.Errorf("%s account get-access-token: %w: %s", p.azPath, err, msg))
	}

	var tok cliToken
	if err := json.Unmarshal(stdout, &tok); err != nil {
		return "", dserrors.Auth(fmt.Errorf("parse az output: %w", err))
	}
	if tok.AccessToken == "" {
		return "", dserrors.Auth(fmt.Errorf("az output has no accessToken"))
	}

	p.logger.Debug("Obtained token %s expiring %s", logging.Secret(tok.AccessToken), tok.ExpiresOn)
	return bearerPrefix + tok.AccessToken, nil
}
