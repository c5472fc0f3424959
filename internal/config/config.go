package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/systmms/akv/internal/auth"
	"github.com/systmms/akv/internal/cache"
	dserrors "github.com/systmms/akv/internal/errors"
	"github.com/systmms/akv/internal/logging"
)

// DefaultPath is the configuration file looked up when --config is not given.
const DefaultPath = "akv.yaml"

// DefaultTimeoutMs bounds a single vault request.
const DefaultTimeoutMs = 30000

//go:embed schema.json
var schema []byte

// Config holds the runtime configuration
type Config struct {
	Path   string
	Logger *logging.Logger
	// Optional allows Path to be missing; the definition then comes from
	// the environment alone.
	Optional   bool
	Definition *Definition
}

// Definition represents the akv.yaml structure
type Definition struct {
	VaultURL   string      `yaml:"vault_url"`
	APIVersion string      `yaml:"api_version,omitempty"`
	TimeoutMs  int         `yaml:"timeout_ms,omitempty"`
	Auth       AuthConfig  `yaml:"auth,omitempty"`
	Cache      CacheConfig `yaml:"cache,omitempty"`
}

// AuthConfig selects and configures the token provider
type AuthConfig struct {
	Method                 string `yaml:"method,omitempty"`
	AzPath                 string `yaml:"az_path,omitempty"`
	Resource               string `yaml:"resource,omitempty"`
	TenantID               string `yaml:"tenant_id,omitempty"`
	ClientID               string `yaml:"client_id,omitempty"`
	ClientSecret           string `yaml:"client_secret,omitempty"`
	UserAssignedIdentityID string `yaml:"user_assigned_identity_id,omitempty"`
	Token                  string `yaml:"token,omitempty"`
}

// CacheConfig selects the cache backend
type CacheConfig struct {
	Backend        string `yaml:"backend,omitempty"`
	Dir            string `yaml:"dir,omitempty"`
	Context        string `yaml:"context,omitempty"`
	KeyringService string `yaml:"keyring_service,omitempty"`
	SQLDriver      string `yaml:"sql_driver,omitempty"`
	SQLDSN         string `yaml:"sql_dsn,omitempty"`
}

// Load reads, validates and parses the akv.yaml file, then applies
// environment overrides.
func (c *Config) Load() error {
	return c.LoadWithEnv(os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func (c *Config) LoadWithEnv(lookup func(string) (string, bool)) error {
	var def Definition

	data, err := os.ReadFile(c.Path)
	switch {
	case err == nil:
		if err := validate(data); err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, &def); err != nil {
			return dserrors.ConfigError{
				Message:    "invalid YAML syntax in configuration file",
				Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
			}
		}
	case os.IsNotExist(err) && c.Optional:
		if c.Logger != nil {
			c.Logger.Debug("No configuration file at %s, using environment", c.Path)
		}
	case os.IsNotExist(err):
		return dserrors.ConfigError{
			Field:      "path",
			Value:      c.Path,
			Message:    "configuration file not found",
			Suggestion: "Create akv.yaml with at least 'vault_url', or set AKV_VAULT_URL",
		}
	default:
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	if err := def.applyEnv(lookup); err != nil {
		return err
	}

	if def.VaultURL == "" {
		return dserrors.ConfigError{
			Field:      "vault_url",
			Message:    "no vault configured",
			Suggestion: "Set 'vault_url' in akv.yaml or the AKV_VAULT_URL environment variable",
		}
	}

	c.Definition = &def
	return nil
}

// validate checks raw YAML against the embedded schema.
func validate(data []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return dserrors.ConfigError{
			Message:    "configuration must be a mapping with string keys",
			Suggestion: "Check akv.yaml for non-string keys",
		}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return dserrors.ConfigError{
			Field:      result.Errors()[0].Field(),
			Message:    "configuration does not match the schema:\n  - " + strings.Join(messages, "\n  - "),
			Suggestion: "Check field names and values in akv.yaml",
		}
	}
	return nil
}

func (d *Definition) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("AKV_VAULT_URL", &d.VaultURL)
	str("AKV_API_VERSION", &d.APIVersion)
	str("AKV_AUTH_METHOD", &d.Auth.Method)
	str("AKV_AZ_PATH", &d.Auth.AzPath)
	str("AKV_RESOURCE", &d.Auth.Resource)
	str("AKV_TENANT_ID", &d.Auth.TenantID)
	str("AKV_CLIENT_ID", &d.Auth.ClientID)
	str("AKV_CLIENT_SECRET", &d.Auth.ClientSecret)
	str("AKV_MANAGED_IDENTITY_ID", &d.Auth.UserAssignedIdentityID)
	str("AKV_TOKEN", &d.Auth.Token)
	str("AKV_CACHE_BACKEND", &d.Cache.Backend)
	str("AKV_CACHE_DIR", &d.Cache.Dir)
	str("AKV_KEYRING_SERVICE", &d.Cache.KeyringService)
	str("AKV_CACHE_SQL_DRIVER", &d.Cache.SQLDriver)
	str("AKV_CACHE_SQL_DSN", &d.Cache.SQLDSN)
	str("AKV_CONTEXT_DISCRIMINATOR", &d.Cache.Context)
	if d.Cache.Context == "" {
		str("WORDPRESS_SECRET_VERSION", &d.Cache.Context)
	}

	if v, ok := lookup("AKV_TIMEOUT_MS"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return dserrors.ConfigError{
				Field:      "AKV_TIMEOUT_MS",
				Value:      v,
				Message:    "timeout must be a positive number of milliseconds",
				Suggestion: "Use e.g. AKV_TIMEOUT_MS=10000",
			}
		}
		d.TimeoutMs = ms
	}
	return nil
}

// Timeout returns the per-request timeout.
func (d *Definition) Timeout() time.Duration {
	if d.TimeoutMs <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// AuthSettings converts the auth section for the token provider factory.
func (d *Definition) AuthSettings() auth.Config {
	return auth.Config{
		Method:         auth.Method(d.Auth.Method),
		AzPath:         d.Auth.AzPath,
		TenantID:       d.Auth.TenantID,
		ClientID:       d.Auth.ClientID,
		ClientSecret:   d.Auth.ClientSecret,
		UserAssignedID: d.Auth.UserAssignedIdentityID,
		Token:          d.Auth.Token,
	}
}

// CacheSettings converts the cache section for cache.Open. Without an
// explicit backend the file store under cache.DefaultDir is used, so
// entries outlive a single akv invocation.
func (d *Definition) CacheSettings() cache.Config {
	backend := cache.Backend(d.Cache.Backend)
	if backend == "" {
		backend = cache.BackendFile
	}
	return cache.Config{
		Backend:        backend,
		Dir:            d.Cache.Dir,
		KeyringService: d.Cache.KeyringService,
		SQLDriver:      d.Cache.SQLDriver,
		SQLDSN:         d.Cache.SQLDSN,
	}
}
