// Package repository resolves, lists and writes Key Vault secrets.
//
// Repository composes the authenticated gateway, the entity mapper and a
// cache store. Single-secret reads consult the cache first and populate
// it after a successful round trip; everything else goes straight to the
// vault. The repository performs no retries: a failed call surfaces to
// the caller annotated with the operation and secret it concerned.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/juju/clock"

	"github.com/systmms/akv/internal/cache"
	dserrors "github.com/systmms/akv/internal/errors"
	"github.com/systmms/akv/internal/logging"
	"github.com/systmms/akv/internal/mapper"
	"github.com/systmms/akv/internal/metrics"
	"github.com/systmms/akv/pkg/vault"
)

const (
	opGetSecret   = "get secret"
	opGetVersions = "get secret versions"
	opGetSecrets  = "list secrets"
	opSetSecret   = "set secret"
)

// Gateway performs authenticated JSON requests against the vault.
type Gateway interface {
	Get(ctx context.Context, url string, out any) error
	Post(ctx context.Context, url string, body any, out any) error
}

// Repository is the entry point for secret operations. It is safe for
// concurrent use when its gateway and store are.
type Repository struct {
	vaultURL      *url.URL
	gateway       Gateway
	store         cache.Store
	discriminator string
	clock         clock.Clock
	logger        *logging.Logger
	metrics       *metrics.Metrics
}

// Option configures a Repository.
type Option func(*Repository)

// WithCache sets the store used to memoise GetSecret results. Without
// one, an in-memory store is used.
func WithCache(store cache.Store) Option {
	return func(r *Repository) {
		r.store = store
	}
}

// WithContextDiscriminator sets the suffix that separates cache entries
// of different deployments sharing a store.
func WithContextDiscriminator(d string) Option {
	return func(r *Repository) {
		r.discriminator = d
	}
}

// WithClock sets the clock used to compute cache expiry.
func WithClock(c clock.Clock) Option {
	return func(r *Repository) {
		r.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Repository) {
		r.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Repository) {
		r.metrics = m
	}
}

// New creates a repository for the vault at vaultURL, e.g.
// https://my-vault.vault.azure.net.
func New(vaultURL string, gateway Gateway, opts ...Option) (*Repository, error) {
	u, err := url.Parse(vaultURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, dserrors.ConfigError{
			Field:      "vault_url",
			Value:      vaultURL,
			Message:    "Invalid vault_url format",
			Suggestion: "Use format: https://vault-name.vault.azure.net/",
		}
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	r := &Repository{
		vaultURL: u,
		gateway:  gateway,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = clock.WallClock
	}
	if r.store == nil {
		r.store = cache.NewMemoryStore(cache.WithClock(r.clock))
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	return r, nil
}

// VaultURL returns the normalised vault base URL.
func (r *Repository) VaultURL() string {
	return r.vaultURL.String()
}

// CacheKey returns the cache key used for the named secret.
func (r *Repository) CacheKey(name string) string {
	return cache.Key(name, r.discriminator)
}

func (r *Repository) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := *r.vaultURL
	u.Path = r.vaultURL.Path + "/" + strings.Join(segments, "/")
	u.RawPath = r.vaultURL.EscapedPath() + "/" + strings.Join(escaped, "/")
	return u.String()
}

// GetSecret returns the secret ref points to. A live cache entry is
// returned without a network call; otherwise the secret is fetched and
// cached until one calendar month from now.
func (r *Repository) GetSecret(ctx context.Context, ref vault.SecretRef) (vault.Secret, error) {
	name, version := ref.Resolve()
	if name == "" {
		return vault.Secret{}, dserrors.UserError{Message: "secret name is required"}
	}

	key := r.CacheKey(name)
	if secret, ok := r.lookup(ctx, key); ok {
		r.metrics.CacheHit()
		r.logger.Debug("Cache hit for %s", key)
		return secret, nil
	}
	r.metrics.CacheMiss()

	var resp azsecrets.Secret
	if err := r.gateway.Get(ctx, r.endpoint("secrets", name, version), &resp); err != nil {
		return vault.Secret{}, dserrors.Annotate(opGetSecret, name, version, err)
	}

	secret, err := mapper.Secret(name, version, resp)
	if err != nil {
		return vault.Secret{}, dserrors.Annotate(opGetSecret, name, version, err)
	}

	r.remember(ctx, key, secret)
	r.logger.Debug("Fetched %s version %s", name, secret.Version)
	return secret, nil
}

func (r *Repository) lookup(ctx context.Context, key string) (vault.Secret, bool) {
	entry, found, err := r.store.Get(ctx, key)
	if err != nil {
		r.metrics.CacheError("get")
		r.logger.Warn("Cache read for %s failed, fetching from vault: %v", key, err)
		return vault.Secret{}, false
	}
	if !found {
		return vault.Secret{}, false
	}

	var secret vault.Secret
	if err := json.Unmarshal(entry.Value, &secret); err != nil {
		r.metrics.CacheError("decode")
		r.logger.Warn("Cache entry %s is corrupt, fetching from vault: %v", key, err)
		return vault.Secret{}, false
	}
	return secret, true
}

func (r *Repository) remember(ctx context.Context, key string, secret vault.Secret) {
	data, err := json.Marshal(secret)
	if err != nil {
		r.metrics.CacheError("put")
		r.logger.Warn("Could not serialise %s for the cache: %v", key, err)
		return
	}
	expiresAt := r.clock.Now().AddDate(0, 1, 0)
	if err := r.store.Put(ctx, key, data, expiresAt); err != nil {
		r.metrics.CacheError("put")
		r.logger.Warn("Cache write for %s failed: %v", key, err)
	}
}

// GetSecretVersions returns the first page of versions of the named
// secret, in service order.
func (r *Repository) GetSecretVersions(ctx context.Context, name string) ([]vault.SecretVersion, error) {
	page, err := r.GetSecretVersionsPage(ctx, name, "")
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// GetSecretVersionsPage returns one page of versions. An empty nextLink
// requests the first page; otherwise nextLink is used verbatim.
func (r *Repository) GetSecretVersionsPage(ctx context.Context, name, nextLink string) (vault.Page[vault.SecretVersion], error) {
	if name == "" {
		return vault.Page[vault.SecretVersion]{}, dserrors.UserError{Message: "secret name is required"}
	}

	endpoint := nextLink
	if endpoint == "" {
		endpoint = r.endpoint("secrets", name, "versions")
	}

	var resp azsecrets.SecretPropertiesListResult
	if err := r.gateway.Get(ctx, endpoint, &resp); err != nil {
		return vault.Page[vault.SecretVersion]{}, dserrors.Annotate(opGetVersions, name, "", err)
	}

	page := vault.Page[vault.SecretVersion]{Items: make([]vault.SecretVersion, 0, len(resp.Value))}
	for _, item := range resp.Value {
		v, err := mapper.Version(name, item)
		if err != nil {
			return vault.Page[vault.SecretVersion]{}, dserrors.Annotate(opGetVersions, name, "", err)
		}
		page.Items = append(page.Items, v)
	}
	if resp.NextLink != nil {
		page.NextLink = *resp.NextLink
	}
	return page, nil
}

// GetSecrets returns one page of the secret inventory. An empty nextLink
// requests the first page; otherwise nextLink is used verbatim as the
// request URL. Callers loop until the returned page has no NextLink.
func (r *Repository) GetSecrets(ctx context.Context, nextLink string) (vault.Page[vault.IDEntity], error) {
	endpoint := nextLink
	if endpoint == "" {
		endpoint = r.endpoint("secrets")
	}

	var resp azsecrets.SecretPropertiesListResult
	if err := r.gateway.Get(ctx, endpoint, &resp); err != nil {
		return vault.Page[vault.IDEntity]{}, dserrors.Annotate(opGetSecrets, "", "", err)
	}

	page := vault.Page[vault.IDEntity]{Items: make([]vault.IDEntity, 0, len(resp.Value))}
	for _, item := range resp.Value {
		e, err := mapper.IDEntity(item)
		if err != nil {
			return vault.Page[vault.IDEntity]{}, dserrors.Annotate(opGetSecrets, "", "", err)
		}
		page.Items = append(page.Items, e)
	}
	if resp.NextLink != nil {
		page.NextLink = *resp.NextLink
	}
	return page, nil
}

// AllSecrets follows continuation links until the inventory is
// exhausted.
func (r *Repository) AllSecrets(ctx context.Context) ([]vault.IDEntity, error) {
	return collect(ctx, opGetSecrets, "", func(ctx context.Context, next string) (vault.Page[vault.IDEntity], error) {
		return r.GetSecrets(ctx, next)
	})
}

// AllSecretVersions follows continuation links of the versions listing.
func (r *Repository) AllSecretVersions(ctx context.Context, name string) ([]vault.SecretVersion, error) {
	return collect(ctx, opGetVersions, name, func(ctx context.Context, next string) (vault.Page[vault.SecretVersion], error) {
		return r.GetSecretVersionsPage(ctx, name, next)
	})
}

func collect[T any](ctx context.Context, op, name string, fetch func(context.Context, string) (vault.Page[T], error)) ([]T, error) {
	var all []T
	seen := make(map[string]struct{})
	next := ""
	for {
		page, err := fetch(ctx, next)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if !page.HasMore() {
			return all, nil
		}
		if _, dup := seen[page.NextLink]; dup {
			return nil, dserrors.Annotate(op, name, "",
				dserrors.Transport(fmt.Errorf("vault returned continuation link %s twice", page.NextLink)))
		}
		seen[page.NextLink] = struct{}{}
		next = page.NextLink
	}
}

// SetSecretOptions holds the optional parts of a set-secret request.
// Zero-valued fields are left out of the request body.
type SetSecretOptions struct {
	Attributes  *vault.SecretAttributes
	ContentType string
	Tags        map[string]string
}

// SetSecret writes a new version of the named secret and returns it. The
// result is not cached, but any cached entry for the name is dropped when
// the store supports deletion.
func (r *Repository) SetSecret(ctx context.Context, name, value string, opts *SetSecretOptions) (vault.Secret, error) {
	if name == "" {
		return vault.Secret{}, dserrors.UserError{Message: "secret name is required"}
	}

	params := azsecrets.SetSecretParameters{Value: to.Ptr(value)}
	if opts != nil {
		if opts.Attributes != nil {
			params.SecretAttributes = mapper.WireAttributes(*opts.Attributes)
		}
		if opts.ContentType != "" {
			params.ContentType = to.Ptr(opts.ContentType)
		}
		if len(opts.Tags) > 0 {
			params.Tags = mapper.WireTags(opts.Tags)
		}
	}

	var resp azsecrets.Secret
	if err := r.gateway.Post(ctx, r.endpoint("secrets", name), params, &resp); err != nil {
		return vault.Secret{}, dserrors.Annotate(opSetSecret, name, "", err)
	}

	secret, err := mapper.Secret(name, "", resp)
	if err != nil {
		return vault.Secret{}, dserrors.Annotate(opSetSecret, name, "", err)
	}

	if d, ok := r.store.(cache.Deleter); ok {
		key := r.CacheKey(name)
		if err := d.Delete(ctx, key); err != nil {
			r.metrics.CacheError("delete")
			r.logger.Warn("Could not invalidate cache entry %s: %v", key, err)
		}
	}
	r.logger.Info("Stored %s version %s", name, secret.Version)
	return secret, nil
}
