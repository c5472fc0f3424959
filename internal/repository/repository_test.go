package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/akv/internal/cache"
	dserrors "github.com/systmms/akv/internal/errors"
	"github.com/systmms/akv/internal/metrics"
	"github.com/systmms/akv/internal/repository"
	"github.com/systmms/akv/pkg/vault"
	"github.com/systmms/akv/tests/fakes"
	"github.com/systmms/akv/tests/testutil"
)

const vaultURL = "https://my-vault.vault.azure.net"

var epoch = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

const dbPassLatest = `{
	"value": "s3cret",
	"id": "https://my-vault.vault.azure.net/secrets/db-pass/abc123",
	"attributes": {"enabled": true, "created": 1700000000, "updated": 1700000100, "recoveryLevel": "Recoverable+Purgeable"}
}`

type fixture struct {
	gw    *fakes.FakeGateway
	clock *testclock.Clock
	store *cache.MemoryStore
	repo  *repository.Repository
}

func newFixture(t *testing.T, opts ...repository.Option) *fixture {
	t.Helper()
	f := &fixture{
		gw:    fakes.NewFakeGateway(),
		clock: testclock.NewClock(epoch),
	}
	f.store = cache.NewMemoryStore(cache.WithClock(f.clock))
	all := append([]repository.Option{
		repository.WithCache(f.store),
		repository.WithClock(f.clock),
	}, opts...)
	repo, err := repository.New(vaultURL, f.gw, all...)
	require.NoError(t, err)
	f.repo = repo
	return f
}

func TestNewRejectsBadVaultURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "my-vault", "://nope"} {
		_, err := repository.New(raw, fakes.NewFakeGateway())
		var cfgErr dserrors.ConfigError
		assert.True(t, errors.As(err, &cfgErr), "expected config error for %q", raw)
	}

	repo, err := repository.New(vaultURL+"/", fakes.NewFakeGateway())
	require.NoError(t, err)
	assert.Equal(t, vaultURL, repo.VaultURL())
}

func TestGetSecretLatest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gw.AddJSON(vaultURL+"/secrets/db-pass/", dbPassLatest)

	secret, err := f.repo.GetSecret(context.Background(), vault.ByName("db-pass"))
	require.NoError(t, err)

	assert.Equal(t, "db-pass", secret.Name)
	assert.Equal(t, "abc123", secret.Version)
	assert.Equal(t, secret.ID.Version(), secret.Version)
	assert.Equal(t, "s3cret", secret.Value)
	assert.True(t, secret.Attributes.Enabled)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), secret.Attributes.Created)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), secret.Attributes.Updated)
	assert.Equal(t, "Recoverable+Purgeable", secret.Attributes.RecoveryLevel)
	assert.Nil(t, secret.Attributes.Expires)
	assert.Nil(t, secret.Attributes.NotBefore)
	assert.Nil(t, secret.ContentType)
}

func TestGetSecretExplicitVersion(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gw.AddJSON(vaultURL+"/secrets/api-key/v2", `{
		"value": "secret123",
		"id": "https://my-vault.vault.azure.net/secrets/api-key/v2",
		"contentType": "text/plain",
		"attributes": {"enabled": true, "created": 1700000000, "updated": 1700000000, "exp": 1800000000, "nbf": 1690000000}
	}`)

	secret, err := f.repo.GetSecret(context.Background(), vault.ByNameVersion("api-key", "v2"))
	require.NoError(t, err)

	assert.Equal(t, "v2", secret.Version)
	assert.Equal(t, "secret123", secret.Value)
	require.NotNil(t, secret.ContentType)
	assert.Equal(t, "text/plain", *secret.ContentType)
	require.NotNil(t, secret.Attributes.Expires)
	assert.Equal(t, time.Unix(1800000000, 0).UTC(), *secret.Attributes.Expires)
	require.NotNil(t, secret.Attributes.NotBefore)
	assert.Equal(t, time.Unix(1690000000, 0).UTC(), *secret.Attributes.NotBefore)

	// the cache key ignores the version
	entry, found, err := f.store.Get(context.Background(), "api-key-")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, epoch.AddDate(0, 1, 0).Equal(entry.ExpiresAt))

	var cached vault.Secret
	require.NoError(t, json.Unmarshal(entry.Value, &cached))
	assert.Equal(t, secret, cached)
}

func TestGetSecretServesFromCache(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	f := newFixture(t, repository.WithMetrics(metrics.New(reg)))
	f.gw.AddJSON(vaultURL+"/secrets/db-pass/", dbPassLatest)
	ctx := context.Background()

	first, err := f.repo.GetSecret(ctx, vault.ByName("db-pass"))
	require.NoError(t, err)
	second, err := f.repo.GetSecret(ctx, vault.ByName("db-pass"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.gw.CallCount())
	assert.Equal(t, 1.0, counterValue(t, reg, "akv_cache_hits_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "akv_cache_misses_total"))
}

func TestGetSecretCacheExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gw.AddJSON(vaultURL+"/secrets/db-pass/", dbPassLatest)
	ctx := context.Background()

	_, err := f.repo.GetSecret(ctx, vault.ByName("db-pass"))
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	_, err = f.repo.GetSecret(ctx, vault.ByName("db-pass"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.gw.CallCount(), "entry should be live one day later")

	// one calendar month after the first fetch
	f.clock.Advance(epoch.AddDate(0, 1, 0).Sub(f.clock.Now()) + time.Second)
	_, err = f.repo.GetSecret(ctx, vault.ByName("db-pass"))
	require.NoError(t, err)
	assert.Equal(t, 2, f.gw.CallCount(), "expired entry must trigger a fetch")
}

func TestGetSecretDiscriminator(t *testing.T) {
	t.Parallel()

	f := newFixture(t, repository.WithContextDiscriminator("prod"))
	f.gw.AddJSON(vaultURL+"/secrets/db-pass/", dbPassLatest)

	_, err := f.repo.GetSecret(context.Background(), vault.ByName("db-pass"))
	require.NoError(t, err)

	assert.Equal(t, "db-pass-prod", f.repo.CacheKey("db-pass"))
	_, found, err := f.store.Get(context.Background(), "db-pass-prod")
	require.NoError(t, err)
	assert.True(t, found)
	_, found, err = f.store.Get(context.Background(), "db-pass-")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetSecretCorruptEntryIsMiss(t *testing.T) {
	t.Parallel()

	logs := testutil.NewTestLogger(t)
	f := newFixture(t, repository.WithLogger(logs.Logger))
	f.gw.AddJSON(vaultURL+"/secrets/db-pass/", dbPassLatest)
	require.NoError(t, f.store.Put(context.Background(), "db-pass-", []byte("not json"), epoch.Add(time.Hour)))

	secret, err := f.repo.GetSecret(context.Background(), vault.ByName("db-pass"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret.Value)
	assert.Equal(t, 1, f.gw.CallCount())
	logs.AssertContains(t, "corrupt")
	logs.AssertNotContains(t, "s3cret")
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (cache.Entry, bool, error) {
	return cache.Entry{}, false, errors.New("disk on fire")
}

func (brokenStore) Put(context.Context, string, []byte, time.Time) error {
	return errors.New("disk on fire")
}

func TestGetSecretToleratesCacheFailures(t *testing.T) {
	t.Parallel()

	logs := testutil.NewTestLogger(t)
	gw := fakes.NewFakeGateway()
	gw.AddJSON(vaultURL+"/secrets/db-pass/", dbPassLatest)
	repo, err := repository.New(vaultURL, gw,
		repository.WithCache(brokenStore{}),
		repository.WithLogger(logs.Logger))
	require.NoError(t, err)

	secret, err := repo.GetSecret(context.Background(), vault.ByName("db-pass"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret.Value)
	logs.AssertContains(t, "Cache read for db-pass- failed")
	logs.AssertContains(t, "Cache write for db-pass- failed")
}

func TestGetSecretErrors(t *testing.T) {
	t.Parallel()

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		f.gw.AddStatus(vaultURL+"/secrets/missing/", 404, "SecretNotFound")

		_, err := f.repo.GetSecret(context.Background(), vault.ByName("missing"))
		require.Error(t, err)
		assert.True(t, dserrors.IsTransport(err))
		assert.True(t, dserrors.IsNotFound(err))
		assert.Contains(t, err.Error(), "get secret missing")

		_, found, _ := f.store.Get(context.Background(), "missing-")
		assert.False(t, found, "failures are not cached")
	})

	t.Run("auth failure keeps its kind", func(t *testing.T) {
		f := newFixture(t)
		f.gw.AddError(vaultURL+"/secrets/db-pass/v1", dserrors.Auth(errors.New("az: please run 'az login'")))

		_, err := f.repo.GetSecret(context.Background(), vault.ByNameVersion("db-pass", "v1"))
		require.Error(t, err)
		assert.True(t, dserrors.IsAuth(err))

		var opErr *dserrors.OperationError
		require.True(t, errors.As(err, &opErr))
		assert.Equal(t, "get secret", opErr.Op)
		assert.Equal(t, "db-pass", opErr.Name)
		assert.Equal(t, "v1", opErr.Version)
	})

	t.Run("missing value is a mapping failure", func(t *testing.T) {
		f := newFixture(t)
		f.gw.AddJSON(vaultURL+"/secrets/db-pass/", `{"id": "https://my-vault.vault.azure.net/secrets/db-pass/abc123",
			"attributes": {"enabled": true, "created": 1, "updated": 1}}`)

		_, err := f.repo.GetSecret(context.Background(), vault.ByName("db-pass"))
		require.Error(t, err)
		assert.True(t, dserrors.IsMapping(err))
	})

	t.Run("empty name", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.repo.GetSecret(context.Background(), vault.ByName(""))
		var userErr dserrors.UserError
		assert.True(t, errors.As(err, &userErr))
		assert.Equal(t, 0, f.gw.CallCount())
	})
}

func TestGetSecretFromVersion(t *testing.T) {
	t.Parallel()

	body := `{"value": "old", "id": "https://my-vault.vault.azure.net/secrets/db-pass/v1",
		"attributes": {"enabled": false, "created": 1600000000, "updated": 1600000000}}`
	entity := vault.SecretVersion{
		SecretName: "db-pass",
		Version:    "v1",
		ID:         "https://my-vault.vault.azure.net/secrets/db-pass/v1",
	}

	t.Run("version of the entity", func(t *testing.T) {
		f := newFixture(t)
		f.gw.AddJSON(vaultURL+"/secrets/db-pass/v1", body)

		secret, err := f.repo.GetSecret(context.Background(), vault.FromVersion(entity))
		require.NoError(t, err)
		assert.Equal(t, "v1", secret.Version)
		assert.Equal(t, "old", secret.Value)

		call, ok := f.gw.LastCall()
		require.True(t, ok)
		assert.Equal(t, vaultURL+"/secrets/db-pass/v1", call.URL)
	})

	t.Run("explicit version wins", func(t *testing.T) {
		f := newFixture(t)
		f.gw.AddJSON(vaultURL+"/secrets/db-pass/v2", `{"value": "new", "id": "https://my-vault.vault.azure.net/secrets/db-pass/v2",
			"attributes": {"enabled": true, "created": 1700000000, "updated": 1700000000}}`)

		secret, err := f.repo.GetSecret(context.Background(), vault.FromVersion(entity).WithVersion("v2"))
		require.NoError(t, err)
		assert.Equal(t, "v2", secret.Version)

		call, _ := f.gw.LastCall()
		assert.Equal(t, vaultURL+"/secrets/db-pass/v2", call.URL)
	})
}

const versionsPage1 = `{
	"value": [
		{"id": "https://my-vault.vault.azure.net/secrets/db-pass/v1", "attributes": {"enabled": false, "created": 1600000000, "updated": 1600000000}},
		{"id": "https://my-vault.vault.azure.net/secrets/db-pass/v2", "contentType": "text/plain", "attributes": {"enabled": true, "created": 1700000000, "updated": 1700000000}}
	],
	"nextLink": "https://my-vault.vault.azure.net/secrets/db-pass/versions?api-version=7.4&$skiptoken=abc&maxresults=2"
}`

func TestGetSecretVersions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gw.AddJSON(vaultURL+"/secrets/db-pass/versions", versionsPage1)

	versions, err := f.repo.GetSecretVersions(context.Background(), "db-pass")
	require.NoError(t, err)
	require.Len(t, versions, 2)

	assert.Equal(t, "db-pass", versions[0].SecretName)
	assert.Equal(t, "v1", versions[0].Version)
	assert.False(t, versions[0].Attributes.Enabled)
	assert.Nil(t, versions[0].ContentType)
	assert.Equal(t, "v2", versions[1].Version)
	require.NotNil(t, versions[1].ContentType)
	assert.Equal(t, "text/plain", *versions[1].ContentType)

	// first page only
	assert.Equal(t, 1, f.gw.CallCount())
}

func TestAllSecretVersionsFollowsLinks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	next := "https://my-vault.vault.azure.net/secrets/db-pass/versions?api-version=7.4&$skiptoken=abc&maxresults=2"
	f.gw.AddJSON(vaultURL+"/secrets/db-pass/versions", versionsPage1)
	f.gw.AddJSON(next, `{"value": [
		{"id": "https://my-vault.vault.azure.net/secrets/db-pass/v3", "attributes": {"enabled": true, "created": 1710000000, "updated": 1710000000}}
	]}`)

	page, err := f.repo.GetSecretVersionsPage(context.Background(), "db-pass", "")
	require.NoError(t, err)
	assert.Equal(t, next, page.NextLink)

	versions, err := f.repo.AllSecretVersions(context.Background(), "db-pass")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "v3", versions[2].Version)
}

func TestGetSecretsPagination(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	link2 := vaultURL + "/secrets?api-version=7.4&$skiptoken=p2"
	link3 := vaultURL + "/secrets?api-version=7.4&$skiptoken=p3"
	f.gw.AddJSON(vaultURL+"/secrets", `{"value": [
		{"id": "https://my-vault.vault.azure.net/secrets/a", "attributes": {"enabled": true, "created": 1, "updated": 1}},
		{"id": "https://my-vault.vault.azure.net/secrets/b", "attributes": {"enabled": true, "created": 1, "updated": 1}}
	], "nextLink": "`+link2+`"}`)
	f.gw.AddJSON(link2, `{"value": [
		{"id": "https://my-vault.vault.azure.net/secrets/c", "tags": {"env": "prod"}, "attributes": {"enabled": true, "created": 1, "updated": 1}}
	], "nextLink": "`+link3+`"}`)
	f.gw.AddJSON(link3, `{"value": [
		{"id": "https://my-vault.vault.azure.net/secrets/d", "attributes": {"enabled": false, "created": 1, "updated": 1}}
	], "nextLink": null}`)
	ctx := context.Background()

	var names []string
	next := ""
	for {
		page, err := f.repo.GetSecrets(ctx, next)
		require.NoError(t, err)
		for _, e := range page.Items {
			names = append(names, e.Name())
		}
		if !page.HasMore() {
			break
		}
		next = page.NextLink
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)
	require.Equal(t, 3, f.gw.CallCount())
	assert.Equal(t, link2, f.gw.Calls[1].URL, "continuation links are used verbatim")
	assert.Equal(t, link3, f.gw.Calls[2].URL)

	all, err := f.repo.AllSecrets(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, map[string]string{"env": "prod"}, all[2].Tags)
}

func TestGetSecretsEmptyVault(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gw.AddJSON(vaultURL+"/secrets", `{"value": []}`)

	page, err := f.repo.GetSecrets(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore())
}

func TestAllSecretsRejectsLoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	link := vaultURL + "/secrets?$skiptoken=loop"
	f.gw.AddJSON(vaultURL+"/secrets", `{"value": [], "nextLink": "`+link+`"}`)
	f.gw.AddJSON(link, `{"value": [], "nextLink": "`+link+`"}`)

	_, err := f.repo.AllSecrets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twice")
	assert.True(t, dserrors.IsTransport(err))
}

func TestAllSecretVersionsLoopNamesSecret(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	link := vaultURL + "/secrets/db-pass/versions?$skiptoken=loop"
	f.gw.AddJSON(vaultURL+"/secrets/db-pass/versions", `{"value": [], "nextLink": "`+link+`"}`)
	f.gw.AddJSON(link, `{"value": [], "nextLink": "`+link+`"}`)

	_, err := f.repo.AllSecretVersions(context.Background(), "db-pass")
	require.Error(t, err)
	assert.True(t, dserrors.IsTransport(err))

	var opErr *dserrors.OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "get secret versions", opErr.Op)
	assert.Equal(t, "db-pass", opErr.Name)
	assert.Contains(t, err.Error(), "get secret versions db-pass")
}

const setResponse = `{
	"value": "n3w",
	"id": "https://my-vault.vault.azure.net/secrets/db-pass/def456",
	"attributes": {"enabled": true, "created": 1710000000, "updated": 1710000000}
}`

func TestSetSecret(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gw.AddJSON(vaultURL+"/secrets/db-pass/", dbPassLatest)
	f.gw.AddJSON(vaultURL+"/secrets/db-pass", setResponse)
	ctx := context.Background()

	_, err := f.repo.GetSecret(ctx, vault.ByName("db-pass"))
	require.NoError(t, err)

	secret, err := f.repo.SetSecret(ctx, "db-pass", "n3w", nil)
	require.NoError(t, err)
	assert.Equal(t, "def456", secret.Version)
	assert.Equal(t, "n3w", secret.Value)

	call, ok := f.gw.LastCall()
	require.True(t, ok)
	assert.Equal(t, "POST", call.Method)
	assert.Equal(t, vaultURL+"/secrets/db-pass", call.URL)

	// the write drops the cached entry
	assert.Equal(t, 0, f.store.Len())
}

// Fields of SetSecretOptions are sent only when supplied. An unset
// content type or empty tag set is left out of the body entirely. This
// deliberately corrects the inverted guard of the earlier client, which
// sent contentType and tags only when they were empty.
func TestSetSecretOptionalFields(t *testing.T) {
	t.Parallel()

	body := func(t *testing.T, opts *repository.SetSecretOptions) map[string]any {
		t.Helper()
		f := newFixture(t)
		f.gw.AddJSON(vaultURL+"/secrets/db-pass", setResponse)
		_, err := f.repo.SetSecret(context.Background(), "db-pass", "n3w", opts)
		require.NoError(t, err)
		call, _ := f.gw.LastCall()
		var m map[string]any
		require.NoError(t, json.Unmarshal(call.Body, &m))
		return m
	}

	t.Run("value only", func(t *testing.T) {
		m := body(t, &repository.SetSecretOptions{})
		assert.Equal(t, map[string]any{"value": "n3w"}, m)
	})

	t.Run("content type and tags", func(t *testing.T) {
		m := body(t, &repository.SetSecretOptions{
			ContentType: "application/json",
			Tags:        map[string]string{"owner": "platform"},
		})
		assert.Equal(t, "application/json", m["contentType"])
		assert.Equal(t, map[string]any{"owner": "platform"}, m["tags"])
		assert.NotContains(t, m, "attributes")
	})

	t.Run("attributes", func(t *testing.T) {
		exp := time.Unix(1800000000, 0)
		m := body(t, &repository.SetSecretOptions{
			Attributes: &vault.SecretAttributes{Enabled: false, Expires: &exp},
		})
		attrs, ok := m["attributes"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, false, attrs["enabled"])
		assert.Equal(t, float64(1800000000), attrs["exp"])
		assert.NotContains(t, attrs, "nbf")
		assert.NotContains(t, m, "contentType")
		assert.NotContains(t, m, "tags")
	})
}

func TestSetSecretFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gw.AddStatus(vaultURL+"/secrets/db-pass", 403, "Forbidden")

	_, err := f.repo.SetSecret(context.Background(), "db-pass", "n3w", nil)
	require.Error(t, err)
	assert.Equal(t, 403, dserrors.StatusCode(err))
	assert.Contains(t, err.Error(), "set secret db-pass")
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}
