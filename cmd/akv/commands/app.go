package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/systmms/akv/internal/auth"
	"github.com/systmms/akv/internal/cache"
	"github.com/systmms/akv/internal/config"
	"github.com/systmms/akv/internal/gateway"
	"github.com/systmms/akv/internal/logging"
	"github.com/systmms/akv/internal/metrics"
	"github.com/systmms/akv/internal/repository"
)

// App carries the loaded configuration and the constructors commands use
// to reach the vault. Tests replace the constructors with fakes.
type App struct {
	Config   *config.Config
	Registry *prometheus.Registry

	NewTokens  func(def *config.Definition, logger *logging.Logger) (auth.TokenProvider, error)
	NewGateway func(def *config.Definition, tokens auth.TokenProvider, logger *logging.Logger, m *metrics.Metrics) repository.Gateway
	OpenCache  func(ctx context.Context, def *config.Definition) (cache.Store, error)

	metrics *metrics.Metrics
}

// NewApp returns an App wired to the real token providers, HTTP gateway
// and cache backends.
func NewApp(cfg *config.Config) *App {
	return &App{
		Config:     cfg,
		Registry:   prometheus.NewRegistry(),
		NewTokens:  defaultTokens,
		NewGateway: defaultGateway,
		OpenCache:  defaultCache,
	}
}

func defaultTokens(def *config.Definition, logger *logging.Logger) (auth.TokenProvider, error) {
	return auth.New(def.AuthSettings(), logger)
}

func defaultGateway(def *config.Definition, tokens auth.TokenProvider, logger *logging.Logger, m *metrics.Metrics) repository.Gateway {
	return gateway.New(tokens, &gateway.Options{
		APIVersion: def.APIVersion,
		Resource:   def.Auth.Resource,
		HTTPClient: &http.Client{Timeout: def.Timeout()},
		Logger:     logger,
		Metrics:    m,
	})
}

func defaultCache(ctx context.Context, def *config.Definition) (cache.Store, error) {
	return cache.Open(ctx, def.CacheSettings())
}

// Logger returns the configured logger.
func (a *App) Logger() *logging.Logger {
	if a.Config.Logger == nil {
		a.Config.Logger = logging.New(false, false)
	}
	return a.Config.Logger
}

// Metrics returns the metrics sink bound to the app registry.
func (a *App) Metrics() *metrics.Metrics {
	if a.metrics == nil && a.Registry != nil {
		a.metrics = metrics.New(a.Registry)
	}
	return a.metrics
}

// Definition loads the configuration on first use.
func (a *App) Definition() (*config.Definition, error) {
	if a.Config.Definition == nil {
		a.Logger()
		if err := a.Config.Load(); err != nil {
			return nil, err
		}
	}
	return a.Config.Definition, nil
}

// Tokens builds the configured token provider.
func (a *App) Tokens() (auth.TokenProvider, *config.Definition, error) {
	def, err := a.Definition()
	if err != nil {
		return nil, nil, err
	}
	tokens, err := a.NewTokens(def, a.Logger())
	if err != nil {
		return nil, nil, err
	}
	return tokens, def, nil
}

// Store opens the configured cache. The returned func releases it.
func (a *App) Store(ctx context.Context) (cache.Store, func(), error) {
	def, err := a.Definition()
	if err != nil {
		return nil, nil, err
	}
	store, err := a.OpenCache(ctx, def)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if c, ok := store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				a.Logger().Debug("Closing cache: %v", err)
			}
		}
	}
	return store, release, nil
}

// Repository builds a repository over the configured vault, gateway and
// cache. The returned func releases the cache.
func (a *App) Repository(ctx context.Context) (*repository.Repository, func(), error) {
	tokens, def, err := a.Tokens()
	if err != nil {
		return nil, nil, err
	}
	store, release, err := a.Store(ctx)
	if err != nil {
		return nil, nil, err
	}

	logger := a.Logger()
	repo, err := repository.New(def.VaultURL, a.NewGateway(def, tokens, logger, a.Metrics()),
		repository.WithCache(store),
		repository.WithContextDiscriminator(def.Cache.Context),
		repository.WithLogger(logger),
		repository.WithMetrics(a.Metrics()),
	)
	if err != nil {
		release()
		return nil, nil, err
	}
	return repo, release, nil
}

// ReportMetrics writes the non-zero counters gathered during the run at
// debug level.
func (a *App) ReportMetrics() {
	if a.Registry == nil || !a.Logger().DebugEnabled() {
		return
	}
	families, err := a.Registry.Gather()
	if err != nil {
		a.Logger().Debug("Gathering metrics: %v", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf("%s=%q ", lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				a.Logger().Debug("%s {%s} %g", mf.GetName(), labels, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				a.Logger().Debug("%s {%s} count=%d sum=%gs", mf.GetName(), labels,
					m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum())
			}
		}
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
