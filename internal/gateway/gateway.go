// Package gateway sends authenticated JSON requests to a Key Vault data
// plane endpoint.
//
// Requests run through an azcore pipeline. An authorization policy asks
// the configured auth.TokenProvider for a bearer token on every request;
// retries are disabled so that a failed call surfaces to the caller
// immediately. Non-2xx responses become *azcore.ResponseError values
// wrapped as transport failures.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"

	"github.com/systmms/akv/internal/auth"
	dserrors "github.com/systmms/akv/internal/errors"
	"github.com/systmms/akv/internal/logging"
	"github.com/systmms/akv/internal/metrics"
)

const (
	moduleName    = "akv"
	moduleVersion = "v0.3.0"

	// DefaultAPIVersion is the Key Vault REST API version sent when a
	// request URL does not carry one.
	DefaultAPIVersion = "7.4"
)

// Options configures a Gateway. The zero value is usable.
type Options struct {
	// APIVersion defaults to DefaultAPIVersion.
	APIVersion string
	// Resource is the token audience; defaults to auth.DefaultResource.
	Resource string
	// HTTPClient carries the transport and its timeout.
	HTTPClient *http.Client
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
}

// Gateway performs GET and POST calls against the vault.
type Gateway struct {
	pipeline   runtime.Pipeline
	apiVersion string
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// New creates a gateway authorised by tokens.
func New(tokens auth.TokenProvider, opts *Options) *Gateway {
	if opts == nil {
		opts = &Options{}
	}
	g := &Gateway{
		apiVersion: opts.APIVersion,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
	if g.apiVersion == "" {
		g.apiVersion = DefaultAPIVersion
	}
	if g.logger == nil {
		g.logger = logging.Discard()
	}

	resource := opts.Resource
	if resource == "" {
		resource = auth.DefaultResource
	}

	clientOpts := &policy.ClientOptions{
		Retry: policy.RetryOptions{MaxRetries: -1},
	}
	if opts.HTTPClient != nil {
		clientOpts.Transport = opts.HTTPClient
	}

	g.pipeline = runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerRetry: []policy.Policy{&authorizationPolicy{tokens: tokens, resource: resource}},
	}, clientOpts)

	return g
}

// Get issues a GET to url and decodes the JSON body into out.
func (g *Gateway) Get(ctx context.Context, url string, out any) error {
	req, err := g.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return err
	}
	return g.send(req, out)
}

// Post issues a POST to url with body encoded as JSON and decodes the
// response into out.
func (g *Gateway) Post(ctx context.Context, url string, body any, out any) error {
	req, err := g.newRequest(ctx, http.MethodPost, url)
	if err != nil {
		return err
	}
	if err := runtime.MarshalAsJSON(req, body); err != nil {
		return dserrors.Transport(fmt.Errorf("encode request body: %w", err))
	}
	return g.send(req, out)
}

func (g *Gateway) newRequest(ctx context.Context, method, url string) (*policy.Request, error) {
	req, err := runtime.NewRequest(ctx, method, url)
	if err != nil {
		return nil, dserrors.Transport(fmt.Errorf("build %s request for %s: %w", method, url, err))
	}

	// Continuation links already carry their api-version; leave them as sent.
	raw := req.Raw()
	q := raw.URL.Query()
	if q.Get("api-version") == "" {
		q.Set("api-version", g.apiVersion)
		raw.URL.RawQuery = q.Encode()
	}
	raw.Header.Set("Accept", "application/json")
	return req, nil
}

func (g *Gateway) send(req *policy.Request, out any) error {
	method := req.Raw().Method
	g.logger.Debug("%s %s", method, req.Raw().URL.Redacted())

	start := time.Now()
	resp, err := g.pipeline.Do(req)
	if err != nil {
		g.metrics.Request(method, 0, time.Since(start))
		return dserrors.Transport(err)
	}
	g.metrics.Request(method, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return dserrors.Transport(runtime.NewResponseError(resp))
	}
	if out == nil {
		return nil
	}
	if err := runtime.UnmarshalAsJSON(resp, out); err != nil {
		return dserrors.Transport(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

type authorizationPolicy struct {
	tokens   auth.TokenProvider
	resource string
}

func (p *authorizationPolicy) Do(req *policy.Request) (*http.Response, error) {
	token, err := p.tokens.Token(req.Raw().Context(), p.resource)
	if err != nil {
		return nil, dserrors.Auth(err)
	}
	req.Raw().Header.Set("Authorization", token)
	return req.Next()
}
