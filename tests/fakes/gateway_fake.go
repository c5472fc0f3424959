package fakes

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	dserrors "github.com/systmms/akv/internal/errors"
)

// GatewayCall records one request made through FakeGateway.
type GatewayCall struct {
	Method string
	URL    string
	Body   []byte
}

// FakeGateway serves canned JSON bodies keyed by request URL.
type FakeGateway struct {
	mu sync.Mutex

	// Responses maps a full request URL to a JSON body.
	Responses map[string]string
	// Errors maps a full request URL to an error to return.
	Errors map[string]error
	// Calls records every request in order.
	Calls []GatewayCall
}

// NewFakeGateway creates an empty fake.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		Responses: make(map[string]string),
		Errors:    make(map[string]error),
	}
}

// AddJSON registers body as the response for url.
func (f *FakeGateway) AddJSON(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[url] = body
}

// AddStatus makes url fail with an HTTP status, the way the real gateway
// reports non-2xx responses.
func (f *FakeGateway) AddStatus(url string, status int, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[url] = dserrors.Transport(&azcore.ResponseError{StatusCode: status, ErrorCode: code})
}

// AddError makes url fail with err.
func (f *FakeGateway) AddError(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[url] = err
}

// Get decodes the registered body for url into out.
func (f *FakeGateway) Get(ctx context.Context, url string, out any) error {
	return f.do(ctx, "GET", url, nil, out)
}

// Post records body and decodes the registered response for url into out.
func (f *FakeGateway) Post(ctx context.Context, url string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return dserrors.Transport(fmt.Errorf("marshal request body: %w", err))
	}
	return f.do(ctx, "POST", url, raw, out)
}

func (f *FakeGateway) do(ctx context.Context, method, url string, body []byte, out any) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, GatewayCall{Method: method, URL: url, Body: body})
	resp, hasResp := f.Responses[url]
	respErr := f.Errors[url]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dserrors.Transport(err)
	}
	if respErr != nil {
		return respErr
	}
	if !hasResp {
		return dserrors.Transport(&azcore.ResponseError{StatusCode: 404, ErrorCode: "SecretNotFound"})
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(resp), out); err != nil {
		return dserrors.Transport(fmt.Errorf("decode response from %s: %w", url, err))
	}
	return nil
}

// CallCount returns the number of requests made.
func (f *FakeGateway) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// LastCall returns the most recent request.
func (f *FakeGateway) LastCall() (GatewayCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Calls) == 0 {
		return GatewayCall{}, false
	}
	return f.Calls[len(f.Calls)-1], true
}
