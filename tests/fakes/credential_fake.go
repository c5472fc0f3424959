package fakes

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// FakeCredential is an azcore.TokenCredential returning a fixed token.
type FakeCredential struct {
	mu sync.Mutex

	Token string
	Err   error
	// Scopes records the scopes of every request.
	Scopes [][]string
}

// GetToken implements azcore.TokenCredential.
func (f *FakeCredential) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Scopes = append(f.Scopes, opts.Scopes)
	if f.Err != nil {
		return azcore.AccessToken{}, f.Err
	}
	return azcore.AccessToken{Token: f.Token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

// FakeTokenProvider is an auth.TokenProvider with a fixed header value.
type FakeTokenProvider struct {
	mu sync.Mutex

	Header string
	Err    error
	Calls  int
}

// Token implements auth.TokenProvider.
func (f *FakeTokenProvider) Token(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls++
	if f.Err != nil {
		return "", f.Err
	}
	return f.Header, nil
}
