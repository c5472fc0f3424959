// Package cache stores serialised secrets with an absolute expiry.
//
// Every backend evaluates expiry at read time against an injected clock:
// a Get never returns an entry whose ExpiresAt has passed. There is no
// eviction beyond expiry. Writers to the same key race and the last one
// wins; entries are immutable values so that is harmless.
package cache

import (
	"context"
	"time"

	"github.com/juju/clock"
)

// Entry is one cached value.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the entry is no longer valid at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store is a key-value store with time-based expiry.
type Store interface {
	// Get returns the live entry for key. found is false for missing and
	// expired entries.
	Get(ctx context.Context, key string) (entry Entry, found bool, err error)
	// Put stores value under key until expiresAt, replacing any entry.
	Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error
}

// Deleter is implemented by stores that can drop a single entry.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Key builds the cache key of a secret: "{name}-{discriminator}". The
// discriminator separates deployments sharing a store and may be empty.
func Key(name, discriminator string) string {
	return name + "-" + discriminator
}

// Option configures a store.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock sets the clock used to evaluate expiry.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.WallClock}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NopStore never stores anything.
type NopStore struct{}

// Get always misses.
func (NopStore) Get(context.Context, string) (Entry, bool, error) { return Entry{}, false, nil }

// Put discards the value.
func (NopStore) Put(context.Context, string, []byte, time.Time) error { return nil }
