package vault

import (
	"net/url"
	"strings"
	"time"
)

// ResourceID is the canonical URI of a secret or of one secret version,
// e.g. https://my-vault.vault.azure.net/secrets/api-key/4387e9f3d6e14c459867679a90fd0f79.
type ResourceID string

// String returns the raw identifier.
func (id ResourceID) String() string {
	return string(id)
}

// Version returns the last path segment of the identifier.
func (id ResourceID) Version() string {
	segments := id.segments()
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// Name returns the segment that follows "secrets" in the identifier path,
// or an empty string when the identifier is not a secret URI.
func (id ResourceID) Name() string {
	segments := id.segments()
	for i, s := range segments {
		if s == "secrets" && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	return ""
}

func (id ResourceID) segments() []string {
	p := string(id)
	if u, err := url.Parse(p); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// SecretAttributes holds the management attributes of a secret or version.
// Expires and NotBefore are nil when the service did not send them.
type SecretAttributes struct {
	Enabled       bool       `json:"enabled"`
	Created       time.Time  `json:"created"`
	Updated       time.Time  `json:"updated"`
	RecoveryLevel string     `json:"recoveryLevel"`
	Expires       *time.Time `json:"expires,omitempty"`
	NotBefore     *time.Time `json:"notBefore,omitempty"`
}

// Secret is a fully materialised secret including its plaintext value.
type Secret struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Value       string            `json:"value"`
	ID          ResourceID        `json:"id"`
	Attributes  SecretAttributes  `json:"attributes"`
	ContentType *string           `json:"contentType,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// SecretVersion is one historical revision of a secret. The value is not
// part of the versions listing.
type SecretVersion struct {
	SecretName  string           `json:"secretName"`
	Version     string           `json:"version"`
	ID          ResourceID       `json:"id"`
	Attributes  SecretAttributes `json:"attributes"`
	ContentType *string          `json:"contentType,omitempty"`
}

// IDEntity is a listing record: identifier and attributes, no value.
type IDEntity struct {
	ID          ResourceID        `json:"id"`
	Attributes  SecretAttributes  `json:"attributes"`
	ContentType *string           `json:"contentType,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Name returns the secret name encoded in the identifier.
func (e IDEntity) Name() string {
	return e.ID.Name()
}

// Page is one page of a listing in service order. A non-empty NextLink
// must be followed to retrieve the remaining items.
type Page[T any] struct {
	Items    []T    `json:"items"`
	NextLink string `json:"nextLink,omitempty"`
}

// HasMore reports whether the service announced further pages.
func (p Page[T]) HasMore() bool {
	return p.NextLink != ""
}
