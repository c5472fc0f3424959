// Package mapper converts Key Vault wire models into vault entities.
//
// Responses are decoded into the azsecrets models, which already know how
// Key Vault encodes timestamps (unix seconds) and optional fields. The
// functions here pick the fields akv cares about, normalise times to UTC,
// derive versions from resource ids and report missing required fields as
// mapping failures.
package mapper

import (
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	dserrors "github.com/systmms/akv/internal/errors"
	"github.com/systmms/akv/pkg/vault"
)

// Attributes maps a wire attributes object. expires and notBefore are
// optional; enabled, created and updated are required.
func Attributes(a *azsecrets.SecretAttributes) (vault.SecretAttributes, error) {
	if a == nil {
		return vault.SecretAttributes{}, dserrors.Mapping("response has no attributes")
	}
	if a.Enabled == nil {
		return vault.SecretAttributes{}, dserrors.Mapping("attributes have no enabled flag")
	}
	if a.Created == nil || a.Updated == nil {
		return vault.SecretAttributes{}, dserrors.Mapping("attributes have no created/updated timestamps")
	}

	attrs := vault.SecretAttributes{
		Enabled:   *a.Enabled,
		Created:   a.Created.UTC(),
		Updated:   a.Updated.UTC(),
		Expires:   utcPtr(a.Expires),
		NotBefore: utcPtr(a.NotBefore),
	}
	if a.RecoveryLevel != nil {
		attrs.RecoveryLevel = string(*a.RecoveryLevel)
	}
	return attrs, nil
}

// Secret maps a single-secret response. version is the version that was
// requested; when empty the version comes from the last segment of the
// returned id.
func Secret(name, version string, s azsecrets.Secret) (vault.Secret, error) {
	if s.ID == nil || *s.ID == "" {
		return vault.Secret{}, dserrors.Mapping("secret response has no id")
	}
	if s.Value == nil {
		return vault.Secret{}, dserrors.Mapping("secret response has no value")
	}
	attrs, err := Attributes(s.Attributes)
	if err != nil {
		return vault.Secret{}, err
	}

	id := vault.ResourceID(*s.ID)
	if version == "" {
		version = id.Version()
	}

	return vault.Secret{
		Name:        name,
		Version:     version,
		Value:       *s.Value,
		ID:          id,
		Attributes:  attrs,
		ContentType: stringPtr(s.ContentType),
		Tags:        Tags(s.Tags),
	}, nil
}

// Version maps one element of a versions listing. The secret name comes
// from the caller, not from the payload.
func Version(name string, p *azsecrets.SecretProperties) (vault.SecretVersion, error) {
	id, attrs, err := properties(p)
	if err != nil {
		return vault.SecretVersion{}, err
	}
	return vault.SecretVersion{
		SecretName:  name,
		Version:     id.Version(),
		ID:          id,
		Attributes:  attrs,
		ContentType: stringPtr(p.ContentType),
	}, nil
}

// IDEntity maps one element of a secrets listing.
func IDEntity(p *azsecrets.SecretProperties) (vault.IDEntity, error) {
	id, attrs, err := properties(p)
	if err != nil {
		return vault.IDEntity{}, err
	}
	return vault.IDEntity{
		ID:          id,
		Attributes:  attrs,
		ContentType: stringPtr(p.ContentType),
		Tags:        Tags(p.Tags),
	}, nil
}

func properties(p *azsecrets.SecretProperties) (vault.ResourceID, vault.SecretAttributes, error) {
	if p == nil {
		return "", vault.SecretAttributes{}, dserrors.Mapping("listing contains a null element")
	}
	if p.ID == nil || *p.ID == "" {
		return "", vault.SecretAttributes{}, dserrors.Mapping("listing element has no id")
	}
	attrs, err := Attributes(p.Attributes)
	if err != nil {
		return "", vault.SecretAttributes{}, err
	}
	return vault.ResourceID(*p.ID), attrs, nil
}

// Tags flattens wire tags; nil values become empty strings.
func Tags(in map[string]*string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v != nil {
			out[k] = *v
		} else {
			out[k] = ""
		}
	}
	return out
}

// WireTags is the inverse of Tags.
func WireTags(in map[string]string) map[string]*string {
	if in == nil {
		return nil
	}
	out := make(map[string]*string, len(in))
	for k, v := range in {
		v := v
		out[k] = &v
	}
	return out
}

// WireAttributes builds the request attributes of a set call. Only the
// writable fields are sent.
func WireAttributes(a vault.SecretAttributes) *azsecrets.SecretAttributes {
	enabled := a.Enabled
	return &azsecrets.SecretAttributes{
		Enabled:   &enabled,
		Expires:   utcPtr(a.Expires),
		NotBefore: utcPtr(a.NotBefore),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func stringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
