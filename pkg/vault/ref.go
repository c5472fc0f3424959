package vault

type refKind int

const (
	refByName refKind = iota
	refByNameVersion
	refFromVersion
)

// SecretRef identifies the secret a caller wants to read. Build one with
// ByName, ByNameVersion or FromVersion.
type SecretRef struct {
	kind     refKind
	name     string
	version  string
	explicit string
}

// ByName refers to the latest version of the named secret.
func ByName(name string) SecretRef {
	return SecretRef{kind: refByName, name: name}
}

// ByNameVersion refers to one specific version of the named secret.
func ByNameVersion(name, version string) SecretRef {
	return SecretRef{kind: refByNameVersion, name: name, version: version}
}

// FromVersion refers to the secret version described by v.
func FromVersion(v SecretVersion) SecretRef {
	return SecretRef{kind: refFromVersion, name: v.SecretName, version: v.Version}
}

// WithVersion returns a copy of r with an explicit version string. A
// non-empty explicit version takes precedence over any version implied by
// the reference.
func (r SecretRef) WithVersion(version string) SecretRef {
	r.explicit = version
	return r
}

// Resolve returns the canonical (name, version) pair. An empty version
// means the latest one.
func (r SecretRef) Resolve() (name, version string) {
	if r.explicit != "" {
		return r.name, r.explicit
	}
	switch r.kind {
	case refByNameVersion, refFromVersion:
		return r.name, r.version
	default:
		return r.name, ""
	}
}

// String renders the reference as name or name/version.
func (r SecretRef) String() string {
	name, version := r.Resolve()
	if version == "" {
		return name
	}
	return name + "/" + version
}
