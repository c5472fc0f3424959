// Package vault defines the entity model shared by every akv component.
//
// Key Vault returns secrets, secret versions and listing records with
// slightly different JSON shapes. The types here give them one uniform,
// versioned representation:
//
//   - Secret is a fully materialised secret, value included.
//   - SecretVersion is the metadata of one historical revision.
//   - IDEntity is a lightweight listing record.
//   - Page is an ordered slice plus the service continuation link.
//
// Entities are values. They are built once by the mapper and never
// mutated afterwards; a newer secret replaces an older one.
//
// SecretRef describes which secret a caller wants. It is resolved to a
// canonical (name, version) pair before any network logic runs:
//
//	name, version := vault.ByName("db-pass").Resolve()          // "db-pass", ""
//	name, version  = vault.ByNameVersion("api-key", "v2").Resolve() // "api-key", "v2"
//	name, version  = vault.FromVersion(v).WithVersion("v3").Resolve()
//
// An empty version means "latest".
package vault
