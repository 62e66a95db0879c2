// Package watchable defines the credential-lookup collaborator the
// authenticator variants consume (spec.md §6, "AuthWatchable"), plus two
// concrete implementations: an in-memory static table for tests and
// small deployments, and an LDAP-backed one grounded on the teacher's
// ldap package (nabbar-golib ldap/ldap.go) for the legacy plaintext path.
//
// The watchable itself — credential storage and rotation — is out of
// scope per spec.md §1; only the interface it must expose to the
// connection front-end is specified here.
package watchable

import "context"

// ScramCredentials is the salted-password material SCRAM-SHA-256 needs
// to verify a client without ever seeing the plaintext password (RFC
// 5802 §3).
type ScramCredentials struct {
	Salt       []byte
	Iterations int
	StoredKey  []byte
	ServerKey  []byte
}

// AuthWatchable is the credential lookup surface consumed by both
// authenticator variants (spec.md §6).
type AuthWatchable interface {
	// LookupPlaintextKey returns the known authorization key for the
	// (implicit, single-tenant) legacy auth scheme. ok is false if no
	// key is configured, in which case any presented key is rejected.
	LookupPlaintextKey(ctx context.Context) (key string, ok bool)

	// LookupSCRAM returns the stored SCRAM credentials for username, or
	// ok=false if the user is unknown.
	LookupSCRAM(ctx context.Context, username string) (ScramCredentials, bool)
}
