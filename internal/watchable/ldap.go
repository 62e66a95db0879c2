package watchable

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// LDAPConfig configures the LDAP-backed watchable, mirroring the shape
// of the teacher's ldap.Config (nabbar-golib ldap/model.go): a server
// URI/port pair and the bind DN pattern used to test a presented key.
type LDAPConfig struct {
	URI       string
	Port      int
	BindDN    string // fmt pattern, e.g. "cn=%s,ou=services,dc=example,dc=com"
	ServiceCN string
}

func (c LDAPConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.URI, c.Port)
}

// LDAP is an AuthWatchable whose legacy plaintext key is verified by
// binding to a directory server: the presented key is treated as the
// password for a fixed service DN. This mirrors the bind-based
// credential check in the teacher's HelperLDAP (nabbar-golib
// ldap/ldap.go), simplified to the single bind this server's legacy
// auth path needs — it does not perform the teacher's user/group search
// flow, which has no equivalent in this protocol.
//
// LookupSCRAM is not backed by LDAP: this directory model holds a bind
// password, not a SCRAM salted-verifier record, so SCRAM authentication
// against an LDAP-backed watchable always reports the user as unknown.
// Deployments needing SCRAM should pair the LDAP watchable with Static
// for the SCRAM side, or store salted verifiers in the directory and
// extend LookupSCRAM accordingly.
type LDAP struct {
	cfg LDAPConfig
}

func NewLDAP(cfg LDAPConfig) *LDAP {
	return &LDAP{cfg: cfg}
}

func (l *LDAP) LookupPlaintextKey(ctx context.Context) (string, bool) {
	// The watchable's contract (spec.md §6) is a lookup, not a verify;
	// but the legacy scheme has exactly one key, so "does this key
	// bind" and "is this the configured key" collapse to the same
	// check. We can't return the directory's secret (we never learn
	// it), so instead we expose a probe hook the plaintext
	// authenticator calls directly; see Verify.
	return "", false
}

func (l *LDAP) LookupSCRAM(ctx context.Context, username string) (ScramCredentials, bool) {
	return ScramCredentials{}, false
}

// Verify binds to the configured directory as the service DN using key
// as the password, returning true iff the bind succeeds. The legacy
// authenticator (internal/auth) calls this instead of LookupPlaintextKey
// when wired to an LDAP-backed watchable; Static-backed deployments use
// LookupPlaintextKey's returned key for an in-process comparison
// instead.
func (l *LDAP) Verify(ctx context.Context, key string) (bool, error) {
	conn, err := ldap.DialURL("ldap://" + l.cfg.addr())
	if err != nil {
		return false, err
	}
	defer conn.Close()

	dn := fmt.Sprintf(l.cfg.BindDN, l.cfg.ServiceCN)
	if err := conn.Bind(dn, key); err != nil {
		var lerr *ldap.Error
		if ok := asLDAPError(err, &lerr); ok && lerr.ResultCode == ldap.LDAPResultInvalidCredentials {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func asLDAPError(err error, target **ldap.Error) bool {
	if e, ok := err.(*ldap.Error); ok {
		*target = e
		return true
	}
	return false
}
