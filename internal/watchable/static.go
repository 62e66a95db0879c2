package watchable

import "context"

// Static is a fixed, in-process AuthWatchable: one legacy key for the
// plaintext path, plus a map of SCRAM-SHA-256 credentials keyed by
// username. It exists for tests and for single-node deployments that
// don't wire in the LDAP-backed watchable.
type Static struct {
	PlaintextKey string
	HasKey       bool
	SCRAMUsers   map[string]ScramCredentials
}

// NewStatic builds a Static watchable with no configured credentials;
// callers populate PlaintextKey/HasKey and SCRAMUsers directly.
func NewStatic() *Static {
	return &Static{SCRAMUsers: make(map[string]ScramCredentials)}
}

func (s *Static) LookupPlaintextKey(ctx context.Context) (string, bool) {
	return s.PlaintextKey, s.HasKey
}

func (s *Static) LookupSCRAM(ctx context.Context, username string) (ScramCredentials, bool) {
	c, ok := s.SCRAMUsers[username]
	return c, ok
}
