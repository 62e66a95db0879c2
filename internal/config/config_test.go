package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected the default configuration to validate, got %v", err)
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := Default()
	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a validation error for an out-of-range port")
	}
}

func TestValidateRejectsLowScramIterations(t *testing.T) {
	cfg := Default()
	cfg.ScramIterations = 100
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a validation error for a too-low SCRAM iteration count")
	}
}

func TestLoadWithoutFileAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 28015 {
		t.Fatalf("Port: got %d want 28015", cfg.Port)
	}
	if cfg.ScramIterations != 4096 {
		t.Fatalf("ScramIterations: got %d want 4096", cfg.ScramIterations)
	}
}

func TestTLSConfigDisabledByDefault(t *testing.T) {
	cfg := Default()
	if cfg.TLSConfig().Enabled() {
		t.Fatal("expected TLS to be disabled when no cert/key is configured")
	}
}

func TestValidateRejectsLDAPBackendWithoutLDAPConfig(t *testing.T) {
	cfg := Default()
	cfg.AuthBackend = "ldap"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a validation error for auth_backend=ldap without ldap.* fields")
	}
}

func TestValidateAcceptsLDAPBackendWithLDAPConfig(t *testing.T) {
	cfg := Default()
	cfg.AuthBackend = "ldap"
	cfg.LDAP = LDAPAuthConfig{
		URI:       "directory.example.com",
		Port:      389,
		BindDN:    "cn=%s,ou=services,dc=example,dc=com",
		ServiceCN: "docbridged",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected a fully configured ldap backend to validate, got %v", err)
	}
}

func TestValidateRejectsUnknownAuthBackend(t *testing.T) {
	cfg := Default()
	cfg.AuthBackend = "kerberos"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a validation error for an unrecognized auth_backend")
	}
}

func TestLDAPConfigDerivesWatchableShape(t *testing.T) {
	cfg := Default()
	cfg.LDAP = LDAPAuthConfig{URI: "directory.example.com", Port: 636, BindDN: "cn=%s,dc=example,dc=com", ServiceCN: "svc"}

	got := cfg.LDAPConfig()
	if got.URI != cfg.LDAP.URI || got.Port != cfg.LDAP.Port || got.BindDN != cfg.LDAP.BindDN || got.ServiceCN != cfg.LDAP.ServiceCN {
		t.Fatalf("LDAPConfig() = %+v, want fields copied from %+v", got, cfg.LDAP)
	}
}
