package tlsprovider

import "testing"

func TestEnabledRequiresEitherField(t *testing.T) {
	var c Config
	if c.Enabled() {
		t.Fatal("expected a zero-value Config to be disabled")
	}

	c.CertFile = "cert.pem"
	if !c.Enabled() {
		t.Fatal("expected Enabled() once CertFile is set")
	}
}

func TestValidateSkippedWhenDisabled(t *testing.T) {
	var c Config
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no validation error for a disabled config, got %v", err)
	}
}

func TestValidateRequiresKeyFileAlongsideCertFile(t *testing.T) {
	c := Config{CertFile: "cert.pem"}
	if err := c.Validate(); err == nil {
		t.Fatal("expected a validation error when KeyFile is missing")
	}
}

func TestValidateRejectsUnknownMinVersion(t *testing.T) {
	c := Config{CertFile: "cert.pem", KeyFile: "key.pem", MinVersion: 1}
	if err := c.Validate(); err == nil {
		t.Fatal("expected a validation error for an unsupported MinVersion")
	}
}

func TestNewReturnsNilWhenDisabled(t *testing.T) {
	var c Config
	tlsCfg, err := c.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tlsCfg != nil {
		t.Fatal("expected a nil *tls.Config when TLS is not configured")
	}
}

func TestNewFailsOnMissingCertFile(t *testing.T) {
	c := Config{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}
	if _, err := c.New(); err == nil {
		t.Fatal("expected an error loading a nonexistent certificate")
	}
}
