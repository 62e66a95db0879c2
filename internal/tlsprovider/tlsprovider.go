// Package tlsprovider builds a server-side *tls.Config from a validated
// configuration struct, in the style of the teacher's certificates
// package (nabbar-golib certificates/config.go): a plain struct with
// validator tags, a Validate method folding validator.ValidationErrors
// into the package's own error type, and a New constructor producing the
// runtime object. The teacher's generic cipher/curve/CA list types and
// config-component/viper hot-reload wiring are not reproduced — this
// front-end needs one TLS listener built once at startup, not a
// hot-reloadable multi-consumer TLS config registry (see DESIGN.md).
package tlsprovider

import (
	"crypto/tls"
	"fmt"

	validator "github.com/go-playground/validator/v10"

	"github.com/robertjpayne/rethinkdb/internal/errcode"
)

// Config is the server-side TLS material (spec.md §6, "TlsContext
// provider" — only the interface this front-end needs is specified; the
// certificate/key material's provenance is out of scope).
type Config struct {
	CertFile   string `validate:"required_with=KeyFile"`
	KeyFile    string `validate:"required_with=CertFile"`
	MinVersion uint16 `validate:"omitempty,oneof=771 772"` // tls.VersionTLS12, tls.VersionTLS13
	ClientCAs  []string
}

// Enabled reports whether TLS material was configured at all; an empty
// Config means "no TLS context configured" (spec.md §4.6 step 3 treats
// this as optional).
func (c Config) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}

	err := errcode.New(errcode.UnknownError, "invalid TLS configuration")
	v := validator.New()
	if verr := v.Struct(c); verr != nil {
		if _, ok := verr.(*validator.InvalidValidationError); ok {
			return errcode.New(errcode.UnknownError, verr.Error())
		}
		for _, fe := range verr.(validator.ValidationErrors) {
			err = errcode.New(errcode.UnknownError, err.Error(), fmt.Errorf(
				"config field '%s' is not validated by constraint '%s'", fe.StructNamespace(), fe.ActualTag()))
		}
		return err
	}
	return nil
}

// New loads the certificate/key pair and builds a *tls.Config for the
// listener's server-side handshake (spec.md §4.6 step 3). It returns
// (nil, nil) when no TLS material was configured.
func (c Config) New() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, errcode.New(errcode.UnknownError, "failed to load TLS certificate", err)
	}

	minVersion := c.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
	}, nil
}
