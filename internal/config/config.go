// Package config defines the operator-facing configuration for the
// connection front-end, loaded via viper and validated with
// validator/v10, mirroring the teacher's config validation pattern
// (nabbar-golib ldap/model.go, certificates/config.go).
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/robertjpayne/rethinkdb/internal/errcode"
	"github.com/robertjpayne/rethinkdb/internal/tlsprovider"
	"github.com/robertjpayne/rethinkdb/internal/watchable"
)

// Config is the top-level operational configuration (spec.md §6,
// "Operational inputs"): bound address set, TCP port, optional TLS
// context. No environment variables or on-disk state exist below this
// layer; viper is this layer's own concern.
type Config struct {
	Addresses []string `mapstructure:"addresses"`
	Port      int      `mapstructure:"port" validate:"required,min=1,max=65535"`
	Workers   int      `mapstructure:"workers" validate:"min=0"`

	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	ScramIterations int `mapstructure:"scram_iterations" validate:"omitempty,min=4096"`

	// AuthBackend selects the legacy plaintext key's verification
	// source: "static" checks the configured key in-process; "ldap"
	// binds to a directory server instead (mirroring the teacher's ldap
	// component). SCRAM looks users up in the same watchable: the Static
	// credential table under "static"; under "ldap" every SCRAM user is
	// reported unknown, since the LDAP watchable holds no SCRAM records.
	AuthBackend string `mapstructure:"auth_backend" validate:"omitempty,oneof=static ldap"`

	LDAP LDAPAuthConfig `mapstructure:"ldap"`

	LogLevel string `mapstructure:"log_level"`
}

// LDAPAuthConfig is the operator-facing shape of watchable.LDAPConfig
// (spec.md §6's operational inputs, extended per the teacher's ldap
// component). Required only when AuthBackend is "ldap"; checked by
// Config.Validate rather than a struct tag since the condition spans
// both structs.
type LDAPAuthConfig struct {
	URI       string `mapstructure:"uri"`
	Port      int    `mapstructure:"port"`
	BindDN    string `mapstructure:"bind_dn"`
	ServiceCN string `mapstructure:"service_cn"`
}

// Default returns the configuration baseline before any file/flag/env
// overlay is applied.
func Default() Config {
	return Config{
		Port:            28015,
		Workers:         4,
		ScramIterations: 4096,
		AuthBackend:     "static",
		LogLevel:        "info",
	}
}

// Load reads configuration from the given file path (if any), then
// environment variables prefixed RETHINKDB_, then validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("port", def.Port)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("scram_iterations", def.ScramIterations)
	v.SetDefault("auth_backend", def.AuthBackend)
	v.SetDefault("log_level", def.LogLevel)

	v.SetEnvPrefix("RETHINKDB")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errcode.New(errcode.UnknownError, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errcode.New(errcode.UnknownError, "failed to decode config", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); ok {
			return errcode.New(errcode.UnknownError, err.Error())
		}
		wrapped := errcode.New(errcode.UnknownError, "invalid configuration")
		for _, fe := range err.(validator.ValidationErrors) {
			wrapped = errcode.New(errcode.UnknownError, wrapped.Error(), fmt.Errorf(
				"config field '%s' is not validated by constraint '%s'", fe.StructNamespace(), fe.ActualTag()))
		}
		return wrapped
	}

	if c.AuthBackend == "ldap" {
		if c.LDAP.URI == "" || c.LDAP.Port == 0 || c.LDAP.BindDN == "" || c.LDAP.ServiceCN == "" {
			return errcode.New(errcode.UnknownError, "auth_backend 'ldap' requires ldap.uri, ldap.port, ldap.bind_dn and ldap.service_cn")
		}
	}

	return nil
}

// TLSConfig derives the tlsprovider.Config this Config implies; the
// returned config's Enabled() is false when no cert/key pair was set.
func (c Config) TLSConfig() tlsprovider.Config {
	return tlsprovider.Config{
		CertFile: c.TLSCertFile,
		KeyFile:  c.TLSKeyFile,
	}
}

// LDAPConfig derives the watchable.LDAPConfig this Config implies. Only
// meaningful when AuthBackend is "ldap"; callers must check that first.
func (c Config) LDAPConfig() watchable.LDAPConfig {
	return watchable.LDAPConfig{
		URI:       c.LDAP.URI,
		Port:      c.LDAP.Port,
		BindDN:    c.LDAP.BindDN,
		ServiceCN: c.LDAP.ServiceCN,
	}
}
