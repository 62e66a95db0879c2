// Package version holds the build-time version string substituted into
// the SCRAM handshake's server_version field (spec.md §6; SPEC_FULL.md
// supplemented feature 1), the way the teacher's version/ package
// exposes a single overridable build identifier.
package version

// Version is overridable at build time via:
//
//	go build -ldflags "-X github.com/robertjpayne/rethinkdb/internal/version.Version=2.4.1"
var Version = "dev"
