// Package auth implements the challenge-response authenticator variants
// consumed by the handshake engine (spec.md §4.2): legacy plaintext and
// SCRAM-SHA-256. Both are driven through the same narrow Authenticator
// capability rather than a class hierarchy (spec.md §9 "Dynamic dispatch
// over authenticator variants maps to a tagged sum behind a common
// capability").
package auth

import (
	"context"

	"github.com/robertjpayne/rethinkdb/internal/errcode"
	"github.com/robertjpayne/rethinkdb/internal/watchable"
)

// Error is a legacy plaintext authentication failure. Its Code is
// UnknownError: the legacy path surfaces no code, only the fixed
// "Incorrect authorization key." message. SCRAM-layer failures (codes
// 10-20) are errcode.Error values built by internal/auth/scram instead.
type Error struct {
	Code    errcode.CodeError
	Message string
}

func (e *Error) Error() string { return e.Message }

func newAuthError(code errcode.CodeError, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Authenticator drives one challenge-response state machine to
// completion. Next advances the state with one client message and
// returns the next server message; done is true once the machine has
// reached its terminal state, at which point AuthenticatedUser becomes
// valid.
type Authenticator interface {
	Next(ctx context.Context, clientInput string) (serverOutput string, done bool, err error)
	AuthenticatedUser() string
}

// Plaintext is the legacy single-round authenticator: the client
// presents a key once, it is checked against the watchable's configured
// key (or, for an LDAP-backed watchable, verified by bind), and the
// machine is immediately done. There is no explicit terminal message
// beyond the literal "SUCCESS" banner the handshake engine writes
// itself (spec.md §4.2).
type Plaintext struct {
	watch    watchable.AuthWatchable
	verifier func(ctx context.Context, key string) (bool, error)
	user     string
	done     bool
}

// NewPlaintext builds a Plaintext authenticator backed by a Static-style
// watchable (direct key comparison).
func NewPlaintext(watch watchable.AuthWatchable) *Plaintext {
	return &Plaintext{watch: watch}
}

// NewPlaintextVerifier builds a Plaintext authenticator backed by an
// external verification function (e.g. (*watchable.LDAP).Verify), for
// watchables that cannot hand back their secret for comparison.
func NewPlaintextVerifier(verifier func(ctx context.Context, key string) (bool, error)) *Plaintext {
	return &Plaintext{verifier: verifier}
}

func (p *Plaintext) Next(ctx context.Context, clientInput string) (string, bool, error) {
	if p.done {
		return "", true, newAuthError(errcode.UnknownError, "Incorrect authorization key.")
	}

	var ok bool
	var err error

	if p.verifier != nil {
		ok, err = p.verifier(ctx, clientInput)
		if err != nil {
			return "", false, err
		}
	} else {
		key, has := p.watch.LookupPlaintextKey(ctx)
		ok = has && constantTimeEqual(key, clientInput)
	}

	if !ok {
		return "", false, newAuthError(errcode.UnknownError, "Incorrect authorization key.")
	}

	p.done = true
	p.user = "admin"
	return "", true, nil
}

func (p *Plaintext) AuthenticatedUser() string {
	return p.user
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := 0; i < len(a); i++ {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
