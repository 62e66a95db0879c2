// Package scram implements the server side of SCRAM-SHA-256 (RFC 5802,
// RFC 7677), the challenge-response state machine the handshake engine
// drives for protocol version 10 (spec.md §4.2, §4.3). Channel binding
// is not supported (gs2-cbind-flag is always "n"), matching the
// original protocol's client population.
package scram

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/robertjpayne/rethinkdb/internal/errcode"
	"github.com/robertjpayne/rethinkdb/internal/watchable"
)

const hashSize = sha256.Size

type step int

const (
	stepAwaitClientFirst step = iota
	stepAwaitClientFinal
	stepDone
)

// Server drives one SCRAM-SHA-256 exchange for one connection. It is
// not safe for concurrent use; the handshake engine only ever calls it
// from the single goroutine performing the handshake.
type Server struct {
	watch watchable.AuthWatchable

	state step
	user  string

	clientNonce string
	serverNonce string
	salt        []byte
	iterations  int
	storedKey   []byte
	serverKey   []byte

	clientFirstBare string
	serverFirst     string
	authMessage     string
}

// NewServer builds a SCRAM-SHA-256 server authenticator backed by watch
// for salted-credential lookup.
func NewServer(watch watchable.AuthWatchable) *Server {
	return &Server{watch: watch}
}

// Next advances the SCRAM state machine. The first call's clientInput is
// the client-first message; the second call's is the client-final
// message. Any error is an errcode.Error with a code in [10,20] per
// spec.md §6, so the handshake engine can surface it as-is.
func (s *Server) Next(ctx context.Context, clientInput string) (string, bool, error) {
	switch s.state {
	case stepAwaitClientFirst:
		out, err := s.handleClientFirst(ctx, clientInput)
		if err != nil {
			return "", false, err
		}
		s.state = stepAwaitClientFinal
		return out, false, nil

	case stepAwaitClientFinal:
		out, err := s.handleClientFinal(clientInput)
		if err != nil {
			return "", false, err
		}
		s.state = stepDone
		return out, true, nil

	default:
		return "", true, errcode.New(errcode.CodeAuthenticationFailureRangeLow, "authentication already complete")
	}
}

func (s *Server) AuthenticatedUser() string {
	return s.user
}

// handleClientFirst parses "n,,n=<user>,r=<nonce>" (the GS2 header is
// always the no-channel-binding form for this protocol), looks up the
// user's stored SCRAM credentials, and builds the server-first message
// "r=<nonce>,s=<salt>,i=<iterations>".
func (s *Server) handleClientFirst(ctx context.Context, clientFirst string) (string, error) {
	gs2, bare, err := splitGS2Header(clientFirst)
	if err != nil {
		return "", err
	}
	if gs2 != "n,," {
		return "", scramErr(11, "channel binding is not supported")
	}

	attrs, err := parseAttributes(bare)
	if err != nil {
		return "", err
	}

	user, ok := attrs["n"]
	if !ok {
		return "", scramErr(12, "malformed client-first-message: missing username")
	}
	clientNonce, ok := attrs["r"]
	if !ok {
		return "", scramErr(12, "malformed client-first-message: missing nonce")
	}

	creds, found := s.watch.LookupSCRAM(ctx, user)
	if !found {
		return "", scramErr(13, "unknown user")
	}

	s.user = user
	s.clientNonce = clientNonce
	s.serverNonce = clientNonce + generateNonce()
	s.salt = creds.Salt
	s.iterations = creds.Iterations
	s.storedKey = creds.StoredKey
	s.serverKey = creds.ServerKey
	s.clientFirstBare = bare

	s.serverFirst = fmt.Sprintf("r=%s,s=%s,i=%d",
		s.serverNonce, base64.StdEncoding.EncodeToString(s.salt), s.iterations)

	return s.serverFirst, nil
}

// handleClientFinal parses "c=<channel-binding>,r=<nonce>,p=<proof>",
// verifies the client proof against the stored key, and returns
// "v=<server-signature>".
func (s *Server) handleClientFinal(clientFinal string) (string, error) {
	attrs, err := parseAttributes(clientFinal)
	if err != nil {
		return "", err
	}

	nonce, ok := attrs["r"]
	if !ok || nonce != s.serverNonce {
		return "", scramErr(14, "nonce mismatch")
	}

	channelBinding, ok := attrs["c"]
	if !ok || channelBinding != base64.StdEncoding.EncodeToString([]byte("n,,")) {
		return "", scramErr(11, "channel binding mismatch")
	}

	proofB64, ok := attrs["p"]
	if !ok {
		return "", scramErr(15, "malformed client-final-message: missing proof")
	}
	proof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		return "", scramErr(15, "malformed client-final-message: invalid proof encoding")
	}

	withoutProof := clientFinalWithoutProof(clientFinal)
	authMessage := strings.Join([]string{s.clientFirstBare, s.serverFirst, withoutProof}, ",")
	s.authMessage = authMessage

	clientSignature := hmacSHA256(s.storedKey, authMessage)
	clientKey := xorBytes(proof, clientSignature)

	computedStoredKey := sha256Sum(clientKey)
	if subtle.ConstantTimeCompare(computedStoredKey, s.storedKey) != 1 {
		return "", scramErr(16, "invalid authentication")
	}

	serverSignature := hmacSHA256(s.serverKey, authMessage)
	return fmt.Sprintf("v=%s", base64.StdEncoding.EncodeToString(serverSignature)), nil
}

// DeriveCredentials computes the StoredKey/ServerKey pair a watchable
// should persist for a given password, per RFC 5802 §3. Iterations
// should be at least 4096; RFC 7677 recommends a much higher minimum
// for SCRAM-SHA-256 in 2024-era deployments.
func DeriveCredentials(password string, salt []byte, iterations int) watchable.ScramCredentials {
	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, hashSize, sha256.New)
	clientKey := hmacSHA256(saltedPassword, "Client Key")
	storedKey := sha256Sum(clientKey)
	serverKey := hmacSHA256(saltedPassword, "Server Key")

	return watchable.ScramCredentials{
		Salt:       salt,
		Iterations: iterations,
		StoredKey:  storedKey,
		ServerKey:  serverKey,
	}
}

func hmacSHA256(key []byte, data string) []byte {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(data))
	return m.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

func xorBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func generateNonce() string {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read failing indicates a broken host entropy
		// source; there is no safe fallback for a nonce used in an
		// authentication proof.
		panic(err)
	}
	return base64.RawStdEncoding.EncodeToString(buf)
}

// splitGS2Header separates the GS2 header ("n,,", "y,,", or "n,a=...,")
// from the rest of a client-first message.
func splitGS2Header(msg string) (header, rest string, err error) {
	parts := strings.SplitN(msg, ",", 3)
	if len(parts) < 3 {
		return "", "", scramErr(12, "malformed client-first-message")
	}
	header = parts[0] + "," + parts[1] + ","
	return header, parts[2], nil
}

// clientFinalWithoutProof strips the trailing ",p=..." attribute from a
// client-final message, as required when reconstructing AuthMessage.
func clientFinalWithoutProof(clientFinal string) string {
	idx := strings.LastIndex(clientFinal, ",p=")
	if idx < 0 {
		return clientFinal
	}
	return clientFinal[:idx]
}

// parseAttributes splits a comma-separated "key=value" attribute list
// into a map, matching RFC 5802's message grammar.
func parseAttributes(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, field := range strings.Split(s, ",") {
		if field == "" {
			continue
		}
		eq := strings.IndexByte(field, '=')
		if eq < 0 {
			return nil, scramErr(12, "malformed SCRAM attribute: "+field)
		}
		out[field[:eq]] = field[eq+1:]
	}
	return out, nil
}

func scramErr(code int, msg string) error {
	return errcode.New(errcode.CodeError(code), msg)
}
