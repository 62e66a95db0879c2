package scram

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/crypto/pbkdf2"

	"github.com/robertjpayne/rethinkdb/internal/watchable"
)

// parseTestAttrs splits a SCRAM "key=value,key=value" message into a
// map, mirroring the package's own attribute grammar for test use.
func parseTestAttrs(t *testing.T, msg string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, field := range strings.Split(msg, ",") {
		eq := strings.IndexByte(field, '=')
		if eq < 0 {
			t.Fatalf("malformed attribute %q in %q", field, msg)
		}
		out[field[:eq]] = field[eq+1:]
	}
	return out
}

// computeTestProof performs the client side of RFC 5802 §3's proof
// derivation, used only to drive Server through a real exchange.
func computeTestProof(t *testing.T, password, saltB64, iterationsStr, clientFirstBare, serverFirst, clientFinalNoProof string) string {
	t.Helper()

	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		t.Fatalf("decode salt: %v", err)
	}
	iterations, err := strconv.Atoi(iterationsStr)
	if err != nil {
		t.Fatalf("parse iterations: %v", err)
	}

	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
	clientKey := hmacTest(saltedPassword, "Client Key")
	storedKey := sha256.Sum256(clientKey)

	authMessage := strings.Join([]string{clientFirstBare, serverFirst, clientFinalNoProof}, ",")
	clientSignature := hmacTest(storedKey[:], authMessage)

	proof := make([]byte, len(clientKey))
	for i := range clientKey {
		proof[i] = clientKey[i] ^ clientSignature[i]
	}
	return base64.StdEncoding.EncodeToString(proof)
}

func hmacTest(key []byte, data string) []byte {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(data))
	return m.Sum(nil)
}

func newTestWatchable(username, password string, iterations int) *watchable.Static {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)

	w := watchable.NewStatic()
	w.SCRAMUsers[username] = DeriveCredentials(password, salt, iterations)
	return w
}

func TestSCRAMHappyPath(t *testing.T) {
	ctx := context.Background()
	w := newTestWatchable("alice", "s3cret", 4096)

	srv := NewServer(w)

	clientFirst := "n,,n=alice,r=clientnonce123"
	serverFirst, done, err := srv.Next(ctx, clientFirst)
	if err != nil {
		t.Fatalf("client-first: %v", err)
	}
	if done {
		t.Fatal("expected not done after client-first")
	}

	attrs := parseTestAttrs(t, serverFirst)
	combinedNonce := attrs["r"]
	if !strings.HasPrefix(combinedNonce, "clientnonce123") {
		t.Fatalf("server nonce does not extend client nonce: %s", combinedNonce)
	}

	salt := attrs["s"]
	iterations := attrs["i"]
	if salt == "" || iterations == "" {
		t.Fatalf("missing salt/iterations in server-first: %s", serverFirst)
	}

	clientFinalNoProof := "c=biws,r=" + combinedNonce
	proof := computeTestProof(t, "s3cret", salt, iterations, "n=alice,r=clientnonce123", serverFirst, clientFinalNoProof)
	clientFinal := clientFinalNoProof + ",p=" + proof

	serverFinal, done, err := srv.Next(ctx, clientFinal)
	if err != nil {
		t.Fatalf("client-final: %v", err)
	}
	if !done {
		t.Fatal("expected done after client-final")
	}
	if !strings.HasPrefix(serverFinal, "v=") {
		t.Fatalf("expected server-final signature, got %s", serverFinal)
	}
	if srv.AuthenticatedUser() != "alice" {
		t.Fatalf("AuthenticatedUser: got %q", srv.AuthenticatedUser())
	}
}

func TestSCRAMUnknownUser(t *testing.T) {
	ctx := context.Background()
	w := watchable.NewStatic()
	srv := NewServer(w)

	_, _, err := srv.Next(ctx, "n,,n=ghost,r=nonce")
	if err == nil {
		t.Fatal("expected an error for an unknown user")
	}
}

func TestSCRAMBadProofRejected(t *testing.T) {
	ctx := context.Background()
	w := newTestWatchable("bob", "correct-password", 4096)
	srv := NewServer(w)

	serverFirst, _, err := srv.Next(ctx, "n,,n=bob,r=nonceX")
	if err != nil {
		t.Fatalf("client-first: %v", err)
	}
	attrs := parseTestAttrs(t, serverFirst)

	clientFinalNoProof := "c=biws,r=" + attrs["r"]
	// Compute the proof with the wrong password.
	badProof := computeTestProof(t, "wrong-password", attrs["s"], attrs["i"], "n=bob,r=nonceX", serverFirst, clientFinalNoProof)

	_, _, err = srv.Next(ctx, clientFinalNoProof+",p="+badProof)
	if err == nil {
		t.Fatal("expected the bad proof to be rejected")
	}
}
