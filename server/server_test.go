package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/robertjpayne/rethinkdb/internal/frame"
	"github.com/robertjpayne/rethinkdb/internal/logging"
	"github.com/robertjpayne/rethinkdb/internal/query"
	"github.com/robertjpayne/rethinkdb/internal/session"
	"github.com/robertjpayne/rethinkdb/internal/watchable"
)

const magicV04 = 0x400c2d20
const wireProtoJSON = 0x7e6970c7

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func newTestServer(t *testing.T, watch watchable.AuthWatchable, handler query.Handler) (*Server, net.Addr) {
	t.Helper()

	srv, err := New(Config{
		Addresses: []string{"127.0.0.1"},
		Port:      0,
		Workers:   2,
		Watchable: watch,
		Handler:   handler,
		Logger:    logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	addr := srv.listeners[0].Addr()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = srv.Serve(ctx) }()

	return srv, addr
}

func TestServerLegacyHandshakeAndQuery(t *testing.T) {
	w := watchable.NewStatic()
	w.PlaintextKey = "s3cret"
	w.HasKey = true

	handler := query.HandlerFunc(func(ctx context.Context, sess *session.Session, params frame.QueryParams, resp *query.Response) error {
		resp.Payload = json.RawMessage(`{"t":1,"r":[1,2,3]}`)
		return nil
	})

	srv, addr := newTestServer(t, w, handler)
	defer func() { _ = srv.Shutdown(context.Background()) }()

	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var req []byte
	req = append(req, le32(magicV04)...)
	req = append(req, le32(uint32(len("s3cret")))...)
	req = append(req, []byte("s3cret")...)
	req = append(req, le32(wireProtoJSON)...)
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	r := bufio.NewReader(conn)
	banner := make([]byte, len("SUCCESS\x00"))
	if _, err := ioReadFull(r, banner); err != nil {
		t.Fatalf("read banner: %v", err)
	}
	if string(banner) != "SUCCESS\x00" {
		t.Fatalf("unexpected banner: %q", banner)
	}

	var qHdr [12]byte
	binary.LittleEndian.PutUint64(qHdr[0:8], 99)
	payload := []byte(`[1,[],{}]`)
	binary.LittleEndian.PutUint32(qHdr[8:12], uint32(len(payload)))
	if _, err := conn.Write(qHdr[:]); err != nil {
		t.Fatalf("write query header: %v", err)
	}
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write query payload: %v", err)
	}

	respHdr := make([]byte, 12)
	if _, err := ioReadFull(r, respHdr); err != nil {
		t.Fatalf("read response header: %v", err)
	}
	token := binary.LittleEndian.Uint64(respHdr[0:8])
	length := binary.LittleEndian.Uint32(respHdr[8:12])
	if token != 99 {
		t.Fatalf("token: got %d want 99", token)
	}

	respPayload := make([]byte, length)
	if _, err := ioReadFull(r, respPayload); err != nil {
		t.Fatalf("read response payload: %v", err)
	}
	if string(respPayload) != `{"t":1,"r":[1,2,3]}` {
		t.Fatalf("unexpected response payload: %s", respPayload)
	}
}

func TestServerLegacyWrongKeyGetsErrorFrame(t *testing.T) {
	w := watchable.NewStatic()
	w.PlaintextKey = "s3cret"
	w.HasKey = true

	srv, addr := newTestServer(t, w, query.HandlerFunc(func(ctx context.Context, sess *session.Session, params frame.QueryParams, resp *query.Response) error {
		return nil
	}))
	defer func() { _ = srv.Shutdown(context.Background()) }()

	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var req []byte
	req = append(req, le32(magicV04)...)
	req = append(req, le32(uint32(len("wrong")))...)
	req = append(req, []byte("wrong")...)
	req = append(req, le32(wireProtoJSON)...)
	if _, err := conn.Write(req); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	r := bufio.NewReader(conn)
	body, err := r.ReadBytes(0x00)
	if err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if string(body) != "ERROR: Incorrect authorization key.\n\x00" {
		t.Fatalf("unexpected error frame: %q", body)
	}
}

func ioReadFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		k, err := r.Read(buf[n:])
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
