// Package server implements the listener/dispatcher (C6, spec.md §4.6):
// it accepts TCP connections, optionally terminates TLS, pins each
// connection to one of a fixed pool of workers round-robin, and wires
// per-connection drain signals to the server-wide drain signal.
package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/robertjpayne/rethinkdb/internal/auth"
	"github.com/robertjpayne/rethinkdb/internal/errcode"
	"github.com/robertjpayne/rethinkdb/internal/frame"
	"github.com/robertjpayne/rethinkdb/internal/handshake"
	"github.com/robertjpayne/rethinkdb/internal/logging"
	"github.com/robertjpayne/rethinkdb/internal/query"
	"github.com/robertjpayne/rethinkdb/internal/watchable"
)

// keepAlivePeriod matches the original implementation's SO_KEEPALIVE
// interval (SPEC_FULL.md supplemented feature 4).
const keepAlivePeriod = 30 * time.Second

// ErrAddressInUse is returned by New when the configured port is already
// bound, so operators can distinguish this from other bind failures
// (spec.md §4.6).
var ErrAddressInUse = errors.New("address already in use")

// Config configures the listener/dispatcher.
type Config struct {
	Addresses     []string // local addresses to bind; empty means all interfaces
	Port          int
	TLS           *tls.Config // nil disables TLS
	Workers       int         // number of pinned worker pools; defaults to 1
	Watchable watchable.AuthWatchable
	Handler   query.Handler
	Logger    logging.Logger

	// PlaintextAuth builds the legacy authenticator from Watchable; nil
	// defaults to auth.NewPlaintext (the Static-style in-process key
	// comparison). An LDAP-backed deployment instead supplies a factory
	// that ignores its argument and returns
	// auth.NewPlaintextVerifier(ldapWatchable.Verify).
	PlaintextAuth func(watchable.AuthWatchable) auth.Authenticator

	ServerVersion string
}

// Server is the accept/dispatch front-end for one or more bound
// listeners.
type Server struct {
	cfg Config
	log logging.Logger

	listeners []net.Listener

	workers   []*errgroup.Group
	workerCtx []context.Context

	nextWorker atomic.Uint64 // one accept goroutine per listener; kept atomic since multiple addresses mean multiple accept goroutines

	drainCtx    context.Context
	cancelDrain context.CancelFunc

	acceptWG sync.WaitGroup
}

// New binds listeners for every configured address:port. If the port is
// already in use, it returns ErrAddressInUse wrapping the underlying
// error so operators can recognize it distinctly from other failures.
func New(cfg Config) (*Server, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	if cfg.PlaintextAuth == nil {
		cfg.PlaintextAuth = func(w watchable.AuthWatchable) auth.Authenticator { return auth.NewPlaintext(w) }
	}

	addrs := cfg.Addresses
	if len(addrs) == 0 {
		addrs = []string{""}
	}

	s := &Server{cfg: cfg, log: cfg.Logger}

	for _, addr := range addrs {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", addr, cfg.Port))
		if err != nil {
			s.closeListeners()
			if isAddrInUse(err) {
				return nil, fmt.Errorf("%w: %s:%d: %w", ErrAddressInUse, addr, cfg.Port, err)
			}
			return nil, err
		}
		s.listeners = append(s.listeners, ln)
	}

	drainCtx, cancel := context.WithCancel(context.Background())
	s.drainCtx = drainCtx
	s.cancelDrain = cancel

	// Each worker's errgroup.Group exists purely as a drainer (spec.md
	// §4.6, "the dispatcher holds a drainer"): Go() tracks one goroutine
	// per pinned connection, Wait() blocks Shutdown until they all
	// unwind. A connection's own composite interruption signal lives
	// inside query.Loop, so the worker group deliberately does not use
	// errgroup.WithContext's error-cancelled derived context — one
	// connection's handler panic-free return must never cancel its
	// sibling connections on the same worker.
	s.workers = make([]*errgroup.Group, cfg.Workers)
	s.workerCtx = make([]context.Context, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		s.workers[i] = &errgroup.Group{}
		s.workerCtx[i] = drainCtx
	}

	return s, nil
}

func (s *Server) closeListeners() {
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	s.listeners = nil
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, syscall.EADDRINUSE)
	}
	return false
}

// Serve accepts connections on every bound listener until ctx is done or
// Shutdown is called. It blocks until all accept loops have returned.
func (s *Server) Serve(ctx context.Context) error {
	lns := s.listeners
	go func() {
		select {
		case <-ctx.Done():
			s.cancelDrain()
			for _, ln := range lns {
				_ = ln.Close()
			}
		case <-s.drainCtx.Done():
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, len(s.listeners))

	for _, ln := range s.listeners {
		wg.Add(1)
		go func(ln net.Listener) {
			defer wg.Done()
			errs <- s.acceptLoop(ln)
		}(ln)
	}

	wg.Wait()
	close(errs)

	var firstErr error
	for err := range errs {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.drainCtx.Err() != nil {
				return nil
			}
			return err
		}

		worker := s.pinWorker()
		wg := s.workers[worker]
		wctx := s.workerCtx[worker]

		wg.Go(func() error {
			s.handleConnection(wctx, conn)
			return nil
		})
	}
}

// pinWorker implements the round-robin assignment (spec.md §4.6 step 1,
// §9 "Per-worker round-robin is module-private state on the accept
// worker"). Kept as instance state on the dispatcher, never a package
// global, so multiple Server instances never share a counter.
func (s *Server) pinWorker() int {
	n := s.nextWorker.Add(1) - 1
	return int(n % uint64(len(s.workers)))
}

// handleConnection runs the TLS handshake (if configured), the protocol
// handshake, and the connection loop for one accepted socket, then
// writes a final error frame if either stage failed (spec.md §4.6 steps
// 3-6).
func (s *Server) handleConnection(drainCtx context.Context, conn net.Conn) {
	// A plain `defer conn.Close()` here would bind to the pre-TLS
	// connection value; the closure instead resolves `conn` when it
	// runs, so it closes whichever value conn holds by then (the TLS
	// wrapper, once the optional handshake below runs).
	defer func() { _ = conn.Close() }()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(keepAlivePeriod)
	}

	if s.cfg.TLS != nil {
		tlsConn := tls.Server(conn, s.cfg.TLS)
		if err := tlsConn.HandshakeContext(drainCtx); err != nil {
			if drainCtx.Err() == nil {
				s.log.Warning("TLS handshake failed", logging.Fields{"peer": conn.RemoteAddr().String(), "error": err.Error()})
			}
			return
		}
		conn = tlsConn
	}

	peer := conn.RemoteAddr()
	r := bufio.NewReader(conn)

	deps := handshake.Deps{
		Watchable:     s.cfg.Watchable,
		PlaintextAuth: s.cfg.PlaintextAuth,
		ServerVersion: s.cfg.ServerVersion,
	}

	sess, err := handshake.Run(drainCtx, conn, r, deps)
	if err != nil {
		s.replyAndClose(conn, err, peer)
		return
	}

	s.log.Info("connection authenticated", logging.Fields{
		"peer":             peer.String(),
		"protocol_version": sess.ProtocolVersion,
		"user":             sess.AuthenticatedUser,
	})

	if err := query.Loop(drainCtx, conn, sess, s.cfg.Handler, s.log); err != nil {
		if sess.ProtocolVersion >= 10 {
			// A SCRAM-negotiated session gets the JSON error frame shape.
			code := errcode.UnknownError
			if ce, ok := err.(errcode.Error); ok {
				code = ce.Code()
			}
			err = &handshake.Error{Shape: handshake.ShapeSCRAM, Code: code, Message: err.Error()}
		}
		s.replyAndClose(conn, err, peer)
		return
	}
}

// replyAndClose writes exactly one final error frame in the shape
// demanded by the negotiated protocol_version (or the legacy shape if
// negotiation never advanced), then half-closes the write side (spec.md
// §4.6 step 5, §7). Peer-closed and interrupt failures during this reply
// are swallowed (step 6).
func (s *Server) replyAndClose(conn net.Conn, cause error, peer net.Addr) {
	var hsErr *handshake.Error
	shape := handshake.ShapeLegacy
	code := errcode.WireNegotiationFailure
	message := cause.Error()

	if errors.As(cause, &hsErr) {
		shape = hsErr.Shape
		code = hsErr.Code
		message = hsErr.Message
	}

	s.log.Warning("connection error", logging.Fields{"peer": peer.String(), "error": message})

	var writeErr error
	switch shape {
	case handshake.ShapeSCRAM:
		buf, err := frame.FormatSCRAMError(code, message)
		if err == nil {
			_, writeErr = conn.Write(buf)
		}
	default:
		_, writeErr = conn.Write(frame.FormatLegacyError(message))
	}

	if writeErr != nil && !isPeerClosed(writeErr) {
		s.log.Warning("failed to write final error frame", logging.Fields{"peer": peer.String(), "error": writeErr.Error()})
	}

	if wc, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = wc.CloseWrite()
	}
}

func isPeerClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}

// Shutdown stops accepting new connections, closes the listeners, and
// waits (up to ctx's deadline) for every worker's in-flight connections
// to unwind (spec.md §3 invariant 5, §4.6 "the dispatcher holds a
// drainer").
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelDrain()
	s.closeListeners()

	done := make(chan error, 1)
	go func() {
		var firstErr error
		for _, g := range s.workers {
			if err := g.Wait(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		done <- firstErr
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
