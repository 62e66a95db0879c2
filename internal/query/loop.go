package query

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"runtime"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/robertjpayne/rethinkdb/internal/frame"
	"github.com/robertjpayne/rethinkdb/internal/logging"
	"github.com/robertjpayne/rethinkdb/internal/session"
)

// Loop runs the per-connection scheduler until the drain context fires
// or the codec reports a terminal connection-level error (spec.md
// §4.5). conn's read half is consumed only by this goroutine; its write
// half is shared with spawned per-query tasks under sendMu.
//
// drainCtx composes the server-wide drain signal; it is the "drain
// signal" spec.md §4.5.1 refers to for best-effort error replies. The
// errgroup's derived context additionally folds in the per-connection
// abort latch: once any per-query task returns an error, that derived
// context cancels, which is the "composite interruption signal" (spec.md
// §4.5, §9) propagating into the read loop and every other live task.
func Loop(drainCtx context.Context, conn net.Conn, sess *session.Session, handler Handler, log logging.Logger) error {
	g, composite := errgroup.WithContext(drainCtx)
	var sendMu sync.Mutex
	var firstErr firstErrorSlot

	r := bufio.NewReader(conn)

	for {
		if composite.Err() != nil {
			break
		}

		qp, err := frame.ReadQueryFrame(composite, r)
		if err != nil {
			if composite.Err() != nil {
				// Drain fired, or a sibling task aborted, while we were
				// blocked on the next frame: not a framing failure.
				break
			}
			if errors.Is(err, io.EOF) || isPeerClosed(err) {
				// Peer closed its write half; nothing more to read.
				break
			}
			// Malformed or over-length frame: a connection-level error,
			// surfaced to the dispatcher once spawned tasks finish.
			waitErr := g.Wait()
			if waitErr != nil {
				return waitErr
			}
			return err
		}

		if err := sess.Permits.Acquire(composite, 1); err != nil {
			// Composite signal fired while waiting for a permit.
			break
		}

		params := qp
		g.Go(func() error {
			defer sess.Permits.Release(1)
			return runOneQuery(composite, drainCtx, conn, &sendMu, &firstErr, sess, handler, log, params)
		})

		// Yield the worker so a fast client parsing many small frames
		// cannot starve tasks already spawned on this connection
		// (spec.md §4.5 "Fairness / progress").
		runtime.Gosched()
	}

	return g.Wait()
}

// runOneQuery is the per-query task body (spec.md §4.5 "Per-query
// task"). It returns a non-nil error only when the handler itself
// failed; that error becomes the connection's first-writer-wins error
// (errgroup.Wait's return value) and drives the composite signal's
// cancellation for every other in-flight task on this connection.
func runOneQuery(composite, drainCtx context.Context, conn net.Conn, sendMu *sync.Mutex, firstErr *firstErrorSlot, sess *session.Session, handler Handler, log logging.Logger, params frame.QueryParams) error {
	resp := &Response{}
	err := handler.RunQuery(composite, sess, params, resp)

	if err == nil {
		if params.NoReply {
			return nil
		}
		if werr := sendResponse(sendMu, conn, params.Token, resp); werr != nil {
			log.Warning("failed to send query response", logging.Fields{"token": params.Token, "error": werr.Error()})
		}
		return nil
	}

	log.Error("query handler failed", logging.Fields{"token": params.Token, "error": err.Error()})
	firstErr.record(err)

	errResp := &Response{
		ErrorKind:     "RUNTIME_ERROR",
		Indeterminate: true,
		ErrorMessage:  errorReplyMessage(drainCtx, firstErr),
	}

	// The error reply uses the narrower drain signal, not the composite
	// one, so a best-effort reply can still reach the client even
	// though the composite signal is now cancelled for this connection
	// (spec.md §4.5 step 3). Any failure here is swallowed (step 4).
	_ = sendResponseWithContext(drainCtx, sendMu, conn, params.Token, errResp)

	return err
}

// firstErrorSlot is the connection's aggregated error slot (spec.md
// §4.5): the first per-query failure observed, by message, shared across
// every task on the connection so later failures' error replies quote
// the same text the original implementation's shared err_str does
// (SPEC_FULL.md supplemented feature 3's source, server.cc's save_exception).
type firstErrorSlot struct {
	once sync.Once
	err  error
}

func (s *firstErrorSlot) record(err error) {
	s.once.Do(func() { s.err = err })
}

func (s *firstErrorSlot) get() error {
	return s.err
}

func sendResponse(sendMu *sync.Mutex, conn net.Conn, token uint64, resp *Response) error {
	payload, err := resp.MarshalFrame()
	if err != nil {
		return err
	}

	sendMu.Lock()
	defer sendMu.Unlock()
	return frame.WriteResponseFrame(conn, token, payload)
}

func sendResponseWithContext(ctx context.Context, sendMu *sync.Mutex, conn net.Conn, token uint64, resp *Response) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return sendResponse(sendMu, conn, token, resp)
}

// errorReplyMessage chooses the synthesized error text by the
// precedence in spec.md §4.5.1, reading the connection's aggregated
// error slot rather than the calling task's own error so that every
// query failing after the first one quotes the same first_error_message.
func errorReplyMessage(drainCtx context.Context, firstErr *firstErrorSlot) string {
	err := firstErr.get()
	if isPeerClosed(err) {
		return "Client closed the connection."
	}
	if drainCtx.Err() != nil {
		return "Server is shutting down."
	}
	return "Fatal error on another query: " + err.Error()
}

// isPeerClosed classifies an error as "the client's end of the socket is
// already gone", matching the original implementation's EPIPE/ECONNRESET
// inspection (see SPEC_FULL.md supplemented feature 3) without depending
// on OS-specific syscall numbers beyond the ones Go's net package
// already normalizes.
func isPeerClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, syscall.EPIPE) || errors.Is(opErr.Err, syscall.ECONNRESET)
	}
	return false
}
