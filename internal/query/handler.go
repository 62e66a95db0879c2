// Package query implements the connection loop (C5): the per-connection
// scheduler that bounds concurrent in-flight queries, serializes
// response writes, and aggregates per-query failures (spec.md §4.5).
package query

import (
	"context"
	"encoding/json"

	"github.com/robertjpayne/rethinkdb/internal/frame"
	"github.com/robertjpayne/rethinkdb/internal/session"
)

// Response is the opaque structure a QueryHandler fills on success, or
// that the connection loop synthesizes itself for error reporting
// (spec.md §3). Payload carries the handler's already-encoded JSON
// result; ErrorMessage/ErrorKind/Indeterminate are set only on the
// synthesized error path.
type Response struct {
	Payload       json.RawMessage
	ErrorKind     string
	Indeterminate bool
	ErrorMessage  string
}

// MarshalFrame renders the response the way it goes on the wire: the
// handler's payload verbatim on success, or a RUNTIME_ERROR envelope on
// the synthesized error path (spec.md §4.5.1).
func (r *Response) MarshalFrame() ([]byte, error) {
	if r.ErrorMessage != "" || r.ErrorKind != "" {
		return json.Marshal(struct {
			ErrorKind     string `json:"error_type"`
			Indeterminate bool   `json:"indeterminate"`
			Message       string `json:"message"`
			Backtrace     []any  `json:"backtrace"`
		}{
			ErrorKind:     r.ErrorKind,
			Indeterminate: r.Indeterminate,
			Message:       r.ErrorMessage,
			Backtrace:     []any{},
		})
	}
	if r.Payload == nil {
		return []byte("null"), nil
	}
	return r.Payload, nil
}

// Handler is the external query execution collaborator (spec.md §1, §6):
// given parsed query params and an interruption context, it fills resp.
// Implementations may block cooperatively on ctx and may return an
// error, which aborts the rest of the connection (spec.md §4.5).
type Handler interface {
	RunQuery(ctx context.Context, sess *session.Session, params frame.QueryParams, resp *Response) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, sess *session.Session, params frame.QueryParams, resp *Response) error

func (f HandlerFunc) RunQuery(ctx context.Context, sess *session.Session, params frame.QueryParams, resp *Response) error {
	return f(ctx, sess, params, resp)
}
