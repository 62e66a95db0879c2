// Package errcode provides the numeric error-code error type used across
// the connection front-end: a uint16 code (the wire error-code namespace
// a driver matches against) plus an optional parent chain, in the style of
// a classic "HTTP-status-like" application error code.
package errcode

import (
	"strconv"
	"strings"
)

// CodeError is a numeric error classification visible to drivers on the
// wire (handshake rejections, SCRAM failures, framing errors).
type CodeError uint16

const (
	// UnknownError is used when no specific code applies.
	UnknownError CodeError = 0

	// SCRAM client-first validation (§6)
	CodeProtocolVersionNotNumber       CodeError = 1
	CodeProtocolVersionUnsupported     CodeError = 2
	CodeAuthMethodNotString            CodeError = 3
	CodeAuthMethodUnsupported          CodeError = 4
	CodeAuthenticationNotString        CodeError = 5
	CodeJSONFrameTooLarge              CodeError = 7
	CodeJSONParseFailure               CodeError = 8
	CodeJSONDatumConversionFailure     CodeError = 9
	CodeAuthenticationFailureRangeLow  CodeError = 10
	CodeAuthenticationFailureRangeHigh CodeError = 20
	CodeCryptoGeneric                  CodeError = 21
	CodeCryptoOpenSSL                  CodeError = 22
)

// WireNegotiationFailure is the legacy protocol/version negotiation
// failure code. It is carried on the wire as -1 (see §6); Go's CodeError
// is unsigned, so negotiation failures are represented with this sentinel
// and rendered as -1 by Int().
const WireNegotiationFailure CodeError = 0xFFFF

// Int renders the wire-visible integer form of the code, mapping the
// WireNegotiationFailure sentinel back to the contractual -1.
func (c CodeError) Int() int {
	if c == WireNegotiationFailure {
		return -1
	}
	return int(c)
}

func (c CodeError) Uint16() uint16 {
	return uint16(c)
}

func (c CodeError) String() string {
	return strconv.Itoa(c.Int())
}

// messages mirrors the code -> text table a client is expected to see;
// the text itself is never contractual (only codes and the handful of
// exact strings called out in spec.md §6/§8 are), but a stable default
// avoids every call site inventing its own wording.
var messages = map[CodeError]string{
	CodeProtocolVersionNotNumber:       "`protocol_version` must be a number.",
	CodeProtocolVersionUnsupported:     "Unsupported `protocol_version`.",
	CodeAuthMethodNotString:            "`authentication_method` must be a string.",
	CodeAuthMethodUnsupported:          "Unsupported `authentication_method`.",
	CodeAuthenticationNotString:        "`authentication` must be a string.",
	CodeJSONFrameTooLarge:              "Limited read buffer size.",
	CodeJSONParseFailure:               "Invalid JSON object.",
	CodeJSONDatumConversionFailure:     "Invalid JSON datum.",
	CodeCryptoGeneric:                  "crypto error.",
	CodeCryptoOpenSSL:                  "crypto error.",
	WireNegotiationFailure:             "unsupported protocol version",
}

func (c CodeError) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return "unknown error"
}

// Error constructs an Error value from this code, optionally chaining
// parent errors (the underlying cause, if any).
func (c CodeError) Error(parent ...error) Error {
	return New(c, c.Message(), parent...)
}

// Errorf is like Error but with an explicit formatted message, for codes
// whose text is built from request context (e.g. "Fatal error on another
// query: <msg>").
func (c CodeError) Errorf(msg string) Error {
	return New(c, msg)
}

// Error is the package's error value: a code plus message plus an
// optional parent chain, compatible with errors.Is/errors.As via Unwrap.
type Error interface {
	error
	Code() CodeError
	Unwrap() []error
	HasParent() bool
}

type ers struct {
	code CodeError
	msg  string
	p    []error
}

func New(code CodeError, msg string, parent ...error) Error {
	e := &ers{code: code, msg: msg}
	for _, pe := range parent {
		if pe != nil {
			e.p = append(e.p, pe)
		}
	}
	return e
}

func (e *ers) Error() string {
	if len(e.p) == 0 {
		return e.msg
	}
	parts := make([]string, 0, len(e.p)+1)
	parts = append(parts, e.msg)
	for _, p := range e.p {
		parts = append(parts, p.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ers) Code() CodeError    { return e.code }
func (e *ers) Unwrap() []error    { return e.p }
func (e *ers) HasParent() bool    { return len(e.p) > 0 }

// IsCode reports whether err is (or wraps, as the outermost errcode.Error)
// the given code.
func IsCode(err error, code CodeError) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(Error); ok {
		return e.Code() == code
	}
	return false
}
