// Package handshake implements the multi-version handshake state machine
// (C3, spec.md §4.3): read the protocol magic, dispatch to the legacy or
// SCRAM flavor, and hand back an authenticated session.
package handshake

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/robertjpayne/rethinkdb/internal/auth"
	"github.com/robertjpayne/rethinkdb/internal/auth/scram"
	"github.com/robertjpayne/rethinkdb/internal/errcode"
	"github.com/robertjpayne/rethinkdb/internal/frame"
	"github.com/robertjpayne/rethinkdb/internal/session"
	"github.com/robertjpayne/rethinkdb/internal/watchable"
)

// Wire protocol tags, preserved verbatim from the legacy protocol
// definition (spec.md §6).
const (
	wireProtocolJSON     uint32 = 0x7e6970c7
	wireProtocolProtobuf uint32 = 0x271ffc41
)

const maxAuthKeySize = 2048

// Shape names which final-error wire shape the dispatcher must use if
// this handshake fails (spec.md §4.6 step 5).
type Shape uint8

const (
	ShapeLegacy Shape = iota
	ShapeSCRAM
)

// Error is a connection-level handshake failure. Shape tells the
// dispatcher which final error frame shape to write; Code is the
// wire-visible code (spec.md §6) when one applies.
type Error struct {
	Shape   Shape
	Code    errcode.CodeError
	Message string
}

func (e *Error) Error() string { return e.Message }

func legacyErr(msg string) *Error {
	return &Error{Shape: ShapeLegacy, Code: errcode.WireNegotiationFailure, Message: msg}
}

func scramErrFrom(err error) *Error {
	var code errcode.CodeError
	if ce, ok := err.(errcode.Error); ok {
		code = ce.Code()
	} else if ae, ok := err.(*auth.Error); ok {
		code = ae.Code
	}
	return &Error{Shape: ShapeSCRAM, Code: code, Message: err.Error()}
}

// Deps bundles the collaborators the handshake engine needs beyond the
// raw socket (spec.md §6).
type Deps struct {
	Watchable     watchable.AuthWatchable
	PlaintextAuth func(watchable.AuthWatchable) auth.Authenticator
	ServerVersion string
}

// Run performs H1-H3 (spec.md §4.3) and returns an authenticated
// Session, or an *Error describing the final reply the dispatcher must
// write before closing.
func Run(ctx context.Context, conn net.Conn, r *bufio.Reader, deps Deps) (*session.Session, error) {
	magic, err := readMagic(ctx, r)
	if err != nil {
		return nil, err
	}

	info := lookupMagic(magic)

	switch info.path {
	case pathRejectProtobuf:
		return nil, legacyErr(info.reject)
	case pathUnsupported:
		return nil, legacyErr(info.reject)
	case pathLegacy:
		return runLegacy(ctx, conn, r, info.version, deps)
	case pathSCRAM:
		return runSCRAM(ctx, conn, r, info.version, deps)
	default:
		return nil, legacyErr("unsupported protocol version")
	}
}

func readMagic(ctx context.Context, r *bufio.Reader) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// runLegacy implements H2 (spec.md §4.3): read the auth key, check it,
// read the wire protocol tag, and reply "SUCCESS\0".
func runLegacy(ctx context.Context, conn net.Conn, r *bufio.Reader, version int, deps Deps) (*session.Session, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}
	keySize := binary.LittleEndian.Uint32(sizeBuf[:])
	if keySize > maxAuthKeySize {
		return nil, legacyErr("unsupported protocol version")
	}

	keyBuf := make([]byte, keySize)
	if _, err := io.ReadFull(r, keyBuf); err != nil {
		return nil, err
	}

	authenticator := deps.PlaintextAuth(deps.Watchable)
	_, _, err := authenticator.Next(ctx, string(keyBuf))
	if err != nil {
		// This exact message is contractual; drivers match it verbatim
		// (spec.md §4.3 step 3).
		return nil, legacyErr("Incorrect authorization key.")
	}

	var wireBuf [4]byte
	if _, err := io.ReadFull(r, wireBuf[:]); err != nil {
		return nil, err
	}
	wireTag := binary.LittleEndian.Uint32(wireBuf[:])

	var wire session.WireProtocol
	switch wireTag {
	case wireProtocolJSON:
		wire = session.WireProtocolJSON
	case wireProtocolProtobuf:
		return nil, legacyErr("Unrecognized protocol")
	default:
		return nil, legacyErr("Unrecognized protocol")
	}

	if _, err := conn.Write(frame.SuccessBanner); err != nil {
		return nil, err
	}

	return session.New(conn.RemoteAddr(), version, wire, authenticator.AuthenticatedUser()), nil
}

// runSCRAM implements H3 (spec.md §4.3): three JSON round-trips framed
// via C1, driving the SCRAM-SHA-256 authenticator to completion.
func runSCRAM(ctx context.Context, conn net.Conn, r *bufio.Reader, version int, deps Deps) (*session.Session, error) {
	hello := map[string]interface{}{
		"success":              true,
		"max_protocol_version": 0,
		"min_protocol_version": 0,
		"server_version":       deps.ServerVersion,
	}
	if err := frame.WriteJSON(ctx, conn, hello); err != nil {
		return nil, err
	}

	var clientFirst struct {
		ProtocolVersion      interface{} `json:"protocol_version"`
		AuthenticationMethod interface{} `json:"authentication_method"`
		Authentication       interface{} `json:"authentication"`
	}
	if err := frame.ReadJSON(ctx, r, &clientFirst); err != nil {
		return nil, scramErrFrom(err)
	}

	pv, ok := clientFirst.ProtocolVersion.(float64)
	if !ok {
		return nil, scramErrFrom(errcode.CodeProtocolVersionNotNumber.Error())
	}
	if pv != 0 {
		return nil, scramErrFrom(errcode.CodeProtocolVersionUnsupported.Error())
	}

	method, ok := clientFirst.AuthenticationMethod.(string)
	if !ok {
		return nil, scramErrFrom(errcode.CodeAuthMethodNotString.Error())
	}
	if method != "SCRAM-SHA-256" {
		return nil, scramErrFrom(errcode.CodeAuthMethodUnsupported.Error())
	}

	clientFirstMsg, ok := clientFirst.Authentication.(string)
	if !ok {
		return nil, scramErrFrom(errcode.CodeAuthenticationNotString.Error())
	}

	authenticator := scram.NewServer(deps.Watchable)

	serverFirstMsg, _, err := authenticator.Next(ctx, clientFirstMsg)
	if err != nil {
		return nil, scramErrFrom(err)
	}
	if err := frame.WriteJSON(ctx, conn, map[string]interface{}{
		"success":        true,
		"authentication": serverFirstMsg,
	}); err != nil {
		return nil, err
	}

	var clientFinal struct {
		Authentication interface{} `json:"authentication"`
	}
	if err := frame.ReadJSON(ctx, r, &clientFinal); err != nil {
		return nil, scramErrFrom(err)
	}
	clientFinalMsg, ok := clientFinal.Authentication.(string)
	if !ok {
		return nil, scramErrFrom(errcode.CodeAuthenticationNotString.Error())
	}

	serverFinalMsg, done, err := authenticator.Next(ctx, clientFinalMsg)
	if err != nil {
		return nil, scramErrFrom(err)
	}
	if !done {
		return nil, scramErrFrom(fmt.Errorf("SCRAM authentication did not complete"))
	}

	if err := frame.WriteJSON(ctx, conn, map[string]interface{}{
		"success":        true,
		"authentication": serverFinalMsg,
	}); err != nil {
		return nil, err
	}

	return session.New(conn.RemoteAddr(), version, session.WireProtocolJSON, authenticator.AuthenticatedUser()), nil
}
