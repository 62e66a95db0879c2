// Package frame implements the two wire framings the connection
// front-end speaks: NUL-terminated JSON documents for handshake
// messages and legacy error lines (C1), and length-prefixed
// token-correlated query/response frames for the JSON wire protocol
// (C4).
package frame

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/robertjpayne/rethinkdb/internal/errcode"
)

// MaxJSONFrame is the hard cap on a NUL-terminated handshake JSON frame,
// preserved from the source protocol (spec.md §4.1, §9 Open Question).
// An implementer embedding this package for a driver with larger SCRAM
// payloads may raise it; production servers should not lower it below
// what their own SCRAM usernames/nonces require.
const MaxJSONFrame = 2048

// WriteJSON serializes v to JSON, appends a single NUL terminator, and
// writes the result to w as one logical write (one Write call), so a
// concurrent writer on the same stream can never observe a partial
// frame.
func WriteJSON(ctx context.Context, w io.Writer, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf, err := json.Marshal(v)
	if err != nil {
		return errcode.New(errcode.UnknownError, "failed to encode JSON frame", err)
	}
	buf = append(buf, 0x00)

	if _, err = w.Write(buf); err != nil {
		return err
	}
	return nil
}

// ReadJSON reads bytes one at a time from r up to MaxJSONFrame, until a
// NUL terminator is observed, then parses the preceding bytes as JSON
// into v (CodeJSONParseFailure for invalid JSON, CodeJSONDatumConversionFailure
// when valid JSON does not fit v's type). It honors ctx: if ctx is done before the read completes, the
// read is abandoned and ctx.Err() is returned without buffering past the
// cancellation.
func ReadJSON(ctx context.Context, r *bufio.Reader, v interface{}) error {
	raw, err := readUntilNUL(ctx, r)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return errcode.CodeJSONDatumConversionFailure.Error(err)
		}
		return errcode.CodeJSONParseFailure.Error(err)
	}
	return nil
}

// readUntilNUL reads the NUL-terminated handshake frame body (without
// the terminator), failing with CodeJSONFrameTooLarge if the terminator
// is not found within MaxJSONFrame bytes.
func readUntilNUL(ctx context.Context, r *bufio.Reader) ([]byte, error) {
	buf := make([]byte, 0, 256)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}

		if b == 0x00 {
			return buf, nil
		}

		if len(buf) >= MaxJSONFrame {
			return nil, errcode.CodeJSONFrameTooLarge.Error()
		}

		buf = append(buf, b)
	}
}

// ReadLine reads a single line terminated by '\n' from r, the read-side
// counterpart of a legacy plain-text error reply. Neither the server nor
// its tests call it.
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return line, nil
}

// FormatLegacyError renders the exact contractual legacy error line:
// "ERROR: <message>\n" followed by a NUL terminator (spec.md §6).
func FormatLegacyError(message string) []byte {
	s := fmt.Sprintf("ERROR: %s\n", message)
	b := append([]byte(s), 0x00)
	return b
}

// SuccessBanner is the exact 8-byte ("SUCCESS" + NUL) legacy success
// reply; its NUL terminator is part of the driver contract (spec.md §9
// Open Question) and must be preserved verbatim.
var SuccessBanner = append([]byte("SUCCESS"), 0x00)

// scramErrorFrame is the JSON shape of a SCRAM-path error reply.
type scramErrorFrame struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}

// FormatSCRAMError renders {"success":false,"error":...,"error_code":...}
// NUL-terminated, per spec.md §6.
func FormatSCRAMError(code errcode.CodeError, message string) ([]byte, error) {
	buf, err := json.Marshal(scramErrorFrame{Success: false, Error: message, ErrorCode: code.Int()})
	if err != nil {
		return nil, err
	}
	return append(buf, 0x00), nil
}
