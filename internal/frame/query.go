package frame

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/robertjpayne/rethinkdb/internal/errcode"
)

// MaxQueryFrame bounds the length field of a post-handshake query frame;
// unlike MaxJSONFrame (the 2048-byte handshake cap), query payloads carry
// documents and are allowed to be much larger, but an unbounded length
// field would let a corrupt or malicious peer force an unbounded
// allocation.
const MaxQueryFrame = 64 << 20 // 64 MiB

// QueryParams is the parsed shape of one inbound query frame (spec.md
// §3, §4.4): a correlation token, the noreply flag, and the opaque
// payload handed to the external QueryHandler. NoReply and the payload
// are both decoded from the same JSON array; the wire protocol this
// server negotiates (RethinkDB's own JSON query language) encodes
// query type, term tree and options as one JSON array, with "NOREPLY"
// carried in the global options object — query_params only needs to
// know whether that option is set, not interpret the rest.
type QueryParams struct {
	Token   uint64
	NoReply bool
	Payload json.RawMessage
}

// ReadQueryFrame parses one [8B token LE][4B length LE][length bytes]
// frame from r. A short read, a length exceeding MaxQueryFrame, or a
// malformed JSON payload surfaces as a connection-level error (spec.md
// §4.4).
func ReadQueryFrame(ctx context.Context, r *bufio.Reader) (QueryParams, error) {
	var qp QueryParams

	if err := ctx.Err(); err != nil {
		return qp, err
	}

	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return qp, err
	}

	qp.Token = binary.LittleEndian.Uint64(hdr[0:8])
	length := binary.LittleEndian.Uint32(hdr[8:12])

	if length > MaxQueryFrame {
		return qp, errcode.New(errcode.UnknownError, "query frame exceeds maximum length")
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return qp, err
	}

	if !json.Valid(payload) {
		return qp, errcode.New(errcode.UnknownError, "query frame payload is not valid JSON")
	}

	qp.Payload = payload
	qp.NoReply = payloadRequestsNoReply(payload)

	return qp, nil
}

// payloadRequestsNoReply inspects the query's global-options object (the
// third element of the top-level JSON array, when present) for a truthy
// "noreply" key, without fully decoding the query term tree — the codec
// only needs this one flag, the rest of the payload is opaque to C4/C5
// and is handed to QueryHandler untouched.
func payloadRequestsNoReply(payload []byte) bool {
	var top []json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil || len(top) < 3 {
		return false
	}

	var opts struct {
		NoReply bool `json:"noreply"`
	}
	if err := json.Unmarshal(top[2], &opts); err != nil {
		return false
	}
	return opts.NoReply
}

// WriteResponseFrame serializes one response frame: the same
// [8B token LE][4B length LE][length bytes] shape, echoing token
// verbatim (spec.md §4.4). Callers (the connection loop's send path)
// are responsible for holding the send mutex around this call so that
// frames on one connection never interleave at the byte level (§3
// invariant 3).
func WriteResponseFrame(w io.Writer, token uint64, payload []byte) error {
	hdr := make([]byte, 12)
	binary.LittleEndian.PutUint64(hdr[0:8], token)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(payload)))

	buf := make([]byte, 0, len(hdr)+len(payload))
	buf = append(buf, hdr...)
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}
