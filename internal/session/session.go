// Package session defines the per-connection state the handshake engine
// produces and the connection loop consumes (spec.md §3).
package session

import (
	"net"

	"golang.org/x/sync/semaphore"
)

// WireProtocol identifies the negotiated post-handshake wire shape.
type WireProtocol uint8

const (
	WireProtocolUnknown WireProtocol = iota
	WireProtocolJSON
	WireProtocolProtobuf // terminal: rejected, kept only to name the wire value
)

// EmptyBatchPolicy controls whether the query handler returns an empty
// result batch verbatim or suppresses it, a behavior that flipped at
// protocol version 4 (spec.md §3).
type EmptyBatchPolicy uint8

const (
	ReturnEmptyBatch EmptyBatchPolicy = iota
	SuppressEmptyBatch
)

// QueryCache is the opaque per-connection container the external query
// handler reads and writes; its construction and contents are outside
// this module's scope (spec.md §6, "QueryCache factory").
type QueryCache interface{}

// QueryCacheFactory builds a QueryCache once a session has authenticated,
// keyed by the session's observable identity (spec.md §6).
type QueryCacheFactory func(peer net.Addr, policy EmptyBatchPolicy, user string) QueryCache

// Session is the state owned by the handler goroutine for one accepted
// socket, from handshake completion through connection close.
type Session struct {
	PeerAddress      net.Addr
	ProtocolVersion  int
	WireProtocol     WireProtocol
	AuthenticatedUser string
	QueryCache       QueryCache
	MaxInFlight      int64
	EmptyBatchPolicy EmptyBatchPolicy

	// Permits bounds concurrent in-flight queries to MaxInFlight
	// (spec.md §3 invariant 4, §4.5). It is constructed once the
	// handshake determines MaxInFlight and lives for the connection's
	// duration.
	Permits *semaphore.Weighted
}

// MaxInFlightForVersion implements the version-gated concurrency bound
// from spec.md §3: 1 for versions below 4, 1024 from version 4 on.
func MaxInFlightForVersion(protocolVersion int) int64 {
	if protocolVersion < 4 {
		return 1
	}
	return 1024
}

// EmptyBatchPolicyForVersion implements spec.md §3's version-gated
// empty-batch behavior: return-empty below version 4, suppress-empty at
// and above.
func EmptyBatchPolicyForVersion(protocolVersion int) EmptyBatchPolicy {
	if protocolVersion < 4 {
		return ReturnEmptyBatch
	}
	return SuppressEmptyBatch
}

// New builds a Session for a freshly authenticated connection.
func New(peer net.Addr, protocolVersion int, wire WireProtocol, user string) *Session {
	maxInFlight := MaxInFlightForVersion(protocolVersion)
	return &Session{
		PeerAddress:       peer,
		ProtocolVersion:   protocolVersion,
		WireProtocol:      wire,
		AuthenticatedUser: user,
		MaxInFlight:       maxInFlight,
		EmptyBatchPolicy:  EmptyBatchPolicyForVersion(protocolVersion),
		Permits:           semaphore.NewWeighted(maxInFlight),
	}
}
