package handshake

// Magic words are the 32-bit little-endian protocol tags a driver sends
// as the first four bytes of a connection (spec.md §6). The numeric
// values are part of the driver wire contract and are preserved from
// the legacy protocol definition verbatim; they are never derived or
// recomputed.
const (
	magicV0_1 uint32 = 0x3f61ba36
	magicV0_2 uint32 = 0x723081e1
	magicV0_3 uint32 = 0x5f75e83e
	magicV0_4 uint32 = 0x400c2d20
	magicV1_0 uint32 = 0x34c2bdc3
)

// path names which handshake flavor a protocol version uses.
type path uint8

const (
	pathRejectProtobuf path = iota
	pathLegacy
	pathSCRAM
	pathUnsupported
)

type versionInfo struct {
	version int
	path    path
	reject  string
}

func lookupMagic(magic uint32) versionInfo {
	switch magic {
	case magicV0_1:
		return versionInfo{version: 1, path: pathRejectProtobuf, reject: "The PROTOBUF client protocol is no longer supported"}
	case magicV0_2:
		return versionInfo{version: 2, path: pathRejectProtobuf, reject: "The PROTOBUF client protocol is no longer supported"}
	case magicV0_3:
		return versionInfo{version: 3, path: pathLegacy}
	case magicV0_4:
		return versionInfo{version: 4, path: pathLegacy}
	case magicV1_0:
		return versionInfo{version: 10, path: pathSCRAM}
	default:
		return versionInfo{version: -1, path: pathUnsupported, reject: "unsupported protocol version"}
	}
}
