package store

import (
	"encoding/binary"

	"swarmstore/pkg/models"
)

// Key prefixes. Pebble's natural lexicographic key ordering gives us the
// secondary and expiry indexes for free as long as the encoded fields
// sort the way we want.
var (
	msgPrefix = []byte("msg/")
	idxPrefix = []byte("idx/")
	expPrefix = []byte("exp/")
)

func msgKey(h models.Hash) []byte {
	k := make([]byte, 0, len(msgPrefix)+models.HashSize)
	k = append(k, msgPrefix...)
	k = append(k, h[:]...)
	return k
}

// zigzagEncode maps a signed 16-bit namespace onto an unsigned 16-bit
// value that preserves numeric ordering under byte comparison.
func zigzagEncode(n models.Namespace) uint16 {
	return uint16(int32(n) + 1<<15)
}

func zigzagDecode(u uint16) models.Namespace {
	return models.Namespace(int32(u) - 1<<15)
}

func idxKey(account models.Account, ns models.Namespace, timestampMs int64, h models.Hash) []byte {
	k := make([]byte, 0, len(idxPrefix)+models.AccountSize+2+8+models.HashSize)
	k = append(k, idxPrefix...)
	k = append(k, account[:]...)
	var nsBuf [2]byte
	binary.BigEndian.PutUint16(nsBuf[:], zigzagEncode(ns))
	k = append(k, nsBuf[:]...)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestampMs))
	k = append(k, tsBuf[:]...)
	k = append(k, h[:]...)
	return k
}

// idxPrefixFor returns the shared prefix for all index entries of one
// (account, namespace) pair, used as the lower bound of a range scan.
func idxPrefixFor(account models.Account, ns models.Namespace) []byte {
	k := make([]byte, 0, len(idxPrefix)+models.AccountSize+2)
	k = append(k, idxPrefix...)
	k = append(k, account[:]...)
	var nsBuf [2]byte
	binary.BigEndian.PutUint16(nsBuf[:], zigzagEncode(ns))
	k = append(k, nsBuf[:]...)
	return k
}

func expKey(expiryMs int64, h models.Hash) []byte {
	k := make([]byte, 0, len(expPrefix)+8+models.HashSize)
	k = append(k, expPrefix...)
	var expBuf [8]byte
	binary.BigEndian.PutUint64(expBuf[:], uint64(expiryMs))
	k = append(k, expBuf[:]...)
	k = append(k, h[:]...)
	return k
}

// prefixUpperBound returns the smallest key that is strictly greater than
// every key sharing the given prefix, for use as a pebble iterator bound.
func prefixUpperBound(prefix []byte) []byte {
	up := make([]byte, len(prefix))
	copy(up, prefix)
	for i := len(up) - 1; i >= 0; i-- {
		up[i]++
		if up[i] != 0 {
			return up[:i+1]
		}
	}
	return nil // prefix was all 0xff; unbounded
}
