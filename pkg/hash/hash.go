// Package hash computes the content digest used to address stored messages.
package hash

import (
	"crypto/sha512"
	"encoding/binary"

	"swarmstore/pkg/models"
)

// Message computes the canonical message hash: SHA-512 of
// timestamp_ms (big-endian 8 bytes) || nonce || recipient || data,
// truncated to the first 32 bytes.
//
// nonce is the store request's optional "nonce" argument when the request
// carried one, otherwise the empty byte string. There is no zero-fill: an absent
// nonce contributes zero bytes to the digest, not a run of zero bytes.
func Message(timestampMs int64, nonce []byte, recipient models.Account, data []byte) models.Hash {
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestampMs))

	h := sha512.New()
	h.Write(tsBuf[:])
	h.Write(nonce)
	h.Write(recipient[:])
	h.Write(data)

	var out models.Hash
	copy(out[:], h.Sum(nil)[:models.HashSize])
	return out
}
