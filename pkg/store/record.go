package store

import (
	"encoding/binary"
	"fmt"

	"swarmstore/pkg/models"
)

// encodeRecord serializes everything about a message except its hash
// (which is already the msg/ key) into the value stored at msg/<hash>.
// Layout: account(33) || namespace(2, signed big-endian) ||
// timestamp_ms(8) || expiry_ms(8) || data.
func encodeRecord(m models.Message) []byte {
	buf := make([]byte, models.AccountSize+2+8+8+len(m.Data))
	off := 0
	copy(buf[off:], m.Account[:])
	off += models.AccountSize
	binary.BigEndian.PutUint16(buf[off:], uint16(m.Namespace))
	off += 2
	binary.BigEndian.PutUint64(buf[off:], uint64(m.TimestampMs))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(m.ExpiryMs))
	off += 8
	copy(buf[off:], m.Data)
	return buf
}

const recordHeaderSize = models.AccountSize + 2 + 8 + 8

func decodeRecord(hash models.Hash, buf []byte) (models.Message, error) {
	if len(buf) < recordHeaderSize {
		return models.Message{}, fmt.Errorf("store: truncated record for hash %s", hash)
	}
	var m models.Message
	m.Hash = hash
	off := 0
	copy(m.Account[:], buf[off:off+models.AccountSize])
	off += models.AccountSize
	m.Namespace = models.Namespace(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	m.TimestampMs = int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	m.ExpiryMs = int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	if off < len(buf) {
		data := make([]byte, len(buf)-off)
		copy(data, buf[off:])
		m.Data = data
	}
	return m, nil
}
