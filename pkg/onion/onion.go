// Package onion implements the onion terminator (C6): decoding an
// inter-node onion envelope into the inner request payload plus its
// metadata, and encoding for the producing side.
//
// The AEAD choice (XChaCha20-Poly1305 over an ephemeral-X25519 shared
// secret) mirrors the same ephemeral-key-then-seal construction used for
// onion-hop encryption elsewhere in the retrieved pack.
package onion

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// ErrInvalidPayload is returned for missing fields or bad framing.
var ErrInvalidPayload = errors.New("invalid_payload")

// EncType identifies the encryption/framing variant of an envelope.
type EncType byte

const (
	EncTypeXChaCha20Poly1305 EncType = 0
)

// Metadata describes the non-payload fields of a decoded onion envelope.
type Metadata struct {
	EphemeralPubkey [32]byte
	EncType         EncType
	HopHint         []byte // optional, present iff non-nil
}

const (
	headerFixedLen = 1 + 32 + 1 // enc_type || ephemeral_pubkey || hop_hint_len
	hopHintLen     = 32
)

func header(meta Metadata) []byte {
	hopLen := byte(0)
	if meta.HopHint != nil {
		hopLen = hopHintLen
	}
	h := make([]byte, 0, headerFixedLen+int(hopLen))
	h = append(h, byte(meta.EncType))
	h = append(h, meta.EphemeralPubkey[:]...)
	h = append(h, hopLen)
	if meta.HopHint != nil {
		padded := make([]byte, hopHintLen)
		copy(padded, meta.HopHint)
		h = append(h, padded...)
	}
	return h
}

func parseHeader(b []byte) (Metadata, int, error) {
	if len(b) < headerFixedLen {
		return Metadata{}, 0, fmt.Errorf("%w: truncated header", ErrInvalidPayload)
	}
	var meta Metadata
	meta.EncType = EncType(b[0])
	copy(meta.EphemeralPubkey[:], b[1:33])
	hopLen := int(b[33])
	off := headerFixedLen
	if hopLen > 0 {
		if hopLen != hopHintLen || len(b) < off+hopHintLen {
			return Metadata{}, 0, fmt.Errorf("%w: bad hop hint length", ErrInvalidPayload)
		}
		meta.HopHint = append([]byte{}, b[off:off+hopHintLen]...)
		off += hopHintLen
	}
	return meta, off, nil
}

// deriveKey turns a raw X25519 shared secret into an AEAD key via a plain
// SHA-256 whitening step (the shared secret itself is uniformly random
// enough for XChaCha20-Poly1305's 32-byte key, but hashing avoids ever
// using raw ECDH output directly as a symmetric key).
func deriveKey(shared [32]byte) [chacha20poly1305.KeySize]byte {
	return sha256.Sum256(shared[:])
}

// Decode peels one onion layer addressed to this node: nodePrivKey is the
// node's static X25519 private key. It returns the inner payload plus the
// envelope's metadata.
func Decode(nodePrivKey [32]byte, envelope []byte) (payload []byte, meta Metadata, err error) {
	meta, hdrLen, err := parseHeader(envelope)
	if err != nil {
		return nil, Metadata{}, err
	}
	if meta.EncType != EncTypeXChaCha20Poly1305 {
		return nil, Metadata{}, fmt.Errorf("%w: unsupported enc_type %d", ErrInvalidPayload, meta.EncType)
	}

	rest := envelope[hdrLen:]
	aead, err := chacha20poly1305.NewX(mustDeriveXChaChaKey(nodePrivKey, meta.EphemeralPubkey))
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: aead init: %v", ErrInvalidPayload, err)
	}
	if len(rest) < aead.NonceSize() {
		return nil, Metadata{}, fmt.Errorf("%w: truncated nonce", ErrInvalidPayload)
	}
	nonce := rest[:aead.NonceSize()]
	ciphertext := rest[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, ciphertext, header(meta))
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: decrypt failed", ErrInvalidPayload)
	}
	return plain, meta, nil
}

// Encode wraps payload for delivery to the node identified by
// recipientPubKey, generating a fresh ephemeral X25519 keypair.
func Encode(recipientPubKey [32]byte, payload []byte, encType EncType, hopHint []byte) ([]byte, error) {
	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, fmt.Errorf("onion: generating ephemeral key: %w", err)
	}
	var ephPub [32]byte
	pub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("onion: deriving ephemeral pubkey: %w", err)
	}
	copy(ephPub[:], pub)

	meta := Metadata{EphemeralPubkey: ephPub, EncType: encType, HopHint: hopHint}
	hdr := header(meta)

	aead, err := chacha20poly1305.NewX(mustDeriveXChaChaKey(ephPriv, recipientPubKey))
	if err != nil {
		return nil, fmt.Errorf("onion: aead init: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("onion: generating nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, payload, hdr)

	out := make([]byte, 0, len(hdr)+len(nonce)+len(ciphertext))
	out = append(out, hdr...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func mustDeriveXChaChaKey(priv, peerPub [32]byte) []byte {
	shared, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		shared = make([]byte, 32) // malformed peer key; AEAD open below will fail cleanly
	}
	var sharedArr [32]byte
	copy(sharedArr[:], shared)
	key := deriveKey(sharedArr)
	return key[:]
}
