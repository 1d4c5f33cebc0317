package onion

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var nodePriv [32]byte
	_, err := rand.Read(nodePriv[:])
	require.NoError(t, err)
	nodePubBytes, err := curve25519.X25519(nodePriv[:], curve25519.Basepoint)
	require.NoError(t, err)
	var nodePub [32]byte
	copy(nodePub[:], nodePubBytes)

	payload := []byte(`{"method":"info","params":{}}`)
	envelope, err := Encode(nodePub, payload, EncTypeXChaCha20Poly1305, nil)
	require.NoError(t, err)

	got, meta, err := Decode(nodePriv, envelope)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, EncTypeXChaCha20Poly1305, meta.EncType)
	require.Nil(t, meta.HopHint)
}

func TestDecodeRejectsTamperedCiphertext(t *testing.T) {
	var nodePriv [32]byte
	_, _ = rand.Read(nodePriv[:])
	nodePubBytes, _ := curve25519.X25519(nodePriv[:], curve25519.Basepoint)
	var nodePub [32]byte
	copy(nodePub[:], nodePubBytes)

	envelope, err := Encode(nodePub, []byte("hello"), EncTypeXChaCha20Poly1305, nil)
	require.NoError(t, err)
	envelope[len(envelope)-1] ^= 0xff

	_, _, err = Decode(nodePriv, envelope)
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecodeRejectsShortInput(t *testing.T) {
	var nodePriv [32]byte
	_, _, err := Decode(nodePriv, []byte("short"))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestHopHintRoundTrip(t *testing.T) {
	var nodePriv [32]byte
	_, _ = rand.Read(nodePriv[:])
	nodePubBytes, _ := curve25519.X25519(nodePriv[:], curve25519.Basepoint)
	var nodePub [32]byte
	copy(nodePub[:], nodePubBytes)

	hint := make([]byte, 32)
	_, _ = rand.Read(hint)
	envelope, err := Encode(nodePub, []byte("hi"), EncTypeXChaCha20Poly1305, hint)
	require.NoError(t, err)

	_, meta, err := Decode(nodePriv, envelope)
	require.NoError(t, err)
	require.Equal(t, hint, meta.HopHint)
}
