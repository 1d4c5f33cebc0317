package auth

import (
	"crypto/ed25519"
	"crypto/sha512"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"swarmstore/pkg/models"
)

func fixedKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return priv.Public().(ed25519.PublicKey), priv
}

// clampedScalar reproduces the RFC 8032/7748 scalar-clamping step Ed25519
// applies to SHA-512(seed) before using it as a Curve25519 exponent, the
// scalar that edwardsToMontgomery's birational map is expected to agree
// with via an entirely independent code path (curve25519.X25519 against
// the base point instead of the (1+y)/(1-y) formula).
func clampedScalar(seed []byte) []byte {
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32]
}

func TestAuthenticateRequestValidSignatureVerifies(t *testing.T) {
	pub, priv := fixedKeypair(t)
	authr := New(DefaultNetworkParams)

	var account models.Account
	account[0] = 0x03
	canonical := (Canonical{}).Store(account, time.Now().Unix(), 0, time.Now().Add(time.Hour).UnixMilli())
	sig := ed25519.Sign(priv, []byte(canonical))

	err := authr.AuthenticateRequest(pub, nil, time.Now().Unix(), canonical, sig)
	require.NoError(t, err)
}

// Property 5: any single bit flip in any component of the canonical string
// causes verification to fail.
func TestAuthenticateRequestBitFlipInCanonicalFails(t *testing.T) {
	pub, priv := fixedKeypair(t)
	authr := New(DefaultNetworkParams)

	var account models.Account
	account[0] = 0x03
	canonical := (Canonical{}).Store(account, time.Now().Unix(), 0, time.Now().Add(time.Hour).UnixMilli())
	sig := ed25519.Sign(priv, []byte(canonical))

	flipped := []byte(canonical)
	flipped[0] ^= 0x01
	err := authr.AuthenticateRequest(pub, nil, time.Now().Unix(), string(flipped), sig)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestAuthenticateRequestBitFlipInSignatureFails(t *testing.T) {
	pub, priv := fixedKeypair(t)
	authr := New(DefaultNetworkParams)

	var account models.Account
	account[0] = 0x03
	canonical := (Canonical{}).Store(account, time.Now().Unix(), 0, time.Now().Add(time.Hour).UnixMilli())
	sig := ed25519.Sign(priv, []byte(canonical))
	sig[0] ^= 0x01

	err := authr.AuthenticateRequest(pub, nil, time.Now().Unix(), canonical, sig)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestCheckTimestampRejectsOutOfBounds(t *testing.T) {
	authr := New(DefaultNetworkParams)
	require.Error(t, authr.CheckTimestamp(time.Now().Add(-15*24*time.Hour).Unix()))
	require.Error(t, authr.CheckTimestamp(time.Now().Add(2*24*time.Hour).Unix()))
	require.NoError(t, authr.CheckTimestamp(time.Now().Unix()))
}

// TestEdwardsToMontgomeryMatchesX25519FromClampedScalar cross-checks the
// birational (1+y)/(1-y) conversion against an entirely separate
// construction: deriving the same Curve25519 point via X25519 scalar
// multiplication from the Ed25519 private key's clamped scalar. The two
// are expected to agree for any Ed25519 keypair.
func TestEdwardsToMontgomeryMatchesX25519FromClampedScalar(t *testing.T) {
	pub, priv := fixedKeypair(t)

	viaBirational, err := edwardsToMontgomery(pub)
	require.NoError(t, err)

	viaX25519, err := curve25519.X25519(clampedScalar(priv.Seed()), curve25519.Basepoint)
	require.NoError(t, err)

	require.Equal(t, viaX25519, viaBirational)
}

// TestDeriveSubkeyRoundTrip verifies subkey derivation agrees with scalar
// multiplication performed directly against the independently-derived
// Montgomery base point, and that it is deterministic and tweak-sensitive.
func TestDeriveSubkeyRoundTrip(t *testing.T) {
	pub, priv := fixedKeypair(t)

	tweak := make([]byte, 32)
	for i := range tweak {
		tweak[i] = byte(2*i + 1)
	}

	derived, err := deriveSubkey(pub, tweak)
	require.NoError(t, err)

	masterMontgomery, err := curve25519.X25519(clampedScalar(priv.Seed()), curve25519.Basepoint)
	require.NoError(t, err)
	var expected [32]byte
	curve25519.ScalarMult(&expected, (*[32]byte)(tweak), (*[32]byte)(masterMontgomery))
	require.Equal(t, expected[:], []byte(derived))

	again, err := deriveSubkey(pub, tweak)
	require.NoError(t, err)
	require.Equal(t, derived, again, "derivation must be deterministic")

	otherTweak := make([]byte, 32)
	for i := range otherTweak {
		otherTweak[i] = byte(i)
	}
	different, err := deriveSubkey(pub, otherTweak)
	require.NoError(t, err)
	require.NotEqual(t, derived, different)
}

func TestEffectiveKeyWithoutSubkeyReturnsMasterKey(t *testing.T) {
	authr := New(DefaultNetworkParams)
	pub, _ := fixedKeypair(t)

	key, err := authr.EffectiveKey(pub, nil)
	require.NoError(t, err)
	require.Equal(t, pub, key)
}

// TestSessionIDToAccountRoundTrip checks the session-id conversion against
// a fixed, known-good Ed25519 keypair: the resulting account carries the
// session network prefix and its 32 key bytes agree with the same
// independent X25519 construction used above, not just with the package's
// own birational-map implementation.
func TestSessionIDToAccountRoundTrip(t *testing.T) {
	pub, priv := fixedKeypair(t)

	acct, err := SessionIDToAccount(pub)
	require.NoError(t, err)
	require.Equal(t, byte(models.SessionPrefix), acct[0])

	expected, err := curve25519.X25519(clampedScalar(priv.Seed()), curve25519.Basepoint)
	require.NoError(t, err)
	require.Equal(t, expected, acct[1:])

	again, err := SessionIDToAccount(pub)
	require.NoError(t, err)
	require.Equal(t, acct, again, "conversion must be deterministic")
}
