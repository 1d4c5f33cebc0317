package auth

import (
	"fmt"
	"math/big"
)

// fieldPrime is 2^255 - 19, the field modulus for both Ed25519 and
// Curve25519 point arithmetic.
var fieldPrime = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(19))

// edwardsToMontgomery converts a compressed Ed25519 public key (the
// twisted-Edwards y-coordinate, little-endian, with the sign of x packed
// into the top bit) into its birationally equivalent Curve25519
// (Montgomery) u-coordinate: u = (1+y) / (1-y) mod p.
//
// No library in the dependency graph exposes this specific conversion
// (x/crypto/curve25519 only implements the scalar multiplication itself),
// so it is computed directly with math/big; the ScalarMult call in
// deriveSubkey (auth.go) still does the actual point arithmetic.
func edwardsToMontgomery(pub []byte) ([]byte, error) {
	if len(pub) != 32 {
		return nil, fmt.Errorf("edwardsToMontgomery: want 32 bytes, got %d", len(pub))
	}

	yLE := make([]byte, 32)
	copy(yLE, pub)
	yLE[31] &= 0x7f // clear the sign-of-x bit, keep only the y coordinate

	y := new(big.Int).SetBytes(reverseBytes(yLE))
	if y.Cmp(fieldPrime) >= 0 {
		return nil, fmt.Errorf("edwardsToMontgomery: y out of range")
	}

	one := big.NewInt(1)
	numerator := new(big.Int).Add(one, y)
	numerator.Mod(numerator, fieldPrime)

	denominator := new(big.Int).Sub(one, y)
	denominator.Mod(denominator, fieldPrime)
	if denominator.Sign() == 0 {
		return nil, fmt.Errorf("edwardsToMontgomery: y = 1, undefined")
	}
	inv := new(big.Int).ModInverse(denominator, fieldPrime)
	if inv == nil {
		return nil, fmt.Errorf("edwardsToMontgomery: no modular inverse")
	}

	u := new(big.Int).Mul(numerator, inv)
	u.Mod(u, fieldPrime)

	out := make([]byte, 32)
	uBytes := u.Bytes()
	for i := 0; i < len(uBytes); i++ {
		out[i] = uBytes[len(uBytes)-1-i]
	}
	return out, nil
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
