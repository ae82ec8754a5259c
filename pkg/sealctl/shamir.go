// Package sealctl implements the master-key lifecycle: Shamir secret
// sharing over GF(2^8) and the seal/unseal state machine that gates every
// cryptographic operation in the system on the master key's presence.
package sealctl

import (
	"crypto/rand"
	"fmt"
)

// ShareLength is the fixed size, in bytes, of one Shamir share: a one-byte
// x-coordinate header followed by 32 y-value bytes, one per byte position
// of the 32-byte secret.
const ShareLength = 1 + MasterKeyLength

// MasterKeyLength is the size, in bytes, of the secret being split.
const MasterKeyLength = 32

// gf256Exp and gf256Log are lookup tables for GF(2^8) multiplication and
// division, built from the generator 0x03 over the AES reducing polynomial
// 0x11B. Built once at package init rather than computed per call.
var gf256Exp [510]byte
var gf256Log [256]byte

func init() {
	x := byte(1)
	for i := 0; i < 255; i++ {
		gf256Exp[i] = x
		gf256Log[x] = byte(i)
		// multiply x by the generator 0x03
		hi := x & 0x80
		x <<= 1
		if hi != 0 {
			x ^= 0x1B
		}
		x ^= gf256Exp[i]
	}
	for i := 255; i < 510; i++ {
		gf256Exp[i] = gf256Exp[i-255]
	}
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gf256Exp[int(gf256Log[a])+int(gf256Log[b])]
}

func gfDiv(a, b byte) byte {
	if a == 0 {
		return 0
	}
	// b == 0 is a caller error (division by zero share x-coordinate);
	// never reached because x-coordinates are validated non-zero.
	return gf256Exp[int(gf256Log[a])+255-int(gf256Log[b])]
}

// Split divides secret (exactly MasterKeyLength bytes) into n shares of
// which any t reconstruct it. Shares are assigned x-coordinates 1..n so
// none is ever zero. Requires 1 <= t <= n <= 255.
func Split(secret []byte, n, t int) ([][]byte, error) {
	if len(secret) != MasterKeyLength {
		return nil, fmt.Errorf("sealctl: secret must be %d bytes, got %d", MasterKeyLength, len(secret))
	}
	if n <= 0 || n > 255 {
		return nil, fmt.Errorf("sealctl: share count must be in 1..255, got %d", n)
	}
	if t <= 0 || t > n {
		return nil, fmt.Errorf("sealctl: threshold must be in 1..%d, got %d", n, t)
	}

	shares := make([][]byte, n)
	for i := 0; i < n; i++ {
		shares[i] = make([]byte, ShareLength)
		shares[i][0] = byte(i + 1)
	}

	coeffs := make([]byte, t)
	for pos := 0; pos < MasterKeyLength; pos++ {
		coeffs[0] = secret[pos]
		if t > 1 {
			if _, err := rand.Read(coeffs[1:]); err != nil {
				return nil, fmt.Errorf("sealctl: generating polynomial coefficients: %w", err)
			}
		}
		for i := 0; i < n; i++ {
			x := shares[i][0]
			shares[i][pos+1] = evalPoly(coeffs, x)
		}
	}
	return shares, nil
}

// evalPoly evaluates the polynomial with the given coefficients (lowest
// degree first) at x using Horner's method over GF(2^8).
func evalPoly(coeffs []byte, x byte) byte {
	result := byte(0)
	for i := len(coeffs) - 1; i >= 0; i-- {
		result = gfMul(result, x) ^ coeffs[i]
	}
	return result
}

// Combine reconstructs the original secret from at least t valid,
// distinct-x shares via Lagrange interpolation at x=0, performed
// independently for each of the MasterKeyLength byte positions. Callers
// must have already validated share length and x-coordinate per share;
// Combine itself only guards against duplicate x-coordinates.
func Combine(shares [][]byte) ([]byte, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("sealctl: no shares provided")
	}
	xs := make([]byte, len(shares))
	seen := make(map[byte]bool, len(shares))
	for i, s := range shares {
		if len(s) != ShareLength {
			return nil, fmt.Errorf("sealctl: share %d has length %d, want %d", i, len(s), ShareLength)
		}
		x := s[0]
		if x == 0 {
			return nil, fmt.Errorf("sealctl: share %d has zero x-coordinate", i)
		}
		if seen[x] {
			return nil, fmt.Errorf("sealctl: duplicate x-coordinate %d among shares", x)
		}
		seen[x] = true
		xs[i] = x
	}

	secret := make([]byte, MasterKeyLength)
	for pos := 0; pos < MasterKeyLength; pos++ {
		ys := make([]byte, len(shares))
		for i, s := range shares {
			ys[i] = s[pos+1]
		}
		secret[pos] = interpolateAtZero(xs, ys)
	}
	return secret, nil
}

// interpolateAtZero computes the Lagrange interpolation of the points
// (xs[i], ys[i]) evaluated at x=0, over GF(2^8).
func interpolateAtZero(xs, ys []byte) byte {
	result := byte(0)
	for i := range xs {
		num := byte(1)
		den := byte(1)
		for j := range xs {
			if i == j {
				continue
			}
			// numerator accumulates (0 - xs[j]) = xs[j] in GF(2^8)
			num = gfMul(num, xs[j])
			den = gfMul(den, xs[i]^xs[j])
		}
		term := gfMul(ys[i], gfDiv(num, den))
		result ^= term
	}
	return result
}
