package header

import "math/big"

// compactToTarget expands a compact ("nBits"-style) difficulty
// encoding into a full target integer, using the same mantissa/
// exponent convention as Bitcoin-derived chains: the low 23 bits are
// the mantissa, the high byte is the base-256 exponent.
func compactToTarget(bits uint32) *big.Int {
	exponent := bits >> 24
	mantissa := bits & 0x007fffff

	if bits&0x00800000 != 0 {
		// Negative target per the encoding's sign bit; never valid.
		return big.NewInt(0)
	}

	target := new(big.Int).SetUint64(uint64(mantissa))
	if exponent <= 3 {
		shift := uint(8 * (3 - exponent))
		target.Rsh(target, shift)
	} else {
		shift := uint(8 * (exponent - 3))
		target.Lsh(target, shift)
	}
	return target
}

// hashToBigEndianInt interprets a header hash as a big-endian integer
// for comparison against the expanded target.
func hashToBigEndianInt(h Hash) *big.Int {
	reversed := make([]byte, len(h))
	for i, b := range h {
		reversed[len(h)-1-i] = b
	}
	return new(big.Int).SetBytes(reversed)
}
