package header

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/Acktarius/HNSGo-sub000/hnserrors"
)

func sampleHeader() Header {
	h := Header{
		Nonce: 0xDEADBEEF,
		Time:  1700000000,
		Version: 0,
		Bits:    0x1d00ffff,
	}
	for i := range h.PrevBlock {
		h.PrevBlock[i] = byte(i)
	}
	for i := range h.NameRoot {
		h.NameRoot[i] = byte(i * 2)
	}
	for i := range h.ExtraNonce {
		h.ExtraNonce[i] = byte(i + 1)
	}
	for i := range h.ReservedRoot {
		h.ReservedRoot[i] = byte(255 - i)
	}
	for i := range h.WitnessRoot {
		h.WitnessRoot[i] = byte(i * 3)
	}
	for i := range h.MerkleRoot {
		h.MerkleRoot[i] = byte(i * 5)
	}
	for i := range h.Mask {
		h.Mask[i] = byte(i + 7)
	}
	return h
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := sampleHeader()
	encoded := h.Encode()
	require.Len(t, encoded, Size)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, h, decoded)

	// encode(decode(b)) == b byte-for-byte.
	require.Equal(t, encoded, decoded.Encode())
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	_, err := Decode(make([]byte, Size-1))
	require.Error(t, err)
	require.True(t, hnserrors.Is(err, hnserrors.FormatError))
}

func TestHashIsDeterministicAndSensitiveToEveryField(t *testing.T) {
	h := sampleHeader()
	h1 := h.Hash()
	h2 := h.Hash()
	require.Equal(t, h1, h2, "hash must be deterministic")

	mutated := h
	mutated.Nonce++
	require.NotEqual(t, h1, mutated.Hash(), "nonce must affect the hash")

	mutated = h
	mutated.Mask[0] ^= 0xff
	require.NotEqual(t, h1, mutated.Hash(), "mask must affect the hash (XOR term)")

	mutated = h
	mutated.ExtraNonce[0] ^= 0xff
	require.NotEqual(t, h1, mutated.Hash(), "extra_nonce must be preserved in full for the PoW hash")
}

// TestHashMatchesDocumentedConstruction recomputes the PoW hash of one
// fixed header from Encode()'s bytes with the documented formula and
// compares it to Hash(). It pins no fixed digest, so a field-order
// change inside Encode moves both sides together and is not caught here.
func TestHashMatchesDocumentedConstruction(t *testing.T) {
	h := sampleHeader()
	got := h.Hash()

	// Recompute via the documented construction independently of the
	// package's internal helper.
	sub := h.Encode()[:Size-32]
	subDigest := blake2b.Sum256(sub)
	maskDigest := blake2b.Sum256(h.Mask[:])

	var xored [32]byte
	for i := range xored {
		xored[i] = subDigest[i] ^ maskDigest[i]
	}
	want := sha3.Sum256(xored[:])

	require.Equal(t, Hash(want), got)
}

func TestChainLinkageUsesComputedHash(t *testing.T) {
	genesis := sampleHeader()
	child := sampleHeader()
	child.PrevBlock = genesis.Hash()
	child.Nonce = genesis.Nonce + 1

	require.Equal(t, genesis.Hash(), child.PrevBlock)
}
