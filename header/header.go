// Package header implements the Handshake 236-byte block header: its
// fixed wire layout and the custom Blake2b/SHA3/XOR proof-of-work hash
// that chains headers together (spec §3, §4.1).
package header

import (
	"encoding/binary"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/Acktarius/HNSGo-sub000/hnserrors"
)

// Size is the fixed on-the-wire length of a Handshake header.
const Size = 236

// Hash is a 32-byte header hash.
type Hash [32]byte

// IsZero reports whether h is the all-zero hash (used to recognize
// the pre-checkpoint sentinel prev_block).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Header is the fixed-layout Handshake block header described in
// spec §3. Field order matches the wire layout exactly.
type Header struct {
	Nonce        uint32
	Time         uint64
	PrevBlock    Hash
	NameRoot     Hash
	ExtraNonce   [24]byte
	ReservedRoot Hash
	WitnessRoot  Hash
	MerkleRoot   Hash
	Version      uint32
	Bits         uint32
	Mask         Hash
}

// Decode parses a 236-byte buffer into a Header. It returns a
// FormatError if b is not exactly Size bytes.
func Decode(b []byte) (Header, error) {
	var h Header
	if len(b) != Size {
		return h, hnserrors.New(hnserrors.FormatError, "header must be %d bytes, got %d", Size, len(b))
	}

	off := 0
	h.Nonce = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.Time = binary.LittleEndian.Uint64(b[off:])
	off += 8
	copy(h.PrevBlock[:], b[off:off+32])
	off += 32
	copy(h.NameRoot[:], b[off:off+32])
	off += 32
	copy(h.ExtraNonce[:], b[off:off+24])
	off += 24
	copy(h.ReservedRoot[:], b[off:off+32])
	off += 32
	copy(h.WitnessRoot[:], b[off:off+32])
	off += 32
	copy(h.MerkleRoot[:], b[off:off+32])
	off += 32
	h.Version = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.Bits = binary.LittleEndian.Uint32(b[off:])
	off += 4
	copy(h.Mask[:], b[off:off+32])
	off += 32

	if off != Size {
		// Defensive: a layout bug would silently desync every other
		// invariant in this package, so fail loudly instead.
		return h, hnserrors.New(hnserrors.FormatError, "header layout consumed %d of %d bytes", off, Size)
	}
	return h, nil
}

// DecodeReader reads exactly Size bytes from r and decodes them.
func DecodeReader(r io.Reader) (Header, error) {
	var buf [Size]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, hnserrors.New(hnserrors.IOError, "read header", err)
	}
	return Decode(buf[:])
}

// Encode serializes h into the fixed 236-byte wire layout. It
// round-trips bit-exactly with Decode.
func (h Header) Encode() []byte {
	b := make([]byte, Size)
	off := 0
	binary.LittleEndian.PutUint32(b[off:], h.Nonce)
	off += 4
	binary.LittleEndian.PutUint64(b[off:], h.Time)
	off += 8
	copy(b[off:off+32], h.PrevBlock[:])
	off += 32
	copy(b[off:off+32], h.NameRoot[:])
	off += 32
	copy(b[off:off+24], h.ExtraNonce[:])
	off += 24
	copy(b[off:off+32], h.ReservedRoot[:])
	off += 32
	copy(b[off:off+32], h.WitnessRoot[:])
	off += 32
	copy(b[off:off+32], h.MerkleRoot[:])
	off += 32
	binary.LittleEndian.PutUint32(b[off:], h.Version)
	off += 4
	binary.LittleEndian.PutUint32(b[off:], h.Bits)
	off += 4
	copy(b[off:off+32], h.Mask[:])
	return b
}

// subHeader returns the wire encoding of every field except Mask, in
// wire order. This is the input to the Blake2b half of the PoW hash.
func (h Header) subHeader() []byte {
	full := h.Encode()
	return full[:Size-32]
}

// Hash computes the chaining hash:
//
//	hash = SHA3-256( Blake2b-256(sub_header) XOR mask_hash )
//
// where mask_hash = Blake2b-256(mask). This must match the reference
// implementation byte-for-byte or the chain will not link (spec §3,
// DESIGN NOTES "Byte-for-byte hash fidelity").
func (h Header) Hash() Hash {
	subDigest := blake2b.Sum256(h.subHeader())
	maskDigest := blake2b.Sum256(h.Mask[:])

	var xored [32]byte
	for i := range xored {
		xored[i] = subDigest[i] ^ maskDigest[i]
	}

	return Hash(sha3.Sum256(xored[:]))
}

// CheckTarget reports whether h.Hash() satisfies the compact
// difficulty target encoded in bits. It is only consulted when
// enforcement is enabled (spec §9 Open Question — header difficulty
// enforcement).
func CheckTarget(h Header, bits uint32) bool {
	target := compactToTarget(bits)
	if target.Sign() <= 0 {
		return false
	}
	hash := h.Hash()
	hashInt := hashToBigEndianInt(hash)
	return hashInt.Cmp(target) <= 0
}
