package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/Acktarius/HNSGo-sub000/hnserrors"
)

// ProofPayload is the decoded body of a proof response: the resource
// records for the name plus the Merkle-style proof nodes (spec §3,
// §4.5). It is carried in either a length-prefixed binary envelope or
// a CBOR envelope; a decoder must accept either.
type ProofPayload struct {
	ResourceRecords [][]byte
	ProofNodes      [][32]byte
	NotFound        bool
}

// EncodeProofBinary writes p using this client's native length-
// prefixed binary envelope:
//
//	varint(notfound: 0 or 1)
//	varint(num_records) || per record: varint(len) || bytes
//	varint(num_proof_nodes) || per node: 32 bytes
func EncodeProofBinary(p ProofPayload) ([]byte, error) {
	var buf bytes.Buffer
	nf := uint64(0)
	if p.NotFound {
		nf = 1
	}
	if err := WriteVarInt(&buf, nf); err != nil {
		return nil, err
	}
	if err := WriteVarInt(&buf, uint64(len(p.ResourceRecords))); err != nil {
		return nil, err
	}
	for _, rec := range p.ResourceRecords {
		if err := WriteVarInt(&buf, uint64(len(rec))); err != nil {
			return nil, err
		}
		buf.Write(rec)
	}
	if err := WriteVarInt(&buf, uint64(len(p.ProofNodes))); err != nil {
		return nil, err
	}
	for _, n := range p.ProofNodes {
		buf.Write(n[:])
	}
	return buf.Bytes(), nil
}

// binaryEnvelopeMagic prefixes the binary form so DecodeProof can
// distinguish it from a CBOR envelope without guessing.
var binaryEnvelopeMagic = [4]byte{'H', 'N', 'S', 'B'}

// EncodeProof wraps EncodeProofBinary with the magic prefix used on
// the wire by this client.
func EncodeProof(p ProofPayload) ([]byte, error) {
	body, err := EncodeProofBinary(p)
	if err != nil {
		return nil, err
	}
	return append(binaryEnvelopeMagic[:], body...), nil
}

// DecodeProof accepts either envelope: the length-prefixed binary
// form (identified by its magic prefix) or a CBOR array envelope
// (identified by its leading major-type-4 byte), per spec §4.5.
func DecodeProof(payload []byte) (ProofPayload, error) {
	if len(payload) >= 4 && bytes.Equal(payload[:4], binaryEnvelopeMagic[:]) {
		return decodeProofBinary(payload[4:])
	}
	if len(payload) >= 1 && isCBORArrayMajorType(payload[0]) {
		return decodeProofCBOR(payload)
	}
	return ProofPayload{}, hnserrors.New(hnserrors.FormatError, "proof payload matches neither the binary nor the CBOR envelope")
}

func decodeProofBinary(payload []byte) (ProofPayload, error) {
	r := bytes.NewReader(payload)
	nf, err := ReadVarInt(r)
	if err != nil {
		return ProofPayload{}, err
	}
	numRecords, err := ReadVarInt(r)
	if err != nil {
		return ProofPayload{}, err
	}
	p := ProofPayload{NotFound: nf != 0, ResourceRecords: make([][]byte, numRecords)}
	for i := range p.ResourceRecords {
		n, err := ReadVarInt(r)
		if err != nil {
			return ProofPayload{}, err
		}
		rec := make([]byte, n)
		if _, err := io.ReadFull(r, rec); err != nil {
			return ProofPayload{}, hnserrors.New(hnserrors.FormatError, "truncated resource record", err)
		}
		p.ResourceRecords[i] = rec
	}
	numNodes, err := ReadVarInt(r)
	if err != nil {
		return ProofPayload{}, err
	}
	p.ProofNodes = make([][32]byte, numNodes)
	for i := range p.ProofNodes {
		if _, err := io.ReadFull(r, p.ProofNodes[i][:]); err != nil {
			return ProofPayload{}, hnserrors.New(hnserrors.FormatError, "truncated proof node", err)
		}
	}
	return p, nil
}

// --- minimal CBOR reader ---
//
// No CBOR library appears anywhere in the example pack (see
// DESIGN.md), and the schema this client must accept is narrow and
// fixed: a 2-element array of [records, proof_nodes], each an array
// of byte strings. Rather than adopt a general-purpose CBOR
// dependency for one envelope variant, this is a small reader for
// exactly that shape — major types 4 (array) and 2 (byte string)
// only; anything else is a FormatError.

func isCBORArrayMajorType(b byte) bool {
	return b>>5 == 4
}

func decodeProofCBOR(payload []byte) (ProofPayload, error) {
	r := &cborReader{buf: payload}

	n, err := r.readArrayHeader()
	if err != nil {
		return ProofPayload{}, err
	}
	if n != 2 {
		return ProofPayload{}, hnserrors.New(hnserrors.FormatError, "cbor proof envelope must be a 2-element array, got %d", n)
	}

	records, err := r.readByteStringArray()
	if err != nil {
		return ProofPayload{}, err
	}
	nodesRaw, err := r.readByteStringArray()
	if err != nil {
		return ProofPayload{}, err
	}

	nodes := make([][32]byte, len(nodesRaw))
	for i, raw := range nodesRaw {
		if len(raw) != 32 {
			return ProofPayload{}, hnserrors.New(hnserrors.FormatError, "cbor proof node %d is %d bytes, want 32", i, len(raw))
		}
		copy(nodes[i][:], raw)
	}

	return ProofPayload{ResourceRecords: records, ProofNodes: nodes}, nil
}

type cborReader struct {
	buf []byte
	off int
}

func (r *cborReader) readByte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, hnserrors.New(hnserrors.FormatError, "truncated cbor input")
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

// readHeader reads a CBOR major-type-prefixed argument and returns
// the argument value plus the major type observed.
func (r *cborReader) readHeader() (major byte, arg uint64, err error) {
	b, err := r.readByte()
	if err != nil {
		return 0, 0, err
	}
	major = b >> 5
	info := b & 0x1f
	switch {
	case info < 24:
		return major, uint64(info), nil
	case info == 24:
		v, err := r.readByte()
		return major, uint64(v), err
	case info == 25:
		if r.off+2 > len(r.buf) {
			return 0, 0, hnserrors.New(hnserrors.FormatError, "truncated cbor length")
		}
		v := binary.BigEndian.Uint16(r.buf[r.off:])
		r.off += 2
		return major, uint64(v), nil
	case info == 26:
		if r.off+4 > len(r.buf) {
			return 0, 0, hnserrors.New(hnserrors.FormatError, "truncated cbor length")
		}
		v := binary.BigEndian.Uint32(r.buf[r.off:])
		r.off += 4
		return major, uint64(v), nil
	case info == 27:
		if r.off+8 > len(r.buf) {
			return 0, 0, hnserrors.New(hnserrors.FormatError, "truncated cbor length")
		}
		v := binary.BigEndian.Uint64(r.buf[r.off:])
		r.off += 8
		return major, v, nil
	default:
		return 0, 0, hnserrors.New(hnserrors.FormatError, "unsupported cbor additional info %d", info)
	}
}

func (r *cborReader) readArrayHeader() (uint64, error) {
	major, n, err := r.readHeader()
	if err != nil {
		return 0, err
	}
	if major != 4 {
		return 0, hnserrors.New(hnserrors.FormatError, "expected cbor array, got major type %d", major)
	}
	return n, nil
}

func (r *cborReader) readByteString() ([]byte, error) {
	major, n, err := r.readHeader()
	if err != nil {
		return nil, err
	}
	if major != 2 {
		return nil, hnserrors.New(hnserrors.FormatError, "expected cbor byte string, got major type %d", major)
	}
	if uint64(r.off)+n > uint64(len(r.buf)) {
		return nil, hnserrors.New(hnserrors.FormatError, "truncated cbor byte string")
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *cborReader) readByteStringArray() ([][]byte, error) {
	n, err := r.readArrayHeader()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, n)
	for i := range out {
		b, err := r.readByteString()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// encodeCBORProof is provided for test fixtures that exercise the
// CBOR decode path without a real external peer.
func encodeCBORProof(p ProofPayload) []byte {
	var buf bytes.Buffer
	writeCBORArrayHeader(&buf, 2)
	writeCBORArrayHeader(&buf, uint64(len(p.ResourceRecords)))
	for _, rec := range p.ResourceRecords {
		writeCBORByteString(&buf, rec)
	}
	writeCBORArrayHeader(&buf, uint64(len(p.ProofNodes)))
	for _, n := range p.ProofNodes {
		writeCBORByteString(&buf, n[:])
	}
	return buf.Bytes()
}

func writeCBORHeader(buf *bytes.Buffer, major byte, n uint64) {
	switch {
	case n < 24:
		buf.WriteByte(major<<5 | byte(n))
	case n <= 0xff:
		buf.WriteByte(major<<5 | 24)
		buf.WriteByte(byte(n))
	case n <= 0xffff:
		buf.WriteByte(major<<5 | 25)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		buf.Write(b[:])
	default:
		buf.WriteByte(major<<5 | 26)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		buf.Write(b[:])
	}
}

func writeCBORArrayHeader(buf *bytes.Buffer, n uint64) { writeCBORHeader(buf, 4, n) }

func writeCBORByteString(buf *bytes.Buffer, data []byte) {
	writeCBORHeader(buf, 2, uint64(len(data)))
	buf.Write(data)
}
