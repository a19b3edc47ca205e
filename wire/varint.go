package wire

import (
	"encoding/binary"
	"io"

	"github.com/Acktarius/HNSGo-sub000/hnserrors"
)

// WriteVarInt writes x using the classic compact-int encoding: a
// single byte for values below 0xfd, otherwise a marker byte
// (0xfd/0xfe/0xff) followed by a fixed-width little-endian value.
func WriteVarInt(w io.Writer, x uint64) error {
	var buf []byte
	switch {
	case x < 0xfd:
		buf = []byte{byte(x)}
	case x <= 0xffff:
		buf = make([]byte, 3)
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:], uint16(x))
	case x <= 0xffffffff:
		buf = make([]byte, 5)
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:], uint32(x))
	default:
		buf = make([]byte, 9)
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:], x)
	}
	if _, err := w.Write(buf); err != nil {
		return hnserrors.New(hnserrors.IOError, "write varint", err)
	}
	return nil
}

// ReadVarInt reads a value written by WriteVarInt.
func ReadVarInt(r io.Reader) (uint64, error) {
	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return 0, hnserrors.New(hnserrors.IOError, "read varint marker", err)
	}
	switch marker[0] {
	case 0xfd:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, hnserrors.New(hnserrors.FormatError, "truncated varint", err)
		}
		return uint64(binary.LittleEndian.Uint16(b[:])), nil
	case 0xfe:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, hnserrors.New(hnserrors.FormatError, "truncated varint", err)
		}
		return uint64(binary.LittleEndian.Uint32(b[:])), nil
	case 0xff:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, hnserrors.New(hnserrors.FormatError, "truncated varint", err)
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	default:
		return uint64(marker[0]), nil
	}
}
