package wire

import (
	"encoding/binary"

	"github.com/Acktarius/HNSGo-sub000/hnserrors"
)

// Ping/Pong carry a single nonce used to correlate the round trip;
// VerAck, GetAddr and SendHeaders carry no payload at all (spec
// §4.5).

type Ping struct {
	Nonce uint64
}

func (m Ping) Encode() ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, m.Nonce)
	return buf, nil
}

func DecodePing(payload []byte) (Ping, error) {
	if len(payload) != 8 {
		return Ping{}, hnserrors.New(hnserrors.FormatError, "ping payload must be 8 bytes, got %d", len(payload))
	}
	return Ping{Nonce: binary.LittleEndian.Uint64(payload)}, nil
}

type Pong struct {
	Nonce uint64
}

func (m Pong) Encode() ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, m.Nonce)
	return buf, nil
}

func DecodePong(payload []byte) (Pong, error) {
	if len(payload) != 8 {
		return Pong{}, hnserrors.New(hnserrors.FormatError, "pong payload must be 8 bytes, got %d", len(payload))
	}
	return Pong{Nonce: binary.LittleEndian.Uint64(payload)}, nil
}

// EncodeEmpty is shared by verack, getaddr and sendheaders: all three
// are announcements with no body.
func EncodeEmpty() []byte { return nil }

// DecodeEmpty validates that a supposedly empty message really is.
func DecodeEmpty(payload []byte) error {
	if len(payload) != 0 {
		return hnserrors.New(hnserrors.FormatError, "expected empty payload, got %d bytes", len(payload))
	}
	return nil
}
