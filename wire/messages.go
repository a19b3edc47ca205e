package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/Acktarius/HNSGo-sub000/header"
	"github.com/Acktarius/HNSGo-sub000/hnserrors"
)

// MaxHeadersPerMsg caps a single headers message, per spec §4.5 and
// the boundary behavior in §8 ("2,001 entries must be rejected").
const MaxHeadersPerMsg = 2000

// Version is the version handshake payload (spec §4.5).
type Version struct {
	Version  uint32
	Services ServiceFlag
	Time     uint64
	Addr     NetAddress
	Nonce    uint64
	Agent    string
	Height   uint32
	NoRelay  bool
}

// Encode writes the fixed-plus-agent version payload.
func (v Version) Encode() ([]byte, error) {
	if len(v.Agent) > 255 {
		return nil, hnserrors.New(hnserrors.FormatError, "agent string too long: %d", len(v.Agent))
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v.Version); err != nil {
		return nil, hnserrors.New(hnserrors.IOError, "encode version", err)
	}
	binary.Write(&buf, binary.LittleEndian, uint64(v.Services))
	binary.Write(&buf, binary.LittleEndian, v.Time)
	if err := v.Addr.encode(&buf); err != nil {
		return nil, err
	}
	binary.Write(&buf, binary.LittleEndian, v.Nonce)
	buf.WriteByte(byte(len(v.Agent)))
	buf.WriteString(v.Agent)
	binary.Write(&buf, binary.LittleEndian, v.Height)
	if v.NoRelay {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

// DecodeVersion parses a version payload.
func DecodeVersion(payload []byte) (Version, error) {
	r := bytes.NewReader(payload)
	var v Version

	if err := binary.Read(r, binary.LittleEndian, &v.Version); err != nil {
		return v, hnserrors.New(hnserrors.FormatError, "truncated version", err)
	}
	var services uint64
	if err := binary.Read(r, binary.LittleEndian, &services); err != nil {
		return v, hnserrors.New(hnserrors.FormatError, "truncated version", err)
	}
	v.Services = ServiceFlag(services)
	if err := binary.Read(r, binary.LittleEndian, &v.Time); err != nil {
		return v, hnserrors.New(hnserrors.FormatError, "truncated version", err)
	}
	addr, err := decodeNetAddress(r)
	if err != nil {
		return v, err
	}
	v.Addr = addr
	if err := binary.Read(r, binary.LittleEndian, &v.Nonce); err != nil {
		return v, hnserrors.New(hnserrors.FormatError, "truncated version", err)
	}
	agentLen := make([]byte, 1)
	if _, err := io.ReadFull(r, agentLen); err != nil {
		return v, hnserrors.New(hnserrors.FormatError, "truncated version agent length", err)
	}
	agent := make([]byte, agentLen[0])
	if _, err := io.ReadFull(r, agent); err != nil {
		return v, hnserrors.New(hnserrors.FormatError, "truncated version agent", err)
	}
	v.Agent = string(agent)
	if err := binary.Read(r, binary.LittleEndian, &v.Height); err != nil {
		return v, hnserrors.New(hnserrors.FormatError, "truncated version height", err)
	}
	noRelay := make([]byte, 1)
	if _, err := io.ReadFull(r, noRelay); err != nil {
		return v, hnserrors.New(hnserrors.FormatError, "truncated version no_relay", err)
	}
	v.NoRelay = noRelay[0] != 0
	return v, nil
}

// GetHeaders is the getheaders request payload (spec §4.5). An empty
// Locator encodes as a zero count and decodes back to an empty list;
// chain.Locator returns one only while the chain holds no headers.
type GetHeaders struct {
	Locator  []header.Hash
	StopHash header.Hash // zero means "until tip"
}

func (m GetHeaders) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteVarInt(&buf, uint64(len(m.Locator))); err != nil {
		return nil, err
	}
	for _, h := range m.Locator {
		buf.Write(h[:])
	}
	buf.Write(m.StopHash[:])
	return buf.Bytes(), nil
}

func DecodeGetHeaders(payload []byte) (GetHeaders, error) {
	r := bytes.NewReader(payload)
	n, err := ReadVarInt(r)
	if err != nil {
		return GetHeaders{}, err
	}
	m := GetHeaders{Locator: make([]header.Hash, n)}
	for i := range m.Locator {
		if _, err := io.ReadFull(r, m.Locator[i][:]); err != nil {
			return GetHeaders{}, hnserrors.New(hnserrors.FormatError, "truncated locator hash", err)
		}
	}
	if _, err := io.ReadFull(r, m.StopHash[:]); err != nil {
		return GetHeaders{}, hnserrors.New(hnserrors.FormatError, "truncated stop_hash", err)
	}
	return m, nil
}

// Headers is the headers response payload: up to MaxHeadersPerMsg
// full headers.
type Headers struct {
	Headers []header.Header
}

func (m Headers) Encode() ([]byte, error) {
	if len(m.Headers) > MaxHeadersPerMsg {
		return nil, hnserrors.New(hnserrors.FormatError, "headers message carries %d entries, max %d", len(m.Headers), MaxHeadersPerMsg)
	}
	var buf bytes.Buffer
	if err := WriteVarInt(&buf, uint64(len(m.Headers))); err != nil {
		return nil, err
	}
	for _, h := range m.Headers {
		buf.Write(h.Encode())
	}
	return buf.Bytes(), nil
}

func DecodeHeaders(payload []byte) (Headers, error) {
	r := bytes.NewReader(payload)
	n, err := ReadVarInt(r)
	if err != nil {
		return Headers{}, err
	}
	if n > MaxHeadersPerMsg {
		return Headers{}, hnserrors.New(hnserrors.FormatError, "headers message declares %d entries, max %d", n, MaxHeadersPerMsg)
	}
	m := Headers{Headers: make([]header.Header, n)}
	raw := make([]byte, header.Size)
	for i := range m.Headers {
		if _, err := io.ReadFull(r, raw); err != nil {
			return Headers{}, hnserrors.New(hnserrors.FormatError, "truncated header entry", err)
		}
		h, err := header.Decode(raw)
		if err != nil {
			return Headers{}, err
		}
		m.Headers[i] = h
	}
	return m, nil
}

// GetProof is the getproof request payload (spec §4.5): the name
// hash, plus the root the requester is verifying against.
type GetProof struct {
	NameHash [32]byte
	Root     [32]byte
}

func (m GetProof) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(m.NameHash[:])
	buf.Write(m.Root[:])
	return buf.Bytes(), nil
}

func DecodeGetProof(payload []byte) (GetProof, error) {
	if len(payload) != 64 {
		return GetProof{}, hnserrors.New(hnserrors.FormatError, "getproof payload must be 64 bytes, got %d", len(payload))
	}
	var m GetProof
	copy(m.NameHash[:], payload[0:32])
	copy(m.Root[:], payload[32:64])
	return m, nil
}

// Addr carries a list of peer addresses, e.g. in response to
// getaddr.
type Addr struct {
	Addrs []NetAddress
}

func (m Addr) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteVarInt(&buf, uint64(len(m.Addrs))); err != nil {
		return nil, err
	}
	for _, a := range m.Addrs {
		if err := a.encode(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func DecodeAddr(payload []byte) (Addr, error) {
	r := bytes.NewReader(payload)
	n, err := ReadVarInt(r)
	if err != nil {
		return Addr{}, err
	}
	m := Addr{Addrs: make([]NetAddress, n)}
	for i := range m.Addrs {
		a, err := decodeNetAddress(r)
		if err != nil {
			return Addr{}, err
		}
		m.Addrs[i] = a
	}
	return m, nil
}
