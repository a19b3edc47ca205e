package wire

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Acktarius/HNSGo-sub000/header"
	"github.com/Acktarius/HNSGo-sub000/hnserrors"
)

func sampleHeaderFor(t *testing.T, seed byte) header.Header {
	t.Helper()
	h := header.Header{Nonce: uint32(seed), Time: 1700000000, Bits: 0x1d00ffff}
	for i := range h.PrevBlock {
		h.PrevBlock[i] = seed
	}
	for i := range h.Mask {
		h.Mask[i] = seed
	}
	return h
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello")
	require.NoError(t, WriteFrame(&buf, MainnetMagic, CmdPing, payload))

	f, err := ReadFrame(&buf, MainnetMagic, MaxMessageSize)
	require.NoError(t, err)
	require.Equal(t, CmdPing, f.Cmd)
	require.Equal(t, payload, f.Payload)
}

func TestReadFrameRejectsMagicMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, 0xdeadbeef, CmdPing, nil))

	_, err := ReadFrame(&buf, MainnetMagic, MaxMessageSize)
	require.Error(t, err)
	require.True(t, hnserrors.Is(err, hnserrors.ProtocolError))
}

func TestReadFrameRejectsOversizedDeclaredPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, MainnetMagic, CmdHeaders, make([]byte, 10)))
	// Inflate the declared size in the frame header in place rather
	// than writing 8MiB+1 of payload bytes.
	raw := buf.Bytes()
	raw[5] = 0xff
	raw[6] = 0xff
	raw[7] = 0xff
	raw[8] = 0xff

	_, err := ReadFrame(bytes.NewReader(raw), MainnetMagic, MaxMessageSize)
	require.Error(t, err)
	require.True(t, hnserrors.Is(err, hnserrors.FormatError))
}

func TestUnknownCmdNameIsTolerated(t *testing.T) {
	require.Equal(t, "unknown", Cmd(200).Name())
	require.Equal(t, "ping", CmdPing.Name())
}

func TestVarIntRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 252, 253, 0xffff, 0x10000, 0xffffffff, 0x100000000, 0xffffffffffffffff} {
		var buf bytes.Buffer
		require.NoError(t, WriteVarInt(&buf, v))
		got, err := ReadVarInt(&buf)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestNetAddressRoundTrip(t *testing.T) {
	na := NewNetAddress(net.ParseIP("203.0.113.7"), 13038, SFNodeNetwork)
	na.Time = 1700000000

	var buf bytes.Buffer
	require.NoError(t, na.encode(&buf))
	require.Len(t, buf.Bytes(), NetAddressSize)

	decoded, err := decodeNetAddress(&buf)
	require.NoError(t, err)
	require.Equal(t, na, decoded)
	require.Equal(t, "203.0.113.7", decoded.IPAddr().String())
}

func TestVersionRoundTrip(t *testing.T) {
	v := Version{
		Version:  1,
		Services: SFNodeNetwork,
		Time:     1700000001,
		Addr:     NewNetAddress(net.ParseIP("198.51.100.1"), 13038, SFNodeNetwork),
		Nonce:    0x1122334455667788,
		Agent:    "/hnsgo-sub000:0.1.0/",
		Height:   123456,
		NoRelay:  true,
	}
	encoded, err := v.Encode()
	require.NoError(t, err)

	decoded, err := DecodeVersion(encoded)
	require.NoError(t, err)
	require.Equal(t, v, decoded)
}

func TestGetHeadersRoundTripAndEmptyLocator(t *testing.T) {
	m := GetHeaders{Locator: []header.Hash{{1}, {2}, {3}}, StopHash: header.Hash{9}}
	encoded, err := m.Encode()
	require.NoError(t, err)
	decoded, err := DecodeGetHeaders(encoded)
	require.NoError(t, err)
	require.Equal(t, m, decoded)

	// Empty locator means "from genesis" and must round-trip cleanly
	// rather than erroring, per spec §8.
	empty := GetHeaders{}
	encodedEmpty, err := empty.Encode()
	require.NoError(t, err)
	decodedEmpty, err := DecodeGetHeaders(encodedEmpty)
	require.NoError(t, err)
	require.Empty(t, decodedEmpty.Locator)
}

func TestHeadersRoundTrip(t *testing.T) {
	hs := make([]header.Header, 3)
	for i := range hs {
		hs[i] = sampleHeaderFor(t, byte(i+1))
	}
	m := Headers{Headers: hs}
	encoded, err := m.Encode()
	require.NoError(t, err)

	decoded, err := DecodeHeaders(encoded)
	require.NoError(t, err)
	require.Equal(t, m, decoded)
}

func TestHeadersAcceptsExactlyMaxAndRejectsOneMore(t *testing.T) {
	hs := make([]header.Header, MaxHeadersPerMsg)
	for i := range hs {
		hs[i] = sampleHeaderFor(t, byte(i%256))
	}
	m := Headers{Headers: hs}
	encoded, err := m.Encode()
	require.NoError(t, err)
	_, err = DecodeHeaders(encoded)
	require.NoError(t, err)

	tooMany := Headers{Headers: append(hs, sampleHeaderFor(t, 0))}
	_, err = tooMany.Encode()
	require.Error(t, err)
	require.True(t, hnserrors.Is(err, hnserrors.FormatError))

	// Craft a decode-side payload declaring 2001 entries directly, since
	// Encode already refuses to produce one.
	var buf bytes.Buffer
	require.NoError(t, WriteVarInt(&buf, MaxHeadersPerMsg+1))
	_, err = DecodeHeaders(buf.Bytes())
	require.Error(t, err)
	require.True(t, hnserrors.Is(err, hnserrors.FormatError))
}

func TestGetProofRoundTripAndWrongSize(t *testing.T) {
	m := GetProof{NameHash: [32]byte{1, 2, 3}, Root: [32]byte{4, 5, 6}}
	encoded, err := m.Encode()
	require.NoError(t, err)

	decoded, err := DecodeGetProof(encoded)
	require.NoError(t, err)
	require.Equal(t, m, decoded)

	_, err = DecodeGetProof(encoded[:63])
	require.Error(t, err)
	require.True(t, hnserrors.Is(err, hnserrors.FormatError))
}

func TestAddrRoundTrip(t *testing.T) {
	m := Addr{Addrs: []NetAddress{
		NewNetAddress(net.ParseIP("203.0.113.1"), 13038, SFNodeNetwork),
		NewNetAddress(net.ParseIP("2001:db8::1"), 13038, SFNodeNetwork),
	}}
	encoded, err := m.Encode()
	require.NoError(t, err)

	decoded, err := DecodeAddr(encoded)
	require.NoError(t, err)
	require.Equal(t, m, decoded)
}

func TestPingPongRoundTrip(t *testing.T) {
	p, err := Ping{Nonce: 42}.Encode()
	require.NoError(t, err)
	decodedPing, err := DecodePing(p)
	require.NoError(t, err)
	require.Equal(t, uint64(42), decodedPing.Nonce)

	g, err := Pong{Nonce: 43}.Encode()
	require.NoError(t, err)
	decodedPong, err := DecodePong(g)
	require.NoError(t, err)
	require.Equal(t, uint64(43), decodedPong.Nonce)

	_, err = DecodePing([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestEmptyMessagesRejectNonEmptyPayload(t *testing.T) {
	require.NoError(t, DecodeEmpty(EncodeEmpty()))
	require.Error(t, DecodeEmpty([]byte{0}))
}

func TestProofBinaryEnvelopeRoundTrip(t *testing.T) {
	p := ProofPayload{
		ResourceRecords: [][]byte{[]byte("record-a"), []byte("record-b")},
		ProofNodes:      [][32]byte{{1}, {2}, {3}},
	}
	encoded, err := EncodeProof(p)
	require.NoError(t, err)

	decoded, err := DecodeProof(encoded)
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}

func TestProofBinaryEnvelopeNotFound(t *testing.T) {
	p := ProofPayload{NotFound: true}
	encoded, err := EncodeProof(p)
	require.NoError(t, err)

	decoded, err := DecodeProof(encoded)
	require.NoError(t, err)
	require.True(t, decoded.NotFound)
	require.Empty(t, decoded.ResourceRecords)
}

func TestProofCBOREnvelopeRoundTrip(t *testing.T) {
	p := ProofPayload{
		ResourceRecords: [][]byte{[]byte("record-a"), {}},
		ProofNodes:      [][32]byte{{9, 9, 9}},
	}
	encoded := encodeCBORProof(p)

	decoded, err := DecodeProof(encoded)
	require.NoError(t, err)
	require.Equal(t, p.ResourceRecords, decoded.ResourceRecords)
	require.Equal(t, p.ProofNodes, decoded.ProofNodes)
	require.False(t, decoded.NotFound)
}

func TestProofCBOREnvelopeRejectsWrongNodeSize(t *testing.T) {
	var buf bytes.Buffer
	writeCBORArrayHeader(&buf, 2)
	writeCBORArrayHeader(&buf, 0)
	writeCBORArrayHeader(&buf, 1)
	writeCBORByteString(&buf, []byte{1, 2, 3}) // not 32 bytes

	_, err := DecodeProof(buf.Bytes())
	require.Error(t, err)
	require.True(t, hnserrors.Is(err, hnserrors.FormatError))
}

func TestProofRejectsUnrecognizedEnvelope(t *testing.T) {
	_, err := DecodeProof([]byte{0x00, 0x01, 0x02})
	require.Error(t, err)
	require.True(t, hnserrors.Is(err, hnserrors.FormatError))
}
