package namequery

import (
	"bytes"
	"context"
	"crypto/sha256"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Acktarius/HNSGo-sub000/peer"
	"github.com/Acktarius/HNSGo-sub000/peerdir"
	"github.com/Acktarius/HNSGo-sub000/rr"
	"github.com/Acktarius/HNSGo-sub000/wire"
)

// computeLeaf independently reconstructs proof.leaf's canonical
// encoding so the test can hand a server a root that will actually
// verify, without reaching into the proof package's unexported API.
func computeLeaf(t *testing.T, nameHash [32]byte, records []rr.Record) [32]byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, wire.WriteVarInt(&buf, uint64(len(records))))
	for _, r := range records {
		require.NoError(t, wire.WriteVarInt(&buf, uint64(r.Type)))
		require.NoError(t, wire.WriteVarInt(&buf, uint64(len(r.Data))))
		buf.Write(r.Data)
	}
	var leafInput bytes.Buffer
	leafInput.Write(nameHash[:])
	leafInput.Write(buf.Bytes())
	first := sha256.Sum256(leafInput.Bytes())
	return sha256.Sum256(first[:])
}

// fakeProofPeer completes the handshake then answers exactly one
// getproof with the given payload.
func fakeProofPeer(t *testing.T, ln net.Listener, respond wire.ProofPayload) {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	f, err := wire.ReadFrame(conn, wire.MainnetMagic, wire.MaxMessageSize)
	require.NoError(t, err)
	require.Equal(t, wire.CmdVersion, f.Cmd)

	v := wire.Version{Version: 1, Services: wire.SFNodeNetwork}
	payload, err := v.Encode()
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, wire.MainnetMagic, wire.CmdVersion, payload))
	require.NoError(t, wire.WriteFrame(conn, wire.MainnetMagic, wire.CmdVerAck, wire.EncodeEmpty()))

	f, err = wire.ReadFrame(conn, wire.MainnetMagic, wire.MaxMessageSize)
	require.NoError(t, err)
	require.Equal(t, wire.CmdVerAck, f.Cmd)
	f, err = wire.ReadFrame(conn, wire.MainnetMagic, wire.MaxMessageSize)
	require.NoError(t, err)
	require.Equal(t, wire.CmdSendHeaders, f.Cmd)
	f, err = wire.ReadFrame(conn, wire.MainnetMagic, wire.MaxMessageSize)
	require.NoError(t, err)
	require.Equal(t, wire.CmdGetAddr, f.Cmd)

	f, err = wire.ReadFrame(conn, wire.MainnetMagic, wire.MaxMessageSize)
	require.NoError(t, err)
	require.Equal(t, wire.CmdGetProof, f.Cmd)

	respPayload, err := wire.EncodeProof(respond)
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, wire.MainnetMagic, wire.CmdProof, respPayload))
}

// newReadySession connects a peer.Session to addr and waits for it to
// reach Ready.
func newReadySession(t *testing.T, addr string) *peer.Session {
	t.Helper()
	s := peer.New(peer.Config{Addr: addr, LocalNonce: 1, LocalAgent: "/test:0.1/"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	go s.Run(ctx)
	require.Eventually(t, func() bool { return s.State() == peer.Ready }, time.Second, 5*time.Millisecond)
	return s
}

func encodeRecord(t *testing.T, rec rr.Record) []byte {
	t.Helper()
	raw, err := rr.Encode(rec)
	require.NoError(t, err)
	return raw
}

func TestRunFirstVerifyingProofWinsOverGarbagePeer(t *testing.T) {
	var nameHash [32]byte
	copy(nameHash[:], []byte("name-hash-for-welove-1234567890"))

	goodRecords := []rr.Record{{Type: rr.TypeA, Data: []byte{1, 2, 3, 4}}}
	root := computeLeaf(t, nameHash, goodRecords)

	goodPayload := wire.ProofPayload{ResourceRecords: [][]byte{encodeRecord(t, goodRecords[0])}}
	garbagePayload := wire.ProofPayload{ResourceRecords: [][]byte{encodeRecord(t, rr.Record{Type: rr.TypeA, Data: []byte{9, 9, 9, 9}})}}

	var listeners []net.Listener
	var addrs []string
	payloads := []wire.ProofPayload{goodPayload, goodPayload, goodPayload, garbagePayload}
	for _, p := range payloads {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners = append(listeners, ln)
		addrs = append(addrs, ln.Addr().String())
		go fakeProofPeer(t, ln, p)
	}
	defer func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}()

	dir := peerdir.New(peerdir.Config{Bootstrap: addrs}, nil)
	sessions := make(map[string]*peer.Session)
	for _, addr := range addrs {
		sessions[addr] = newReadySession(t, addr)
		dir.MarkHandshaken(addr)
	}
	lookup := func(addr string) (*peer.Session, bool) {
		s, ok := sessions[addr]
		return s, ok
	}

	q := New(dir, lookup, Config{Threads: 4}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	outcome, result, err := q.Run(ctx, nameHash, root)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)
	require.Len(t, result.Records, 1)
	require.Equal(t, rr.TypeA, result.Records[0].Type)
}

func TestRunAllNotFoundReturnsNotFound(t *testing.T) {
	var nameHash [32]byte
	copy(nameHash[:], []byte("another-name-hash-0987654321abc"))
	var root [32]byte

	var listeners []net.Listener
	var addrs []string
	for i := 0; i < 3; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners = append(listeners, ln)
		addrs = append(addrs, ln.Addr().String())
		go fakeProofPeer(t, ln, wire.ProofPayload{NotFound: true})
	}
	defer func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}()

	dir := peerdir.New(peerdir.Config{Bootstrap: addrs}, nil)
	sessions := make(map[string]*peer.Session)
	for _, addr := range addrs {
		sessions[addr] = newReadySession(t, addr)
		dir.MarkHandshaken(addr)
	}
	lookup := func(addr string) (*peer.Session, bool) {
		s, ok := sessions[addr]
		return s, ok
	}

	q := New(dir, lookup, Config{Threads: 4}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	outcome, _, err := q.Run(ctx, nameHash, root)
	require.NoError(t, err)
	require.Equal(t, OutcomeNotFound, outcome)

	for _, addr := range addrs {
		rec, ok := dir.Record(addr)
		require.True(t, ok)
		require.Equal(t, 1, rec.Errors)
	}
}

func TestRunReturnsErrorWhenNoCandidates(t *testing.T) {
	dir := peerdir.New(peerdir.Config{}, nil)
	q := New(dir, func(string) (*peer.Session, bool) { return nil, false }, Config{}, nil, nil)

	var nameHash, root [32]byte
	outcome, _, err := q.Run(context.Background(), nameHash, root)
	require.Error(t, err)
	require.Equal(t, OutcomeError, outcome)
}

func TestRunSkipsUnhandshakenPeers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	dir := peerdir.New(peerdir.Config{Bootstrap: []string{ln.Addr().String()}}, nil)
	// deliberately never MarkHandshaken

	q := New(dir, func(string) (*peer.Session, bool) { return nil, false }, Config{}, nil, nil)
	var nameHash, root [32]byte
	outcome, _, err := q.Run(context.Background(), nameHash, root)
	require.Error(t, err)
	require.Equal(t, OutcomeError, outcome)
}
