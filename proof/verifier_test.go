package proof

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func sha256Pair(a, b [32]byte) [32]byte {
	var buf bytes.Buffer
	if bytes.Compare(a[:], b[:]) <= 0 {
		buf.Write(a[:])
		buf.Write(b[:])
	} else {
		buf.Write(b[:])
		buf.Write(a[:])
	}
	first := sha256.Sum256(buf.Bytes())
	return sha256.Sum256(first[:])
}

// TestGoldenProofFixture independently reconstructs leaf/fold from the
// documented algorithm (name_hash || canonical records -> double-
// SHA256 leaf, ordered-pair double-SHA256 fold) rather than hardcoding
// an opaque hex root, guarding against silent drift in either
// serialization or fold ordering (DESIGN NOTES §9 "a golden proof
// fixture ... must be part of the test corpus; do not guess").
func TestGoldenProofFixture(t *testing.T) {
	var nameHash [32]byte
	copy(nameHash[:], []byte("welove-handshake-name-hash-here"))

	records := []Record{
		{Type: 1, Data: []byte{1, 2, 3, 4}}, // A 1.2.3.4
		{Type: 2, Data: []byte("ns1.welove.")},
	}

	serialized, err := serializeRecords(records)
	require.NoError(t, err)

	var leafInput bytes.Buffer
	leafInput.Write(nameHash[:])
	leafInput.Write(serialized)
	leafFirst := sha256.Sum256(leafInput.Bytes())
	wantLeaf := sha256.Sum256(leafFirst[:])

	node1 := [32]byte{9, 9, 9}
	node2 := [32]byte{1, 1, 1}

	wantAfterNode1 := sha256Pair(wantLeaf, node1)
	wantRoot := sha256Pair(wantAfterNode1, node2)

	ok, err := Verify(nameHash, records, [][32]byte{node1, node2}, wantRoot)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsTamperedRecord(t *testing.T) {
	var nameHash [32]byte
	records := []Record{{Type: 1, Data: []byte{1, 2, 3, 4}}}
	node := [32]byte{7, 7, 7}

	leafHash, err := leaf(nameHash, records)
	require.NoError(t, err)
	root := fold(leafHash, node)

	tampered := []Record{{Type: 1, Data: []byte{9, 9, 9, 9}}}
	ok, err := Verify(nameHash, tampered, [][32]byte{node}, root)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyAcceptsEmptyProofOnlyWhenLeafEqualsRoot(t *testing.T) {
	var nameHash [32]byte
	records := []Record{{Type: 1, Data: []byte{1, 2, 3, 4}}}

	leafHash, err := leaf(nameHash, records)
	require.NoError(t, err)

	ok, err := Verify(nameHash, records, nil, leafHash)
	require.NoError(t, err)
	require.True(t, ok)

	var wrongRoot [32]byte
	wrongRoot[0] = 0xff
	ok, err = Verify(nameHash, records, nil, wrongRoot)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFoldIsOrderIndependentOfOperandPosition(t *testing.T) {
	a := [32]byte{1, 2, 3}
	b := [32]byte{9, 8, 7}
	require.Equal(t, fold(a, b), fold(b, a), "ordered-pair fold must not depend on which operand is 'current'")
}

func TestSerializeRecordsIsCanonical(t *testing.T) {
	records := []Record{
		{Type: 1, Data: []byte("a")},
		{Type: 28, Data: []byte("bb")},
	}
	encoded, err := serializeRecords(records)
	require.NoError(t, err)

	// count=2, type=1,len=1,"a", type=28,len=2,"bb"
	require.Equal(t, []byte{2, 1, 1, 'a', 28, 2, 'b', 'b'}, encoded)
}
