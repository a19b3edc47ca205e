// Package proof implements the name-tree proof verifier: canonical
// record serialization, the double-SHA256 leaf, and the ordered-pair
// fold against the supplied proof nodes (spec §4.10).
package proof

import (
	"bytes"
	"crypto/sha256"

	"github.com/Acktarius/HNSGo-sub000/wire"
)

// Record is one resource record as carried in a proof response: a
// type tag plus its raw encoded bytes (spec §4.10 "each record as
// varint(type) || varint(len) || data").
type Record struct {
	Type uint64
	Data []byte
}

func doubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// serializeRecords canonically encodes records as
// varint(count) || for each: varint(type) || varint(len) || data.
func serializeRecords(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, uint64(len(records))); err != nil {
		return nil, err
	}
	for _, r := range records {
		if err := wire.WriteVarInt(&buf, r.Type); err != nil {
			return nil, err
		}
		if err := wire.WriteVarInt(&buf, uint64(len(r.Data))); err != nil {
			return nil, err
		}
		buf.Write(r.Data)
	}
	return buf.Bytes(), nil
}

// leaf computes leaf = double_SHA256(name_hash || serialized_records)
// (spec §4.10 step 2).
func leaf(nameHash [32]byte, records []Record) ([32]byte, error) {
	serialized, err := serializeRecords(records)
	if err != nil {
		return [32]byte{}, err
	}
	var buf bytes.Buffer
	buf.Write(nameHash[:])
	buf.Write(serialized)
	return doubleSHA256(buf.Bytes()), nil
}

// fold combines the current hash with the next proof node by
// comparing the two byte-lexicographically and hashing the smaller
// one first (spec §4.10 step 3 — "ordered concatenation removes the
// need for per-node left/right bits").
func fold(current [32]byte, node [32]byte) [32]byte {
	var buf bytes.Buffer
	if bytes.Compare(current[:], node[:]) <= 0 {
		buf.Write(current[:])
		buf.Write(node[:])
	} else {
		buf.Write(node[:])
		buf.Write(current[:])
	}
	return doubleSHA256(buf.Bytes())
}

// Verify reports whether records and proofNodes fold to expectedRoot
// for the given nameHash (spec §4.10). A proof with no nodes is only
// accepted when the leaf hash itself equals expectedRoot directly
// ("the verifier must never trust a proof whose node list is empty
// unless the leaf hash equals the root directly").
func Verify(nameHash [32]byte, records []Record, proofNodes [][32]byte, expectedRoot [32]byte) (bool, error) {
	leafHash, err := leaf(nameHash, records)
	if err != nil {
		return false, err
	}

	current := leafHash
	for _, node := range proofNodes {
		current = fold(current, node)
	}

	return current == expectedRoot, nil
}
