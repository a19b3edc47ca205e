// Package checkpoint validates and ingests the embedded checkpoint
// blob this engine trusts as its bootstrap starting point (spec §3,
// §4.3).
package checkpoint

import (
	"encoding/binary"
	"math/big"

	"github.com/Acktarius/HNSGo-sub000/header"
	"github.com/Acktarius/HNSGo-sub000/hnserrors"
)

// HeaderCount is the fixed number of headers shipped in a checkpoint
// window.
const HeaderCount = 150

// BlobSize is the fixed byte size of a checkpoint blob:
// height(4) + chainwork(32) + 150*236.
const BlobSize = 4 + 32 + HeaderCount*header.Size

// sanity witnesses against loading a checkpoint for the wrong network
// or a corrupted blob. These are deliberately configurable rather
// than hard-wired, since an operator may ship an updated checkpoint
// on upgrade (spec §9 Open Question — checkpoint rotation, decided in
// SPEC_FULL.md §6.2: rotation is supported, long-range history is
// not).
type Witness struct {
	FirstHeaderNonce uint32
	LastHeaderNonce  uint32
}

// Result is the outcome of a successful Load.
type Result struct {
	Height    uint32
	Chainwork *big.Int
	Headers   []header.Header
}

// Load validates blob against the expected height and witness nonces
// and, if valid, decodes it into a Result. Per spec §4.3, any
// validation failure returns ok=false without an error — "not
// loaded" rather than a fatal condition — except for a structurally
// undecodable blob, which is reported as a FormatError since that
// indicates a build/packaging bug rather than a legitimate
// wrong-network blob.
func Load(blob []byte, expectedHeight uint32, witness Witness) (result Result, ok bool, err error) {
	if len(blob) != BlobSize {
		return Result{}, false, hnserrors.New(hnserrors.FormatError, "checkpoint blob must be %d bytes, got %d", BlobSize, len(blob))
	}

	height := binary.BigEndian.Uint32(blob[0:4])
	if height != expectedHeight {
		return Result{}, false, nil
	}

	chainwork := new(big.Int).SetBytes(blob[4:36])

	headers := make([]header.Header, HeaderCount)
	offset := 36
	for i := 0; i < HeaderCount; i++ {
		h, decErr := header.Decode(blob[offset : offset+header.Size])
		if decErr != nil {
			return Result{}, false, hnserrors.New(hnserrors.FormatError, "checkpoint header %d undecodable", i, decErr)
		}
		headers[i] = h
		offset += header.Size
	}

	// Internal prev_block linkage: every header after the first must
	// chain to the computed hash of its predecessor. The first
	// header's prev_block is the pre-checkpoint block's hash and is
	// not checked against anything in this blob.
	for i := 1; i < HeaderCount; i++ {
		if headers[i].PrevBlock != headers[i-1].Hash() {
			return Result{}, false, nil
		}
	}

	if headers[0].Nonce != witness.FirstHeaderNonce {
		return Result{}, false, nil
	}
	if headers[HeaderCount-1].Nonce != witness.LastHeaderNonce {
		return Result{}, false, nil
	}

	return Result{Height: height, Chainwork: chainwork, Headers: headers}, true, nil
}
