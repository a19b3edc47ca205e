// Package headerstore persists the header chain to disk with an
// integrity checksum and atomic replacement (spec §4.2).
package headerstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/Acktarius/HNSGo-sub000/header"
	"github.com/Acktarius/HNSGo-sub000/hnserrors"
	"github.com/Acktarius/HNSGo-sub000/logging"
)

// envelope is the self-describing on-disk structure. gob is chosen
// because it is the standard library's native self-describing codec
// and no shared serialization library spans the pack's various
// persistence layers (sql, blob, aerospike) in a way that fits a
// flat single-file store — see DESIGN.md.
type envelope struct {
	Headers             [][header.Size]byte
	Height              uint32
	FirstInMemoryHeight uint32
	TimestampMS         int64
}

// Store persists and loads the header chain envelope plus its
// checksum sidecar.
type Store struct {
	path         string
	checksumPath string
	log          logging.Logger
	lastSaved    uint32
	lastSavedSet bool
}

// New returns a Store rooted at path; the checksum sidecar lives at
// path+".sha256".
func New(path string, log logging.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{
		path:         path,
		checksumPath: path + ".sha256",
		log:          log.New("headerstore"),
	}
}

// LastSavedHeight returns the height as of the last successful save,
// and whether any save has happened yet.
func (s *Store) LastSavedHeight() (uint32, bool) {
	return s.lastSaved, s.lastSavedSet
}

// Save writes headers/height/firstInMemoryHeight atomically: the
// envelope and its checksum sidecar are both replaced via a
// write-to-temp-then-rename, so a reader never observes a torn write
// (spec §4.2 "Guarantees").
func (s *Store) Save(headers []header.Header, tipHeight, firstInMemoryHeight uint32) error {
	env := envelope{
		Headers:             make([][header.Size]byte, len(headers)),
		Height:              tipHeight,
		FirstInMemoryHeight: firstInMemoryHeight,
		TimestampMS:         time.Now().UnixMilli(),
	}
	for i, h := range headers {
		copy(env.Headers[i][:], h.Encode())
	}

	data, err := encodeEnvelope(env)
	if err != nil {
		return hnserrors.New(hnserrors.IOError, "encode header envelope", err)
	}
	sum := sha256.Sum256(data)
	checksum := []byte(hex.EncodeToString(sum[:]))

	if err := atomicWrite(s.path, data); err != nil {
		return err
	}
	// The checksum sidecar is committed under the same "commit" in the
	// sense that it is written and renamed right after the data file;
	// a reader that sees a fresh data file but a stale checksum will
	// simply reject the load and force re-bootstrap (never accept a
	// torn pair).
	if err := atomicWrite(s.checksumPath, checksum); err != nil {
		return err
	}

	s.lastSaved = tipHeight
	s.lastSavedSet = true
	s.log.Debugf("saved %d headers, tip=%d, first_in_memory=%d", len(headers), tipHeight, firstInMemoryHeight)
	return nil
}

// Load reads the envelope and verifies its checksum. A missing file
// or checksum mismatch returns (nil, 0, 0, false, nil) rather than an
// error, since the caller's correct response is to force
// re-bootstrap from the embedded checkpoint, not to fail startup.
func (s *Store) Load() (headers []header.Header, tipHeight, firstInMemoryHeight uint32, ok bool, err error) {
	data, readErr := os.ReadFile(s.path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, 0, 0, false, nil
		}
		return nil, 0, 0, false, hnserrors.New(hnserrors.IOError, "read header store", readErr)
	}

	wantHex, readErr := os.ReadFile(s.checksumPath)
	if readErr != nil {
		s.log.Warnf("header store checksum missing, rejecting load: %v", readErr)
		return nil, 0, 0, false, nil
	}

	sum := sha256.Sum256(data)
	gotHex := hex.EncodeToString(sum[:])
	if string(wantHex) != gotHex {
		s.log.Warnf("header store checksum mismatch, rejecting load (forces re-bootstrap)")
		return nil, 0, 0, false, nil
	}

	var env envelope
	if decodeErr := decodeEnvelope(data, &env); decodeErr != nil {
		s.log.Warnf("header store envelope corrupt, rejecting load: %v", decodeErr)
		return nil, 0, 0, false, nil
	}

	headers = make([]header.Header, len(env.Headers))
	for i, raw := range env.Headers {
		h, decErr := header.Decode(raw[:])
		if decErr != nil {
			s.log.Warnf("header store contains undecodable header at index %d, rejecting load", i)
			return nil, 0, 0, false, nil
		}
		headers[i] = h
	}

	s.lastSaved = env.Height
	s.lastSavedSet = true
	return headers, env.Height, env.FirstInMemoryHeight, true, nil
}

func encodeEnvelope(env envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEnvelope(data []byte, env *envelope) error {
	buf := bytes.NewBuffer(data)
	return gob.NewDecoder(buf).Decode(env)
}

// atomicWrite writes data to a sibling temp file and renames it over
// path, so a crash never leaves a half-written file in its place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return hnserrors.New(hnserrors.IOError, "create temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return hnserrors.New(hnserrors.IOError, "write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return hnserrors.New(hnserrors.IOError, "sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return hnserrors.New(hnserrors.IOError, "close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return hnserrors.New(hnserrors.IOError, "atomic rename", err)
	}
	return nil
}
