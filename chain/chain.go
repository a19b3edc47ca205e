// Package chain maintains the in-memory header sequence: link
// validation, the known-network-height cap, and the tip view that
// every other component reads (spec §3, §4.4).
package chain

import (
	"errors"
	"sync"

	"github.com/Acktarius/HNSGo-sub000/header"
	"github.com/Acktarius/HNSGo-sub000/hnserrors"
	"github.com/Acktarius/HNSGo-sub000/logging"
)

// ErrOvershoot is wrapped into the ChainError Append returns when a
// header would push tip_height above known_network_height. HeaderSync
// checks for it with errors.Is to distinguish this "wait for a higher
// announcement" case from a genuine link/PoW rejection (spec §4.8).
var ErrOvershoot = errors.New("header would overshoot known network height")

// locatorOffsets are the heights, relative to the tip, used to build a sparse
// getheaders locator (spec §4.4).
var locatorOffsets = []uint64{0, 10, 100, 1000}

// Snapshot is an immutable, copy-safe view of the chain's tip state,
// captured once and handed to callers that must not observe
// concurrent mutation mid-query (spec §5 "snapshot-consistent per
// query").
type Snapshot struct {
	TipHeight          uint32
	TipHash            header.Hash
	NameRootAtTip      header.Hash
	KnownNetworkHeight uint32
	HaveNetworkHeight  bool
}

// Chain is the single-writer, multi-reader in-memory header sequence.
// Only HeaderSync calls Append; everyone else only reads Tip().
type Chain struct {
	mu sync.RWMutex

	headers             []header.Header // window [firstInMemoryHeight, tipHeight]
	firstInMemoryHeight uint32
	tipHeight           uint32
	haveHeaders         bool
	knownNetworkHeight  uint32
	haveNetworkHeight   bool

	maxInMemory       uint32
	enforceDifficulty bool

	log logging.Logger
}

// Config configures chain construction knobs drawn from spec §6.
type Config struct {
	MaxInMemoryHeaders uint32
	EnforceDifficulty  bool
}

// New returns an empty Chain. Bootstrap it via Reset before use.
func New(cfg Config, log logging.Logger) *Chain {
	if log == nil {
		log = logging.Nop()
	}
	if cfg.MaxInMemoryHeaders == 0 {
		cfg.MaxInMemoryHeaders = 5000
	}
	return &Chain{
		maxInMemory:       cfg.MaxInMemoryHeaders,
		enforceDifficulty: cfg.EnforceDifficulty,
		log:               log.New("chain"),
	}
}

// Reset installs an initial header window, e.g. from a checkpoint or
// a reload from HeaderStore. firstHeight is the height of headers[0].
func (c *Chain) Reset(headers []header.Header, firstHeight uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 1; i < len(headers); i++ {
		if headers[i].PrevBlock != headers[i-1].Hash() {
			return hnserrors.New(hnserrors.ChainError, "reset: header %d does not link to header %d", firstHeight+uint32(i), firstHeight+uint32(i)-1)
		}
	}

	c.headers = append([]header.Header(nil), headers...)
	c.firstInMemoryHeight = firstHeight
	if len(headers) > 0 {
		c.tipHeight = firstHeight + uint32(len(headers)) - 1
		c.haveHeaders = true
	} else {
		c.tipHeight = 0
		c.haveHeaders = false
	}
	return nil
}

// SetKnownNetworkHeight ratchets the known network height upward,
// never down, matching the PeerSession rule "known_network_height :=
// max(known_network_height, peer.height)" (spec §4.6).
func (c *Chain) SetKnownNetworkHeight(height uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveNetworkHeight || height > c.knownNetworkHeight {
		c.knownNetworkHeight = height
		c.haveNetworkHeight = true
	}
}

// Append validates and appends a single header to the tip. It
// enforces the three conditions of spec §4.4:
//  1. header.PrevBlock == tip hash
//  2. tipHeight+1 <= knownNetworkHeight, if known
//  3. PoW target check, only when enforceDifficulty is set
func (c *Chain) Append(h header.Header, bits uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.haveHeaders {
		tipHash := c.headers[len(c.headers)-1].Hash()
		if h.PrevBlock != tipHash {
			return hnserrors.New(hnserrors.ChainError, "prev_block does not match tip hash")
		}
	} else if !h.PrevBlock.IsZero() {
		return hnserrors.New(hnserrors.ChainError, "first header must chain from the checkpoint, not genesis")
	}

	nextHeight := c.tipHeight
	if c.haveHeaders {
		nextHeight = c.tipHeight + 1
	}
	if c.haveNetworkHeight && nextHeight > c.knownNetworkHeight {
		return hnserrors.New(hnserrors.ChainError, "header at height %d would overshoot known network height %d", nextHeight, c.knownNetworkHeight, ErrOvershoot)
	}

	if c.enforceDifficulty {
		if !header.CheckTarget(h, bits) {
			return hnserrors.New(hnserrors.ChainError, "header fails proof-of-work target")
		}
	}

	c.headers = append(c.headers, h)
	c.tipHeight = nextHeight
	c.haveHeaders = true

	c.trimLocked()
	return nil
}

// trimLocked drops the oldest in-memory headers once the window
// exceeds maxInMemory. The disk copy (held by HeaderStore) remains
// authoritative for the dropped range; tipHeight is unaffected.
func (c *Chain) trimLocked() {
	if uint32(len(c.headers)) <= c.maxInMemory {
		return
	}
	drop := uint32(len(c.headers)) - c.maxInMemory
	c.headers = c.headers[drop:]
	c.firstInMemoryHeight += drop
}

// Tip returns a snapshot-consistent view of the chain's current tip.
// Safe to call concurrently with Append.
func (c *Chain) Tip() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var snap Snapshot
	snap.KnownNetworkHeight = c.knownNetworkHeight
	snap.HaveNetworkHeight = c.haveNetworkHeight
	if !c.haveHeaders {
		return snap
	}
	tip := c.headers[len(c.headers)-1]
	snap.TipHeight = c.tipHeight
	snap.TipHash = tip.Hash()
	snap.NameRootAtTip = tip.NameRoot
	return snap
}

// InMemoryWindow returns a copy of the currently retained headers and
// the height of the first one, for HeaderStore saves.
func (c *Chain) InMemoryWindow() (headers []header.Header, firstHeight uint32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]header.Header(nil), c.headers...), c.firstInMemoryHeight
}

// Locator builds a sparse list of header hashes for getheaders: the
// tip, then tip-10, tip-100, tip-1000, continuing in memory only
// (spec §4.4).
func (c *Chain) Locator() []header.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.haveHeaders {
		return nil
	}

	var locator []header.Hash
	for _, off := range locatorOffsets {
		if off > uint64(c.tipHeight-c.firstInMemoryHeight) {
			break
		}
		idx := uint64(len(c.headers)-1) - off
		locator = append(locator, c.headers[idx].Hash())
	}
	return locator
}

// HeaderAt returns the header at the given height if it is within
// the in-memory window.
func (c *Chain) HeaderAt(height uint32) (header.Header, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.haveHeaders || height < c.firstInMemoryHeight || height > c.tipHeight {
		return header.Header{}, false
	}
	return c.headers[height-c.firstInMemoryHeight], true
}
