// Package peerdir tracks candidate peer addresses: where they come
// from, how trustworthy they have been, and in what order a query for
// a given name should try them (spec §4.7).
package peerdir

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/dolthub/swiss"
	"github.com/greatroar/blobloom"

	"github.com/Acktarius/HNSGo-sub000/logging"
)

// DefaultPort is the Handshake mainnet P2P port (spec §6).
const DefaultPort = 12038

// jitterWindow buckets the time-based jitter term so selections for
// the same name are stable over short spans (avoiding re-ordering on
// every single call) while still drifting over time to spread load
// across the network (spec §4.7 "name-biased selection ... with
// jitter").
const jitterWindow = 5 * time.Minute

// Record is one candidate peer's bookkeeping.
type Record struct {
	Addr        string
	Errors      int
	ProofsOK    int
	LastSeen    time.Time
	LastErrorAt time.Time
	Handshaken  bool // never selected for getproof until a version/verack completed
}

// Config configures Directory construction knobs drawn from spec §6.
type Config struct {
	MaxErrors     int
	ErrorCooldown time.Duration
	Bootstrap     []string // embedded bootstrap list, source (3)
	PersistTopK   int
}

func (c *Config) applyDefaults() {
	if c.MaxErrors == 0 {
		c.MaxErrors = 10
	}
	if c.ErrorCooldown == 0 {
		c.ErrorCooldown = 15 * time.Minute
	}
	if c.PersistTopK == 0 {
		c.PersistTopK = 50
	}
}

// LookupFunc resolves a DNS seed hostname to candidate addresses
// (spec §4.7 source (2), "external collaborator").
type LookupFunc func(host string) ([]net.IP, error)

// Directory is the PeerDirectory: a name-biased address book with
// error accounting. All mutation is under a single lock per spec §5
// ("PeerDirectory read/write are serialized under a single lock").
type Directory struct {
	mu      sync.Mutex
	peers   *swiss.Map[string, *Record]
	seen    *blobloom.Filter
	cfg     Config
	log     logging.Logger
}

// New constructs an empty Directory seeded with the embedded bootstrap
// list (spec §4.7 source (3)).
func New(cfg Config, log logging.Logger) *Directory {
	cfg.applyDefaults()
	if log == nil {
		log = logging.Nop()
	}
	d := &Directory{
		peers: swiss.NewMap[string, *Record](256),
		seen: blobloom.NewOptimized(blobloom.Config{
			Capacity: 100_000,
			FPRate:   1e-5,
		}),
		cfg: cfg,
		log: log.New("peerdir"),
	}
	for _, addr := range cfg.Bootstrap {
		d.addLocked(addr)
	}
	return d
}

func addrHash(addr string) uint64 {
	sum := sha256.Sum256([]byte(addr))
	return binary.BigEndian.Uint64(sum[:8])
}

// addLocked inserts addr if unseen. Caller holds d.mu.
func (d *Directory) addLocked(addr string) {
	h := addrHash(addr)
	if d.seen.Has(h) {
		return
	}
	d.seen.Add(h)
	if _, ok := d.peers.Get(addr); !ok {
		d.peers.Put(addr, &Record{Addr: addr})
	}
}

// LoadPersisted seeds the directory from a previously persisted peer
// file (spec §4.7 source (1), highest priority).
func (d *Directory) LoadPersisted(addrs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, addr := range addrs {
		d.addLocked(addr)
	}
}

// SeedFromDNS resolves each of the given seed hosts via lookupFn and
// adds the results (spec §4.7 source (2)).
func (d *Directory) SeedFromDNS(hosts []string, lookupFn LookupFunc) {
	for _, host := range hosts {
		ips, err := lookupFn(host)
		if err != nil {
			d.log.Warnf("dns seed %s failed: %v", host, err)
			continue
		}
		d.mu.Lock()
		for _, ip := range ips {
			d.addLocked(net.JoinHostPort(ip.String(), portString))
		}
		d.mu.Unlock()
	}
}

var portString = "12038"

// ObserveGossip records freshly-gossiped addresses (e.g. from an addr
// message), deduped against the recently-seen bloom filter so a
// repeated announcement from many peers doesn't re-walk bookkeeping.
func (d *Directory) ObserveGossip(addrs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, addr := range addrs {
		d.addLocked(addr)
	}
}

// MarkHandshaken records that addr completed a version/verack
// exchange; only handshaken peers are offered as getproof candidates
// (spec §4.9 "a peer ... that did not complete handshake is not
// asked").
func (d *Directory) MarkHandshaken(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.peers.Get(addr); ok {
		rec.Handshaken = true
	}
}

// RecordSuccess resets addr's error count, increments proofs_ok and
// stamps LastSeen (spec §4.7, invariant 5). It writes nothing to disk:
// TopK returns the ranked list, and nothing in this package saves it.
func (d *Directory) RecordSuccess(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.peers.Get(addr)
	if !ok {
		rec = &Record{Addr: addr}
		d.peers.Put(addr, rec)
	}
	rec.Errors = 0
	rec.ProofsOK++
	rec.LastSeen = time.Now()
}

// errorWeightNotFound and errorWeightOther are the per-event error
// increments: a well-formed notfound is mild evidence (the peer might
// simply be out of sync); a hard error (bad proof, I/O failure) is
// treated as stronger evidence of an unreliable peer (spec §4.9
// point 5: "Error results increment it more strongly").
const (
	errorWeightNotFound = 1
	errorWeightOther    = 3
)

// RecordNotFound increments addr's error count by the mild weight.
func (d *Directory) RecordNotFound(addr string) { d.recordError(addr, errorWeightNotFound) }

// RecordError increments addr's error count by the strong weight and
// stamps LastErrorAt so the cooldown clock starts now.
func (d *Directory) RecordError(addr string) { d.recordError(addr, errorWeightOther) }

func (d *Directory) recordError(addr string, weight int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.peers.Get(addr)
	if !ok {
		rec = &Record{Addr: addr}
		d.peers.Put(addr, rec)
	}
	rec.Errors += weight
	rec.LastErrorAt = time.Now()
}

// excludedLocked reports whether rec is currently excluded: error
// count at or above the threshold and still within cooldown.
func (d *Directory) excludedLocked(rec *Record) bool {
	if rec.Errors < d.cfg.MaxErrors {
		return false
	}
	return time.Since(rec.LastErrorAt) < d.cfg.ErrorCooldown
}

// Record returns a copy of addr's bookkeeping, for tests and metrics.
func (d *Directory) Record(addr string) (Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.peers.Get(addr)
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Count returns the number of peers currently tracked.
func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peers.Count()
}

// SelectCandidates returns handshaken, non-excluded peer addresses
// ordered by a deterministic pseudo-random permutation seeded by
// nameHash with a time-windowed jitter term (spec §4.7), limited to
// at most max entries.
func (d *Directory) SelectCandidates(nameHash [32]byte, max int) []string {
	d.mu.Lock()
	var candidates []string
	d.peers.Iter(func(addr string, rec *Record) bool {
		if rec.Handshaken && !d.excludedLocked(rec) {
			candidates = append(candidates, addr)
		}
		return false
	})
	d.mu.Unlock()

	sort.Strings(candidates) // canonical order before shuffling, for determinism across runs

	seed1 := binary.BigEndian.Uint64(nameHash[0:8])
	seed2 := binary.BigEndian.Uint64(nameHash[8:16])
	jitter := uint64(time.Now().UnixNano()) / uint64(jitterWindow)
	seed2 ^= jitter

	rng := rand.New(rand.NewPCG(seed1, seed2))
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	if max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}
	return candidates
}

// TopK returns the addresses of the K most successful peers
// (ProofsOK descending), for persistence to the peer file (spec §4.7
// "Persist the top-K successful peers").
func (d *Directory) TopK() []string {
	d.mu.Lock()
	var all []*Record
	d.peers.Iter(func(_ string, rec *Record) bool {
		if rec.ProofsOK > 0 {
			all = append(all, rec)
		}
		return false
	})
	d.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].ProofsOK != all[j].ProofsOK {
			return all[i].ProofsOK > all[j].ProofsOK
		}
		return all[i].Addr < all[j].Addr
	})

	k := d.cfg.PersistTopK
	if len(all) < k {
		k = len(all)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = all[i].Addr
	}
	return out
}
