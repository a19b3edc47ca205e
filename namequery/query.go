// Package namequery implements NameQuery: name-biased peer selection,
// parallel batched getproof fan-out, first-verified-wins, and
// PeerDirectory error/success accounting (spec §4.9).
package namequery

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/Acktarius/HNSGo-sub000/hnserrors"
	"github.com/Acktarius/HNSGo-sub000/logging"
	"github.com/Acktarius/HNSGo-sub000/metrics"
	"github.com/Acktarius/HNSGo-sub000/peer"
	"github.com/Acktarius/HNSGo-sub000/peerdir"
	"github.com/Acktarius/HNSGo-sub000/proof"
	"github.com/Acktarius/HNSGo-sub000/rr"
	"github.com/Acktarius/HNSGo-sub000/wire"
)

// Outcome is NameQuery's terminal result kind (spec §4.9).
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotFound
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "notfound"
	default:
		return "error"
	}
}

// Result carries the winning proof's decoded records and the peer
// that supplied it.
type Result struct {
	Records  []rr.Record
	PeerAddr string
}

// SessionLookup resolves a peer address to a currently Ready session,
// if one is held open by the caller (e.g. engine's connection pool).
// NameQuery never dials on its own — it only asks about sessions that
// already completed a handshake (spec §4.9 "a peer ... that did not
// complete handshake is not asked").
type SessionLookup func(addr string) (*peer.Session, bool)

// Config configures NameQuery per spec §6.
type Config struct {
	Threads           int // NAME_QUERY_THREADS, default 4
	RequestTimeout    time.Duration
	NegativeCacheTTL  time.Duration
	NegativeCacheSize int
}

func (c *Config) applyDefaults() {
	if c.Threads == 0 {
		c.Threads = 4
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.NegativeCacheTTL == 0 {
		c.NegativeCacheTTL = 10 * time.Second
	}
	if c.NegativeCacheSize == 0 {
		c.NegativeCacheSize = 1024
	}
}

type cacheEntry struct {
	outcome Outcome
	at      time.Time
}

// Query runs NameQuery batches against a PeerDirectory's candidate
// ordering and a pool of already-connected sessions.
type Query struct {
	dir     *peerdir.Directory
	lookup  SessionLookup
	cfg     Config
	log     logging.Logger
	metrics *metrics.Metrics

	// negative result cache: avoids re-hammering the same batch of
	// peers for a name that just came back notfound/error moments ago.
	cache *lru.Cache[[32]byte, cacheEntry]
}

// New builds a Query bound to dir for candidate selection and lookup
// for resolving a selected address to a live session. m may be nil in
// tests that don't care about metrics.
func New(dir *peerdir.Directory, lookup SessionLookup, cfg Config, log logging.Logger, m *metrics.Metrics) *Query {
	cfg.applyDefaults()
	if log == nil {
		log = logging.Nop()
	}
	cache, _ := lru.New[[32]byte, cacheEntry](cfg.NegativeCacheSize)
	return &Query{dir: dir, lookup: lookup, cfg: cfg, log: log.New("namequery"), metrics: m, cache: cache}
}

// Run asks the network for nameHash's records, verifying each
// candidate proof against root (the tip's name_root captured by the
// caller at query entry, per spec §5 "snapshot-consistent per
// query").
func (q *Query) Run(ctx context.Context, nameHash [32]byte, root [32]byte) (Outcome, Result, error) {
	if q.metrics != nil {
		start := time.Now()
		defer func() { q.metrics.NameQueryDuration.Observe(time.Since(start).Seconds()) }()
	}

	queryID := uuid.NewString()

	if entry, ok := q.cache.Get(nameHash); ok && entry.outcome != OutcomeSuccess {
		if time.Since(entry.at) < q.cfg.NegativeCacheTTL {
			q.log.Debugf("query %s: served from negative cache (%s)", queryID, entry.outcome)
			return entry.outcome, Result{}, nil
		}
	}

	candidates := q.dir.SelectCandidates(nameHash, 0)
	if len(candidates) == 0 {
		return OutcomeError, Result{}, hnserrors.New(hnserrors.NotFound, "no candidate peers available")
	}

	sawNotFound := false
	var lastErr error

	for start := 0; start < len(candidates); start += q.cfg.Threads {
		end := start + q.cfg.Threads
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		outcome, result, batchSawNotFound, err := q.runBatch(ctx, batch, nameHash, root)
		sawNotFound = sawNotFound || batchSawNotFound

		switch outcome {
		case OutcomeSuccess:
			q.cache.Add(nameHash, cacheEntry{outcome: OutcomeSuccess, at: time.Now()})
			return OutcomeSuccess, result, nil
		case OutcomeError:
			if ctx.Err() != nil {
				return OutcomeError, Result{}, ctx.Err()
			}
			if err != nil {
				lastErr = err
			}
			// all peers in this batch returned notfound, errored or were
			// unreachable; try the next batch before giving up entirely.
		}
	}

	final := OutcomeError
	if sawNotFound {
		final = OutcomeNotFound
	}
	q.cache.Add(nameHash, cacheEntry{outcome: final, at: time.Now()})
	if final == OutcomeNotFound {
		return OutcomeNotFound, Result{}, nil
	}
	if lastErr != nil {
		return OutcomeError, Result{}, hnserrors.New(hnserrors.NotFound, "all batches exhausted without a verifying proof", lastErr)
	}
	return OutcomeError, Result{}, hnserrors.New(hnserrors.NotFound, "all batches exhausted without a verifying proof")
}

type batchReply struct {
	addr    string
	result  Result
	notFound bool
	err     error
}

// runBatch fans a getproof request out to every address in batch in
// parallel; the first well-formed, verifying proof wins and the rest
// of the batch is cancelled (spec §4.9 step 3).
func (q *Query) runBatch(ctx context.Context, batch []string, nameHash, root [32]byte) (Outcome, Result, bool, error) {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	replies := make(chan batchReply, len(batch))
	var wg sync.WaitGroup
	for _, addr := range batch {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			replies <- q.queryOne(batchCtx, addr, nameHash, root)
		}(addr)
	}
	go func() {
		wg.Wait()
		close(replies)
	}()

	sawNotFound := false
	var lastErr error

	for r := range replies {
		switch {
		case r.err == nil && !r.notFound:
			// First verifying proof wins; cancel abandons in-flight
			// requests in the rest of the batch (spec §4.9 step 3). The
			// reply channel is sized to the whole batch so the other
			// goroutines never block on a send we stop reading.
			cancel()
			return OutcomeSuccess, r.result, sawNotFound, nil
		case r.notFound:
			sawNotFound = true
			q.dir.RecordNotFound(r.addr)
		default:
			lastErr = r.err
			q.dir.RecordError(r.addr)
		}
	}

	return OutcomeError, Result{}, sawNotFound, lastErr
}

// queryOne issues one getproof request against addr's session and
// verifies the response.
func (q *Query) queryOne(ctx context.Context, addr string, nameHash, root [32]byte) batchReply {
	session, ok := q.lookup(addr)
	if !ok || session.State() != peer.Ready {
		return batchReply{addr: addr, err: hnserrors.New(hnserrors.IOError, "no ready session for %s", addr)}
	}

	req := wire.GetProof{NameHash: nameHash, Root: root}
	payload, err := req.Encode()
	if err != nil {
		return batchReply{addr: addr, err: err}
	}

	frame, err := session.Request(ctx, wire.CmdGetProof, payload, wire.CmdProof, q.cfg.RequestTimeout)
	if err != nil {
		return batchReply{addr: addr, err: err}
	}

	resp, err := wire.DecodeProof(frame.Payload)
	if err != nil {
		return batchReply{addr: addr, err: err}
	}
	if resp.NotFound {
		return batchReply{addr: addr, notFound: true}
	}

	records := make([]rr.Record, 0, len(resp.ResourceRecords))
	proofRecords := make([]proof.Record, 0, len(resp.ResourceRecords))
	for _, raw := range resp.ResourceRecords {
		decoded, err := rr.Decode(raw)
		if err != nil {
			return batchReply{addr: addr, err: err}
		}
		records = append(records, decoded)
		proofRecords = append(proofRecords, proof.Record{Type: uint64(decoded.Type), Data: decoded.Data})
	}

	ok2, err := proof.Verify(nameHash, proofRecords, resp.ProofNodes, root)
	if err != nil {
		return batchReply{addr: addr, err: err}
	}
	if !ok2 {
		return batchReply{addr: addr, err: hnserrors.New(hnserrors.ProofError, "proof from %s does not verify against root", addr)}
	}

	q.dir.RecordSuccess(addr)
	if q.metrics != nil {
		q.metrics.PeerProofsOK.Inc()
	}
	return batchReply{addr: addr, result: Result{Records: records, PeerAddr: addr}}
}
