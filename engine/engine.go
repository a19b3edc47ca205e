// Package engine is the composition root: it wires Chain,
// HeaderStore, PeerDirectory, HeaderSync, NameQuery, Resolver and
// Metrics together with no package-level state, and owns the peer
// session pool those components share (SPEC_FULL.md §4 "Engine").
package engine

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Acktarius/HNSGo-sub000/chain"
	"github.com/Acktarius/HNSGo-sub000/checkpoint"
	"github.com/Acktarius/HNSGo-sub000/config"
	"github.com/Acktarius/HNSGo-sub000/headersync"
	"github.com/Acktarius/HNSGo-sub000/headerstore"
	"github.com/Acktarius/HNSGo-sub000/hnserrors"
	"github.com/Acktarius/HNSGo-sub000/logging"
	"github.com/Acktarius/HNSGo-sub000/metrics"
	"github.com/Acktarius/HNSGo-sub000/namequery"
	"github.com/Acktarius/HNSGo-sub000/peer"
	"github.com/Acktarius/HNSGo-sub000/peerdir"
	"github.com/Acktarius/HNSGo-sub000/resolver"
)

// Engine is the running SPV core: every other package's instance
// lives inside it, constructed once and handed down explicitly.
type Engine struct {
	cfg config.Config
	log logging.Logger

	Chain     *chain.Chain
	Store     *headerstore.Store
	Directory *peerdir.Directory
	Sync      *headersync.Sync
	Query     *namequery.Query
	Resolver  *resolver.Resolver
	Metrics   *metrics.Metrics

	sessionsMu sync.Mutex
	sessions   map[string]*peer.Session
}

// CheckpointSource supplies the embedded checkpoint blob and its
// sanity witness; cmd/spvd reads the blob from cfg.CheckpointPath,
// tests supply a fixture.
type CheckpointSource struct {
	Blob           []byte
	ExpectedHeight uint32
	Witness        checkpoint.Witness
}

// New constructs an Engine from cfg, bootstrapping Chain from a prior
// HeaderStore save if present, otherwise from the embedded checkpoint
// (spec §4.3 "Bootstrap order").
func New(cfg config.Config, cp CheckpointSource, log logging.Logger) (*Engine, error) {
	if log == nil {
		log = logging.Nop()
	}

	c := chain.New(chain.Config{
		MaxInMemoryHeaders: cfg.MaxInMemoryHeaders,
		EnforceDifficulty:  cfg.EnforceDifficulty,
	}, log)

	store := headerstore.New(cfg.HeaderStorePath, log)

	if err := bootstrap(c, store, cp, log); err != nil {
		return nil, err
	}

	bootstrapAddrs, err := resolveBootstrapAddrs(cfg.Bootstrap)
	if err != nil {
		return nil, err
	}
	dir := peerdir.New(peerdir.Config{
		MaxErrors: cfg.PeerMaxErrors,
		Bootstrap: bootstrapAddrs,
	}, log)

	e := &Engine{
		cfg:       cfg,
		log:       log.New("engine"),
		Chain:     c,
		Store:     store,
		Directory: dir,
		Metrics:   metrics.New(),
		sessions:  make(map[string]*peer.Session),
	}

	e.Sync = headersync.New(c, store, headersync.Config{
		SaveCheckpointWindow: cfg.HeaderSaveCheckpointWindow,
		RequestTimeout:       cfg.P2PSocketTimeout(),
	}, log, e.Metrics)

	e.Query = namequery.New(dir, e.lookupSession, namequery.Config{
		Threads: cfg.NameQueryThreads,
	}, log, e.Metrics)

	e.Resolver = resolver.New(c, e.Query, resolver.Config{
		MaxRecursionDepth: cfg.MaxRecursionDepth,
		CacheTTL:          cfg.DNSCacheTTL(),
	}, log)

	return e, nil
}

// bootstrap loads headers from the store if a prior save exists;
// otherwise it validates and installs the embedded checkpoint
// (spec §4.3).
func bootstrap(c *chain.Chain, store *headerstore.Store, cp CheckpointSource, log logging.Logger) error {
	headers, _, firstHeight, ok, err := store.Load()
	if err != nil {
		return err
	}
	if ok && len(headers) > 0 {
		log.Infof("resuming from header store, %d headers from height %d", len(headers), firstHeight)
		return c.Reset(headers, firstHeight)
	}

	result, ok, err := checkpoint.Load(cp.Blob, cp.ExpectedHeight, cp.Witness)
	if err != nil {
		return err
	}
	if !ok {
		return hnserrors.New(hnserrors.ConfigError, "embedded checkpoint failed validation against its own witness")
	}
	log.Infof("bootstrapping from embedded checkpoint at height %d", result.Height)
	return c.Reset(result.Headers, result.Height)
}

// Tip is the non-suspending chain tip read every other component
// shares.
func (e *Engine) Tip() chain.Snapshot { return e.Chain.Tip() }

// MetricsHandler exposes the prometheus scrape endpoint; the DoH/DoT
// host process decides whether to mount it.
func (e *Engine) MetricsHandler() http.Handler { return e.Metrics.Handler() }

// Resolve answers one DNS question through the Resolver.
func (e *Engine) Resolve(ctx context.Context, qname string, qtype, qclass, id uint16) ([]byte, error) {
	return e.Resolver.Resolve(ctx, qname, qtype, qclass, id)
}

func (e *Engine) lookupSession(addr string) (*peer.Session, bool) {
	e.sessionsMu.Lock()
	defer e.sessionsMu.Unlock()
	s, ok := e.sessions[addr]
	return s, ok
}

// MaintainPeer keeps one session alive against addr: dial, run,
// reconnect with exponential backoff on any abnormal exit, until ctx
// is cancelled. Multiple calls (one per bootstrap address) run
// concurrently from the caller.
func (e *Engine) MaintainPeer(ctx context.Context, addr string) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.P2PRetryBaseDelay()
	bo.MaxElapsedTime = 0 // retry forever; caller controls lifetime via ctx

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		session := peer.New(peer.Config{
			Addr:               addr,
			LocalNonce:         uint64(time.Now().UnixNano()),
			LocalAgent:         "/hnsgo:0.1.0/",
			LocalHeight:        func() uint32 { return e.Chain.Tip().TipHeight },
			MaxCascadedErrors:  e.cfg.PeerMaxErrors,
			ConnectTimeout:     e.cfg.P2PConnectTimeout(),
			SocketTimeout:      e.cfg.P2PSocketTimeout(),
			MaxDeclaredMsgSize: uint32(e.cfg.MaxMessageSize),
		}, e.log)

		e.registerSession(addr, session)
		e.log.Infof("connecting to %s", addr)

		err := session.Run(ctx)

		e.unregisterSession(addr)

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			e.Metrics.PeerErrors.Inc()
			e.Directory.RecordError(addr)
			wait := bo.NextBackOff()
			e.log.Warnf("session with %s ended: %v, retrying in %s", addr, err, wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}

		bo.Reset()
	}
}

func (e *Engine) registerSession(addr string, s *peer.Session) {
	e.sessionsMu.Lock()
	e.sessions[addr] = s
	e.sessionsMu.Unlock()
}

func (e *Engine) unregisterSession(addr string) {
	e.sessionsMu.Lock()
	delete(e.sessions, addr)
	e.sessionsMu.Unlock()
}

// RunHeaderSync drives HeaderSync.RunBatch against whichever
// bootstrap session is currently Ready, once per pollInterval, until
// ctx is cancelled. Marks newly-handshaken sessions in Directory so
// NameQuery can select them (spec §4.9 "handshake required").
func (e *Engine) RunHeaderSync(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			session, addr, ok := e.readySession()
			if !ok {
				continue
			}
			e.Directory.MarkHandshaken(addr)

			outcome, err := e.Sync.RunBatch(ctx, session)
			if err != nil {
				e.log.Warnf("header sync batch against %s failed: %v", addr, err)
				e.Directory.RecordError(addr)
				continue
			}
			e.log.Debugf("header sync batch against %s completed, outcome=%d", addr, outcome)
			e.Metrics.TipHeight.Set(float64(e.Chain.Tip().TipHeight))
		}
	}
}

func (e *Engine) readySession() (*peer.Session, string, bool) {
	e.sessionsMu.Lock()
	defer e.sessionsMu.Unlock()
	for addr, s := range e.sessions {
		if s.State() == peer.Ready {
			return s, addr, true
		}
	}
	return nil, "", false
}

// Close releases the Resolver's background cache janitor. Peer
// sessions and HeaderSync both stop cooperatively via the context
// passed to MaintainPeer/RunHeaderSync.
func (e *Engine) Close() {
	e.Resolver.Close()
}

// resolveBootstrapAddrs turns a config bootstrap list (which may mix
// host:port and IP:port entries) into dialable addresses, leaving DNS
// seed resolution itself to peerdir.SeedFromDNS.
func resolveBootstrapAddrs(hosts []string) ([]string, error) {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if _, _, err := net.SplitHostPort(h); err != nil {
			return nil, hnserrors.New(hnserrors.FormatError, "bootstrap address %q missing port", h, err)
		}
		out = append(out, h)
	}
	return out, nil
}
