// Package headersync drives the getheaders/headers loop: build a
// locator, fetch a batch from a ready session, append sequentially,
// and persist progress (spec §4.8).
package headersync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Acktarius/HNSGo-sub000/chain"
	"github.com/Acktarius/HNSGo-sub000/header"
	"github.com/Acktarius/HNSGo-sub000/headerstore"
	"github.com/Acktarius/HNSGo-sub000/logging"
	"github.com/Acktarius/HNSGo-sub000/metrics"
	"github.com/Acktarius/HNSGo-sub000/peer"
	"github.com/Acktarius/HNSGo-sub000/wire"
)

// Config configures HeaderSync per spec §6.
type Config struct {
	SaveCheckpointWindow uint32 // force a HeaderStore save every N appended headers
	RequestTimeout       time.Duration
}

func (c *Config) applyDefaults() {
	if c.SaveCheckpointWindow == 0 {
		c.SaveCheckpointWindow = 2000
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Outcome distinguishes why a batch stopped, so the caller (which
// picks the next peer) can react appropriately.
type Outcome int

const (
	// OutcomeComplete means every header in the reply was appended;
	// the peer may have more.
	OutcomeComplete Outcome = iota
	// OutcomeHalted means the sync stopped because the next header
	// would overshoot known_network_height — not an error, just wait
	// for a higher announcement (spec §4.8).
	OutcomeHalted
	// OutcomeRejected means a header failed to link or failed its PoW
	// target; the batch is aborted and the peer should be penalized.
	OutcomeRejected
	// OutcomeCancelled means the cooperative stop flag fired mid-batch.
	OutcomeCancelled
)

// Sync owns the single-writer relationship with a chain.Chain: it is
// the only component that calls Append (spec §5 "Header append is
// single-writer").
type Sync struct {
	chain   *chain.Chain
	store   *headerstore.Store
	cfg     Config
	log     logging.Logger
	metrics *metrics.Metrics

	stop atomic.Bool

	headersSinceSave uint32
}

// New builds a Sync bound to chain c and store s. m may be nil in
// tests that don't care about metrics.
func New(c *chain.Chain, s *headerstore.Store, cfg Config, log logging.Logger, m *metrics.Metrics) *Sync {
	cfg.applyDefaults()
	if log == nil {
		log = logging.Nop()
	}
	return &Sync{chain: c, store: s, cfg: cfg, log: log.New("headersync"), metrics: m}
}

// Stop raises the cooperative cancellation flag; RunBatch checks it
// between header appends and forces a final save before returning
// (spec §4.8, §5 "Cancellation and timeouts").
func (s *Sync) Stop() { s.stop.Store(true) }

// RunBatch performs one locator -> getheaders -> headers -> append
// round against session, which must already be Ready.
func (s *Sync) RunBatch(ctx context.Context, session *peer.Session) (Outcome, error) {
	s.chain.SetKnownNetworkHeight(session.KnownNetworkHeight())
	if s.metrics != nil {
		s.metrics.KnownNetworkHeight.Set(float64(s.chain.Tip().KnownNetworkHeight))
	}

	locator := s.chain.Locator()

	req := wire.GetHeaders{Locator: locator}
	payload, err := req.Encode()
	if err != nil {
		return OutcomeRejected, err
	}

	frame, err := session.Request(ctx, wire.CmdGetHeaders, payload, wire.CmdHeaders, s.cfg.RequestTimeout)
	if err != nil {
		return OutcomeRejected, err
	}

	reply, err := wire.DecodeHeaders(frame.Payload)
	if err != nil {
		return OutcomeRejected, err
	}

	if len(reply.Headers) == 0 {
		// An empty headers message is a no-op on the chain (spec §8
		// round-trip law).
		return OutcomeComplete, nil
	}

	outcome, err := s.appendBatch(reply.Headers)
	s.maybeSave()
	return outcome, err
}

func (s *Sync) appendBatch(headers []header.Header) (Outcome, error) {
	for _, h := range headers {
		if s.stop.Load() {
			s.forceSave()
			return OutcomeCancelled, nil
		}

		if err := s.chain.Append(h, h.Bits); err != nil {
			if errors.Is(err, chain.ErrOvershoot) {
				// Not a failure: halt until a higher announcement
				// arrives (spec §4.8).
				return OutcomeHalted, nil
			}
			// prev_block mismatch or PoW failure: abort the whole
			// batch per spec §4.8.
			return OutcomeRejected, err
		}
		s.headersSinceSave++
	}
	return OutcomeComplete, nil
}

func (s *Sync) maybeSave() {
	if s.headersSinceSave >= s.cfg.SaveCheckpointWindow {
		s.forceSave()
	}
}

// forceSave persists the in-memory window unconditionally; callers
// use this both for the periodic checkpoint window and for a
// cancelled/stopped sync (spec §4.8, §5).
func (s *Sync) forceSave() {
	headers, firstHeight := s.chain.InMemoryWindow()
	snap := s.chain.Tip()
	if err := s.store.Save(headers, snap.TipHeight, firstHeight); err != nil {
		s.log.Errorf("header store save failed: %v", err)
		return
	}
	s.headersSinceSave = 0
}
