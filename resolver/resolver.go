// Package resolver implements RecursiveResolver: turning a DNS
// question into a NameQuery, branching on TLD-vs-subdomain, following
// glue nameservers, and caching answers (spec §4.11).
package resolver

import (
	"context"
	"crypto/sha256"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/miekg/dns"

	"github.com/Acktarius/HNSGo-sub000/chain"
	"github.com/Acktarius/HNSGo-sub000/hnserrors"
	"github.com/Acktarius/HNSGo-sub000/logging"
	"github.com/Acktarius/HNSGo-sub000/namequery"
	"github.com/Acktarius/HNSGo-sub000/rr"
)

// ErrNotHandshakeTLD is the sentinel returned when the queried name's
// TLD does not exist in the Handshake name tree. Callers (the DNS
// server layer) check this with errors.Is and fall back to upstream
// ICANN resolution outside the core (spec §4.11, §7 "if the resolver
// indicates 'not a Handshake TLD' by returning a defined sentinel").
var ErrNotHandshakeTLD = errors.New("not a handshake tld")

// NameQuerier is the subset of namequery.Query that RecursiveResolver
// needs, so tests can substitute a fake without standing up real
// peers.
type NameQuerier interface {
	Run(ctx context.Context, nameHash [32]byte, root [32]byte) (namequery.Outcome, namequery.Result, error)
}

// Config configures RecursiveResolver per spec §6.
type Config struct {
	MaxRecursionDepth int
	CacheTTL          time.Duration
	ForwardTimeout    time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRecursionDepth == 0 {
		c.MaxRecursionDepth = 10
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.ForwardTimeout == 0 {
		c.ForwardTimeout = 2 * time.Second
	}
}

type cacheKey struct {
	qname  string
	qtype  uint16
	qclass uint16
}

// Resolver is RecursiveResolver.
type Resolver struct {
	chain   *chain.Chain
	querier NameQuerier
	cfg     Config
	log     logging.Logger
	cache   *ttlcache.Cache[cacheKey, *dns.Msg]

	// exchange performs one UDP DNS round trip; overridable in tests.
	exchange func(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, error)
}

// New builds a Resolver reading tip state from c and issuing name
// lookups through querier.
func New(c *chain.Chain, querier NameQuerier, cfg Config, log logging.Logger) *Resolver {
	cfg.applyDefaults()
	if log == nil {
		log = logging.Nop()
	}
	cache := ttlcache.New[cacheKey, *dns.Msg](ttlcache.WithTTL[cacheKey, *dns.Msg](cfg.CacheTTL))
	go cache.Start()

	r := &Resolver{chain: c, querier: querier, cfg: cfg, log: log.New("resolver"), cache: cache}
	r.exchange = r.udpExchange
	return r
}

// Close stops the cache's background janitor goroutine.
func (r *Resolver) Close() { r.cache.Stop() }

func nameHash(name string) [32]byte {
	n := strings.ToLower(strings.TrimSuffix(name, "."))
	return sha256.Sum256([]byte(n))
}

func tldOf(qname string) string {
	trimmed := strings.TrimSuffix(strings.ToLower(qname), ".")
	labels := strings.Split(trimmed, ".")
	return labels[len(labels)-1]
}

// Resolve answers (qname, qtype, qclass) with a packed DNS response,
// rewriting the transaction id to id on a cache hit (spec §4.11 point
// 6). Returns ErrNotHandshakeTLD (wrapped) if qname's TLD is not a
// Handshake name, so the caller can fall back upstream.
func (r *Resolver) Resolve(ctx context.Context, qname string, qtype, qclass, id uint16) ([]byte, error) {
	key := cacheKey{qname: strings.ToLower(qname), qtype: qtype, qclass: qclass}

	if item := r.cache.Get(key); item != nil {
		cached := item.Value().Copy()
		cached.Id = id
		return cached.Pack()
	}

	tld := tldOf(qname)
	snap := r.chain.Tip()

	outcome, result, err := r.querier.Run(ctx, nameHash(tld), snap.NameRootAtTip)
	switch outcome {
	case namequery.OutcomeNotFound:
		return nil, hnserrors.New(hnserrors.NotFound, "tld %q is not a handshake name", tld, ErrNotHandshakeTLD)
	case namequery.OutcomeError:
		r.log.Warnf("namequery failed for tld %q: %v", tld, err)
		return r.servfail(id, qname, qtype, qclass), nil
	}

	isApex := strings.EqualFold(strings.TrimSuffix(qname, "."), tld)

	var resp *dns.Msg
	if isApex {
		resp = buildApexResponse(qname, qtype, id, result.Records)
	} else {
		resp, err = r.resolveSubdomain(ctx, qname, qtype, id, result.Records, 0)
		if err != nil {
			r.cache.Delete(key)
			return r.servfail(id, qname, qtype, qclass), nil
		}
	}

	r.cache.Set(key, resp, ttlcache.DefaultTTL)
	packed, err := resp.Copy().Pack()
	if err != nil {
		return nil, err
	}
	return packed, nil
}

func (r *Resolver) servfail(id uint16, qname string, qtype, qclass uint16) []byte {
	m := new(dns.Msg)
	m.Id = id
	m.Question = []dns.Question{{Name: dns.Fqdn(qname), Qtype: qtype, Qclass: qclass}}
	m.Rcode = dns.RcodeServerFailure
	packed, _ := m.Pack()
	return packed
}

// buildApexResponse answers a question asked exactly at the TLD: NS
// records go to AUTHORITY, their glue A/AAAA to ADDITIONAL, and any
// non-NS record directly matching qtype goes to ANSWER (spec §4.11
// point 3).
func buildApexResponse(qname string, qtype, id uint16, records []rr.Record) *dns.Msg {
	m := new(dns.Msg)
	m.Id = id
	m.Question = []dns.Question{{Name: dns.Fqdn(qname), Qtype: qtype, Qclass: dns.ClassINET}}
	m.Rcode = dns.RcodeSuccess

	for _, rec := range records {
		const ttl = 3600
		if rec.Type != rr.TypeNS && uint16(rec.Type) == qtype {
			if answer, err := rr.ToDNS(qname, rec, ttl); err == nil {
				m.Answer = append(m.Answer, answer)
			}
		}
		if rec.Type == rr.TypeNS {
			name, glueIP, hasGlue := rr.ParseGlueNS(rec.Data)
			if ns, err := rr.ToDNS(qname, rec, ttl); err == nil {
				m.Ns = append(m.Ns, ns)
			}
			if hasGlue {
				if glueIP.To4() != nil {
					m.Extra = append(m.Extra, &dns.A{Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl}, A: glueIP.To4()})
				} else {
					m.Extra = append(m.Extra, &dns.AAAA{Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl}, AAAA: glueIP.To16()})
				}
			}
		}
	}

	if len(m.Answer) == 0 && len(m.Ns) == 0 {
		m.Rcode = dns.RcodeNameError
	}
	return m
}

// resolveSubdomain forwards (qname, qtype) to the TLD's glue
// nameservers, IPv4 before IPv6, following referrals up to
// MaxRecursionDepth (spec §4.11 point 4, 5).
func (r *Resolver) resolveSubdomain(ctx context.Context, qname string, qtype, id uint16, tldRecords []rr.Record, depth int) (*dns.Msg, error) {
	var nsNames []string
	for _, rec := range tldRecords {
		if rec.Type == rr.TypeNS {
			name, _, _ := rr.ParseGlueNS(rec.Data)
			nsNames = append(nsNames, name)
		}
	}

	var v4, v6 []net.IP
	for _, ns := range nsNames {
		for _, ip := range rr.GlueAddresses(tldRecords, ns) {
			if ip.To4() != nil {
				v4 = append(v4, ip)
			} else {
				v6 = append(v6, ip)
			}
		}
	}
	glue := append(v4, v6...)
	if len(glue) == 0 {
		return nil, hnserrors.New(hnserrors.NotFound, "no glue addresses for %q's nameservers", qname)
	}

	return r.forward(ctx, qname, qtype, id, glue, depth)
}

func (r *Resolver) forward(ctx context.Context, qname string, qtype, id uint16, glue []net.IP, depth int) (*dns.Msg, error) {
	if depth >= r.cfg.MaxRecursionDepth {
		return nil, hnserrors.New(hnserrors.IOError, "recursion depth %d exceeded", depth)
	}

	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(qname), qtype)

	var lastErr error
	for _, ip := range glue {
		resp, err := r.exchange(ctx, q, net.JoinHostPort(ip.String(), "53"))
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode == dns.RcodeSuccess && len(resp.Answer) > 0 {
			resp.Id = id
			return resp, nil
		}
		if len(resp.Ns) > 0 && len(resp.Answer) == 0 {
			nextGlue := glueFromExtra(resp)
			if len(nextGlue) > 0 {
				return r.forward(ctx, qname, qtype, id, nextGlue, depth+1)
			}
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, hnserrors.New(hnserrors.IOError, "no glue nameserver answered %q", qname)
}

// glueFromExtra extracts A/AAAA addresses from a referral response's
// ADDITIONAL section, IPv4 first.
func glueFromExtra(resp *dns.Msg) []net.IP {
	var v4, v6 []net.IP
	for _, extraRR := range resp.Extra {
		switch a := extraRR.(type) {
		case *dns.A:
			v4 = append(v4, a.A)
		case *dns.AAAA:
			v6 = append(v6, a.AAAA)
		}
	}
	return append(v4, v6...)
}

func (r *Resolver) udpExchange(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, error) {
	c := &dns.Client{Net: "udp", Timeout: r.cfg.ForwardTimeout}
	resp, _, err := c.ExchangeContext(ctx, m, addr)
	if err != nil {
		return nil, hnserrors.New(hnserrors.IOError, "udp exchange with %s failed", addr, err)
	}
	return resp, nil
}
