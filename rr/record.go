// Package rr decodes Handshake's internal resource record encoding
// and converts verified records into miekg/dns wire types for the
// resolver to answer with (spec §3 "Resource record (internal)").
package rr

import (
	"bytes"
	"encoding/hex"
	"net"

	"github.com/miekg/dns"

	"github.com/Acktarius/HNSGo-sub000/hnserrors"
	"github.com/Acktarius/HNSGo-sub000/wire"
)

// Type is the internal record type tag (spec §3: "type: uint16").
type Type uint16

const (
	TypeA     Type = 1
	TypeNS    Type = 2
	TypeCNAME Type = 5
	TypeAAAA  Type = 28
	TypeTLSA  Type = 52
)

// Record is one decoded Handshake resource record.
type Record struct {
	Type Type
	Data []byte
}

// Decode parses one raw record blob from a proof response's
// resource_records list: varint(type) followed by the raw record
// data (the enclosing list already frames each entry's length, so the
// per-record encoding carries no redundant length prefix — unlike the
// canonical form ProofVerifier re-serializes for leaf hashing).
func Decode(raw []byte) (Record, error) {
	r := bytes.NewReader(raw)
	typ, err := wire.ReadVarInt(r)
	if err != nil {
		return Record{}, err
	}
	if typ > 0xffff {
		return Record{}, hnserrors.New(hnserrors.FormatError, "resource record type %d exceeds uint16", typ)
	}
	data := make([]byte, r.Len())
	if _, err := r.Read(data); err != nil && r.Len() > 0 {
		return Record{}, hnserrors.New(hnserrors.FormatError, "truncated resource record data", err)
	}
	return Record{Type: Type(typ), Data: data}, nil
}

// Encode is the inverse of Decode.
func Encode(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarInt(&buf, uint64(rec.Type)); err != nil {
		return nil, err
	}
	buf.Write(rec.Data)
	return buf.Bytes(), nil
}

// ParseGlueNS splits a Handshake-native glue-carrying NS record's data
// into the delegated nameserver's name and its glue IP, per spec §3:
// `"<ns-name>\0<ip-ascii>"`. A plain NS record (no embedded glue) has
// no NUL byte and hasGlue is false.
func ParseGlueNS(data []byte) (nsName string, glueIP net.IP, hasGlue bool) {
	idx := bytes.IndexByte(data, 0)
	if idx < 0 {
		return string(data), nil, false
	}
	name := string(data[:idx])
	ipStr := string(data[idx+1:])
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return name, nil, false
	}
	return name, ip, true
}

// ToDNS converts a verified Record into a miekg/dns RR bound to owner
// name with the given TTL. Unknown types return a FormatError; the
// caller should simply skip such records rather than fail the whole
// answer.
func ToDNS(owner string, rec Record, ttl uint32) (dns.RR, error) {
	hdr := dns.RR_Header{Name: dns.Fqdn(owner), Ttl: ttl, Class: dns.ClassINET}

	switch rec.Type {
	case TypeA:
		ip := net.IP(rec.Data).To4()
		if ip == nil {
			return nil, hnserrors.New(hnserrors.FormatError, "A record data is not a valid IPv4 address")
		}
		hdr.Rrtype = dns.TypeA
		return &dns.A{Hdr: hdr, A: ip}, nil

	case TypeAAAA:
		ip := net.IP(rec.Data).To16()
		if ip == nil {
			return nil, hnserrors.New(hnserrors.FormatError, "AAAA record data is not a valid IPv6 address")
		}
		hdr.Rrtype = dns.TypeAAAA
		return &dns.AAAA{Hdr: hdr, AAAA: ip}, nil

	case TypeNS:
		name, _, _ := ParseGlueNS(rec.Data)
		hdr.Rrtype = dns.TypeNS
		return &dns.NS{Hdr: hdr, Ns: dns.Fqdn(name)}, nil

	case TypeCNAME:
		hdr.Rrtype = dns.TypeCNAME
		return &dns.CNAME{Hdr: hdr, Target: dns.Fqdn(string(rec.Data))}, nil

	case TypeTLSA:
		if len(rec.Data) < 3 {
			return nil, hnserrors.New(hnserrors.FormatError, "TLSA record data too short: %d bytes", len(rec.Data))
		}
		hdr.Rrtype = dns.TypeTLSA
		return &dns.TLSA{
			Hdr:          hdr,
			Usage:        rec.Data[0],
			Selector:     rec.Data[1],
			MatchingType: rec.Data[2],
			Certificate:  hex.EncodeToString(rec.Data[3:]),
		}, nil

	default:
		return nil, hnserrors.New(hnserrors.FormatError, "unhandled resource record type %d", rec.Type)
	}
}

// GlueAddresses extracts the A/AAAA glue addresses embedded in a set
// of NS records matching nsName, IPv4 entries first (spec §4.11 point
// 4: "IPv4 before IPv6").
func GlueAddresses(records []Record, nsName string) []net.IP {
	var v4, v6 []net.IP
	for _, rec := range records {
		if rec.Type != TypeNS {
			continue
		}
		name, ip, hasGlue := ParseGlueNS(rec.Data)
		if !hasGlue || name != nsName {
			continue
		}
		if v4addr := ip.To4(); v4addr != nil {
			v4 = append(v4, v4addr)
		} else {
			v6 = append(v6, ip)
		}
	}
	return append(v4, v6...)
}
