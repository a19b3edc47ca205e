package wire

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/Acktarius/HNSGo-sub000/hnserrors"
)

// NetAddressSize is the fixed wire size of a NetAddress entry:
// time(8) + services(8) + type(1) + ip(36) + port(2) + key(33).
const NetAddressSize = 8 + 8 + 1 + 36 + 2 + 33

// ServiceFlag advertises what a peer offers in its version message.
type ServiceFlag uint64

// SFNodeNetwork is the only service flag this client cares about: a
// peer that serves the full header/name-proof set.
const SFNodeNetwork ServiceFlag = 1

// NetAddress is a single peer address entry as carried in version and
// addr messages (spec §4.5).
type NetAddress struct {
	Time     uint64
	Services ServiceFlag
	Type     byte
	IP       [36]byte // IPv4 mapped as ::ffff:v4 in the first 16 bytes
	Port     uint16
	Key      [33]byte // zero for address-only peers (no brontide)
}

// NewNetAddress builds a NetAddress from a standard net.IP/port pair.
func NewNetAddress(ip net.IP, port uint16, services ServiceFlag) NetAddress {
	var na NetAddress
	na.Services = services
	na.Port = port
	v4 := ip.To4()
	if v4 != nil {
		copy(na.IP[10:12], []byte{0xff, 0xff})
		copy(na.IP[12:16], v4)
	} else {
		copy(na.IP[:16], ip.To16())
	}
	return na
}

// IPAddr extracts a net.IP from the wire representation.
func (na NetAddress) IPAddr() net.IP {
	if na.IP[10] == 0xff && na.IP[11] == 0xff {
		return net.IP(append([]byte(nil), na.IP[12:16]...))
	}
	return net.IP(append([]byte(nil), na.IP[:16]...))
}

func (na NetAddress) encode(w io.Writer) error {
	buf := make([]byte, NetAddressSize)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], na.Time)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(na.Services))
	off += 8
	buf[off] = na.Type
	off++
	copy(buf[off:off+36], na.IP[:])
	off += 36
	binary.LittleEndian.PutUint16(buf[off:], na.Port)
	off += 2
	copy(buf[off:off+33], na.Key[:])

	_, err := w.Write(buf)
	if err != nil {
		return hnserrors.New(hnserrors.IOError, "write netaddr", err)
	}
	return nil
}

func decodeNetAddress(r io.Reader) (NetAddress, error) {
	buf := make([]byte, NetAddressSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return NetAddress{}, hnserrors.New(hnserrors.FormatError, "truncated netaddr", err)
	}
	var na NetAddress
	off := 0
	na.Time = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	na.Services = ServiceFlag(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	na.Type = buf[off]
	off++
	copy(na.IP[:], buf[off:off+36])
	off += 36
	na.Port = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	copy(na.Key[:], buf[off:off+33])
	return na, nil
}
