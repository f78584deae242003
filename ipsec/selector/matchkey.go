//
// Copyright 2017-2019 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package selector implements the traffic selectors of the SPD:
// the MatchKey record extracted from packets, rule items with mask
// or range semantics, and selectors made of such items.
package selector

import (
	"bytes"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Indexes of Port and Addr in MatchKey.
const (
	Remote = 0
	Local  = 1
)

// Flags in MatchKey.Proto. The low 8 bits hold the IP protocol.
const (
	MatchProto    uint32 = 0xFF
	MatchInbound  uint32 = 1 << 8
	MatchOutbound uint32 = 1 << 9
	MatchPorts    uint32 = 1 << 10
	MatchType     uint32 = 1 << 11

	MatchLPortRange uint32 = 1 << 12
	MatchRPortRange uint32 = 1 << 13
	MatchLAddrRange uint32 = 1 << 14
	MatchRAddrRange uint32 = 1 << 15

	MatchDirection = MatchInbound | MatchOutbound
	MatchRange     = MatchLPortRange | MatchRPortRange | MatchLAddrRange | MatchRAddrRange
)

var portRangeFlag = [2]uint32{Remote: MatchRPortRange, Local: MatchLPortRange}
var addrRangeFlag = [2]uint32{Remote: MatchRAddrRange, Local: MatchLAddrRange}

// Addr is a 128 bit address. IPv4 is kept in IPv4-mapped form.
type Addr [16]byte

// AnyAddr is the IPv4-mapped zero address, the initial value of
// both addresses of a search key.
var AnyAddr = Addr{10: 0xff, 11: 0xff}

// FullMask is an address mask with all bits set.
var FullMask = Addr{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// AddrFrom converts netip.Addr. IPv4 is mapped into IPv6 form.
func AddrFrom(a netip.Addr) Addr {
	return Addr(a.As16())
}

// AddrFromIP converts net.IP. Returns AnyAddr for an invalid ip.
func AddrFromIP(ip net.IP) Addr {
	if a, ok := netip.AddrFromSlice(ip); ok {
		return AddrFrom(a)
	}
	return AnyAddr
}

// AddrFromV4 builds an IPv4-mapped address from 4 bytes.
func AddrFromV4(b []byte) Addr {
	a := AnyAddr
	copy(a[12:], b[:4])
	return a
}

// Netip returns the address as netip.Addr, unmapping IPv4.
func (a Addr) Netip() netip.Addr {
	return netip.AddrFrom16(a).Unmap()
}

// IP returns the address as net.IP.
func (a Addr) IP() net.IP {
	return net.IP(a.Netip().AsSlice())
}

// Is4 reports whether the address is IPv4-mapped.
func (a Addr) Is4() bool {
	return netip.AddrFrom16(a).Is4In6()
}

func (a Addr) String() string {
	return a.Netip().String()
}

// And returns a & m.
func (a Addr) And(m Addr) Addr {
	for i := range a {
		a[i] &= m[i]
	}
	return a
}

// Or returns a | m.
func (a Addr) Or(m Addr) Addr {
	for i := range a {
		a[i] |= m[i]
	}
	return a
}

// Xor returns a ^ m.
func (a Addr) Xor(m Addr) Addr {
	for i := range a {
		a[i] ^= m[i]
	}
	return a
}

// Not returns ^a.
func (a Addr) Not() Addr {
	for i := range a {
		a[i] = ^a[i]
	}
	return a
}

// Compare compares two addresses as unsigned big-endian numbers.
func (a Addr) Compare(b Addr) int {
	return bytes.Compare(a[:], b[:])
}

// MatchKey is the record matched by selectors. The same layout is
// used for search keys, rule values and rule masks.
type MatchKey struct {
	Proto uint32
	Port  [2]uint16
	Addr  [2]Addr
}

// NewKey returns an empty search key for a direction flag
// (MatchInbound or MatchOutbound).
func NewKey(dir uint32) MatchKey {
	return MatchKey{
		Proto: dir & MatchDirection,
		Addr:  [2]Addr{AnyAddr, AnyAddr},
	}
}

// Protocol returns the IP protocol of the key.
func (k *MatchKey) Protocol() IPProto {
	return IPProto(k.Proto & MatchProto)
}

// And returns k masked by m, field by field.
func (k *MatchKey) And(m *MatchKey) MatchKey {
	return MatchKey{
		Proto: k.Proto & m.Proto,
		Port:  [2]uint16{k.Port[0] & m.Port[0], k.Port[1] & m.Port[1]},
		Addr:  [2]Addr{k.Addr[0].And(m.Addr[0]), k.Addr[1].And(m.Addr[1])},
	}
}

// WithDirection returns the key with its direction flag replaced
// by dir.
func (k *MatchKey) WithDirection(dir uint32) MatchKey {
	c := *k
	c.Proto = (c.Proto &^ MatchDirection) | (dir & MatchDirection)
	return c
}

func flagString(proto uint32) string {
	names := []struct {
		flag uint32
		name string
	}{
		{MatchInbound, "IN"},
		{MatchOutbound, "OUT"},
		{MatchPorts, "PORTS"},
		{MatchType, "TYPE"},
		{MatchLPortRange, "LPORT-RANGE"},
		{MatchRPortRange, "RPORT-RANGE"},
		{MatchLAddrRange, "LADDR-RANGE"},
		{MatchRAddrRange, "RADDR-RANGE"},
	}
	var s []string
	for _, n := range names {
		if proto&n.flag != 0 {
			s = append(s, n.name)
		}
	}
	return strings.Join(s, "|")
}

func (k MatchKey) String() string {
	return fmt.Sprintf("proto=%d flags=[%s] local=%v#%d remote=%v#%d",
		k.Proto&MatchProto, flagString(k.Proto),
		k.Addr[Local], k.Port[Local], k.Addr[Remote], k.Port[Remote])
}
