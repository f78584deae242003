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

package selector

import (
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseAddr parses an IPv4 or IPv6 address into mapped form.
func ParseAddr(s string) (Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return Addr{}, errors.Errorf("Invalid IP address: %v", s)
	}
	return AddrFrom(a), nil
}

// PrefixMask returns the mask of an address prefix. For IPv4 the
// 96 bits of the mapping are included in the mask.
func PrefixMask(bits int, is4 bool) Addr {
	if is4 {
		bits += 96
	}
	var m Addr
	for i := 0; i < bits && i < 128; i++ {
		m[i/8] |= 0x80 >> uint(i%8)
	}
	return m
}

func parseAddrExpr(s string) (val, msk Addr, ranged bool, err error) {
	rng := strings.IndexByte(s, '-')
	and := strings.IndexByte(s, '&')
	switch {
	case rng >= 0 && and >= 0:
		err = errors.Errorf("Cannot have both '-' and '&' in address expression: %v", s)
		return
	case rng >= 0 || and >= 0:
		split := rng
		if split < 0 {
			split = and
		}
		if val, err = ParseAddr(s[:split]); err != nil {
			return
		}
		if msk, err = ParseAddr(s[split+1:]); err != nil {
			return
		}
		if val.Is4() != msk.Is4() {
			err = errors.Errorf("Mixed address families: %v", s)
			return
		}
		if rng >= 0 {
			ranged = true
			return
		}
		if msk.Is4() {
			msk = msk.Or(PrefixMask(0, true))
		}
	case strings.IndexByte(s, '/') >= 0:
		var p netip.Prefix
		if p, err = netip.ParsePrefix(s); err != nil {
			err = errors.Errorf("Invalid address prefix: %v", s)
			return
		}
		val = AddrFrom(p.Addr())
		msk = PrefixMask(p.Bits(), p.Addr().Is4())
	default:
		if val, err = ParseAddr(s); err != nil {
			return
		}
		msk = FullMask
	}
	val = val.And(msk)
	return
}

func parseNumber(s string, proto IPProto) (uint16, error) {
	if n, err := strconv.ParseUint(s, 0, 16); err == nil {
		return uint16(n), nil
	}
	var network string
	switch proto {
	case IPP_TCP:
		network = "tcp"
	case IPP_UDP, IPP_UDPLITE:
		network = "udp"
	case IPP_SCTP:
		network = "sctp"
	default:
		return 0, errors.Errorf("Invalid port: %v", s)
	}
	port, err := net.LookupPort(network, s)
	if err != nil {
		return 0, errors.Errorf("Invalid port: %v", s)
	}
	return uint16(port), nil
}

// parseType parses "type" or "type/code". Type goes to the high
// byte, the way the classifier stores it.
func parseType(s string) (val, msk uint16, err error) {
	ts := strings.SplitN(s, "/", 2)
	t, err := strconv.ParseUint(ts[0], 10, 8)
	if err != nil {
		return 0, 0, errors.Errorf("Invalid type: %v", s)
	}
	if len(ts) == 1 {
		return uint16(t) << 8, 0xff00, nil
	}
	c, err := strconv.ParseUint(ts[1], 10, 8)
	if err != nil {
		return 0, 0, errors.Errorf("Invalid code: %v", s)
	}
	return uint16(t)<<8 | uint16(c), 0xffff, nil
}

func parsePorts(s string, side int, proto IPProto, it *Item) error {
	isType := proto.HasTypes()
	if isType {
		if side != Local {
			return errors.New("ICMP or MH type selector is only allowed for LOCAL selector")
		}
		if it.Val.Proto&MatchPorts != 0 {
			return errors.New("Cannot mix port and ICMP/MH type selectors")
		}
		it.Val.Proto |= MatchType
		it.Msk.Proto |= MatchType
	} else {
		if it.Val.Proto&MatchType != 0 {
			return errors.New("Cannot mix port and ICMP/MH type selectors")
		}
		it.Val.Proto |= MatchPorts
		it.Msk.Proto |= MatchPorts
	}

	if i := strings.IndexByte(s, '-'); i >= 0 {
		var lo, hi uint16
		var err error
		if isType {
			if lo, _, err = parseType(s[:i]); err != nil {
				return err
			}
			if hi, _, err = parseType(s[i+1:]); err != nil {
				return err
			}
			hi |= 0xff
		} else {
			if lo, err = parseNumber(s[:i], proto); err != nil {
				return err
			}
			if hi, err = parseNumber(s[i+1:], proto); err != nil {
				return err
			}
		}
		if lo > hi {
			return errors.Errorf("bad low(%v) > high(%v)", lo, hi)
		}
		it.Val.Port[side] = lo
		it.Msk.Port[side] = hi
		it.Val.Proto |= portRangeFlag[side]
		return nil
	}

	if isType {
		v, m, err := parseType(s)
		if err != nil {
			return err
		}
		it.Val.Port[side] = v
		it.Msk.Port[side] = m
		return nil
	}

	if i := strings.IndexByte(s, '&'); i >= 0 {
		v, err := parseNumber(s[:i], proto)
		if err != nil {
			return err
		}
		m, err := strconv.ParseUint(s[i+1:], 0, 16)
		if err != nil {
			return errors.Errorf("Invalid port mask: %v", s)
		}
		it.Val.Port[side] = v & uint16(m)
		it.Msk.Port[side] = uint16(m)
		return nil
	}

	v, err := parseNumber(s, proto)
	if err != nil {
		return err
	}
	it.Val.Port[side] = v
	it.Msk.Port[side] = 0xffff
	return nil
}

// ParseMatcher parses one matcher expression into the Remote or
// Local side of it:
//
//	[addr | addr/prefix | addr&mask | addrlo-addrhi][#[proto:][ports]]
//
// where ports is port, port&mask or portlo-porthi. For ICMP, ICMPv6
// and MH, ports are message types (type or type/code) and only allowed
// on the Local side.
func ParseMatcher(s string, side int, it *Item) error {
	if side != Remote && side != Local {
		return errors.New("Invalid args")
	}

	addr, prot, hasProt := strings.Cut(s, "#")
	if addr != "" {
		val, msk, ranged, err := parseAddrExpr(addr)
		if err != nil {
			return err
		}
		it.Val.Addr[side] = val
		it.Msk.Addr[side] = msk
		if ranged {
			it.Val.Proto |= addrRangeFlag[side]
		}
	}
	if !hasProt {
		return nil
	}

	proto := it.Val.Protocol()
	name, ports, hasName := strings.Cut(prot, ":")
	if !hasName {
		ports = prot
	} else {
		p, err := ParseIPProto(name)
		if err != nil {
			return err
		}
		if it.Msk.Proto&MatchProto != 0 && p != proto {
			return errors.New("Cannot have different protocol for LOCAL and REMOTE")
		}
		proto = p
		it.Val.Proto |= uint32(p)
		it.Msk.Proto |= MatchProto
	}
	if ports == "" {
		return nil
	}
	return parsePorts(ports, side, proto, it)
}

// ParseDirection parses "IN" or "OUT" into a direction flag. An empty
// string means both directions and returns 0.
func ParseDirection(dir string) (uint32, error) {
	switch strings.ToUpper(dir) {
	case "":
		return 0, nil
	case "IN":
		return MatchInbound, nil
	case "OUT":
		return MatchOutbound, nil
	}
	return 0, errors.Errorf("Unrecognized DIRECTION argument: %v", dir)
}

// Parse builds a selector from remote and local matcher lists which
// are paired by index. The number of items is the length of the
// longer list. A direction limits every item; a direction without
// matchers gives a single item testing only the direction.
func Parse(remote, local []string, dir string) (Selector, error) {
	d, err := ParseDirection(dir)
	if err != nil {
		return nil, err
	}
	initial := Item{}
	if d != 0 {
		initial.Val.Proto |= d
		initial.Msk.Proto |= MatchDirection
	}

	n := len(remote)
	if len(local) > n {
		n = len(local)
	}
	if n == 0 {
		if d == 0 {
			return Selector{}, nil
		}
		return Selector{initial}, nil
	}

	sel := make(Selector, n)
	for i := range sel {
		sel[i] = initial
		if i < len(remote) {
			if err := ParseMatcher(remote[i], Remote, &sel[i]); err != nil {
				return nil, errors.Wrapf(err, "remote %v", remote[i])
			}
		}
		if i < len(local) {
			if err := ParseMatcher(local[i], Local, &sel[i]); err != nil {
				return nil, errors.Wrapf(err, "local %v", local[i])
			}
		}
	}
	return sel, nil
}
