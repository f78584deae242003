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

// Package classifier builds search keys from packets and extracts
// the SPI of inbound ESP and AH packets.
package classifier

import (
	"encoding/binary"

	"github.com/lagopus/ipsecd/ipsec/packet"
	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Errors.
var (
	ErrNoNetworkHeader = errors.New("No network header")
	ErrDirection       = errors.New("Invalid direction")
	ErrMalformed       = errors.New("Malformed network header")
)

type network struct {
	src   selector.Addr
	dst   selector.Addr
	hlen  int
	proto selector.IPProto
}

func parseNetwork(nh []byte) (*network, error) {
	if len(nh) == 0 {
		return nil, ErrNoNetworkHeader
	}
	switch nh[0] >> 4 {
	case ipv4.Version:
		h, err := ipv4.ParseHeader(nh)
		if err != nil || h.Len < ipv4.HeaderLen {
			return nil, ErrMalformed
		}
		return &network{
			src:   selector.AddrFromIP(h.Src),
			dst:   selector.AddrFromIP(h.Dst),
			hlen:  h.Len,
			proto: selector.IPProto(h.Protocol),
		}, nil
	case ipv6.Version:
		h, err := ipv6.ParseHeader(nh)
		if err != nil {
			return nil, ErrMalformed
		}
		return &network{
			src:   selector.AddrFromIP(h.Src),
			dst:   selector.AddrFromIP(h.Dst),
			hlen:  ipv6.HeaderLen,
			proto: selector.IPProto(h.NextHeader),
		}, nil
	}
	return nil, ErrMalformed
}

func isExtension(p selector.IPProto) bool {
	switch p {
	case selector.IPP_HOPOPTS, selector.IPP_ROUTING, selector.IPP_DSTOPTS:
		return true
	}
	return false
}

// Classify returns the search key of pkt traveling in dir. The
// source of an outbound packet is LOCAL, of an inbound one REMOTE.
// A truncated upper layer header leaves the ports unset.
func Classify(pkt *packet.Packet, dir selector.Direction) (selector.MatchKey, error) {
	var key selector.MatchKey
	if !dir.Valid() {
		return key, ErrDirection
	}
	nh := pkt.NetworkHeader()
	if nh == nil {
		return key, ErrNoNetworkHeader
	}
	n, err := parseNetwork(nh)
	if err != nil {
		return key, err
	}

	flip := selector.Local
	if dir == selector.Inbound {
		flip = selector.Remote
	}
	key = selector.NewKey(uint32(dir))
	key.Addr[flip] = n.src
	key.Addr[1-flip] = n.dst

	proto := n.proto
	off, hlen := 0, n.hlen
walk:
	for {
		off += hlen
		h := nh[min(off, len(nh)):]

		switch proto {
		case selector.IPP_HOPOPTS, selector.IPP_ROUTING, selector.IPP_DSTOPTS:
			if len(h) < 2 {
				break walk
			}
			proto = selector.IPProto(h[0])
			hlen = (int(h[1]) + 1) * 8
		case selector.IPP_ICMP, selector.IPP_ICMPV6:
			if len(h) < 2 {
				break walk
			}
			key.Port[selector.Local] = uint16(h[0])<<8 | uint16(h[1])
			key.Proto |= selector.MatchType
			break walk
		case selector.IPP_MH:
			if len(h) < 3 {
				break walk
			}
			key.Port[selector.Local] = uint16(h[2]) << 8
			key.Proto |= selector.MatchType
			break walk
		case selector.IPP_TCP, selector.IPP_UDP, selector.IPP_SCTP, selector.IPP_UDPLITE:
			if len(h) < 4 {
				break walk
			}
			key.Port[flip] = binary.BigEndian.Uint16(h[0:2])
			key.Port[1-flip] = binary.BigEndian.Uint16(h[2:4])
			key.Proto |= selector.MatchPorts
			break walk
		default:
			// fragment, ESP, AH and others are opaque
			break walk
		}
	}
	key.Proto |= uint32(proto)
	return key, nil
}

// SPI returns the SPI of an ESP or AH packet. ok is false when pkt
// is not an IPsec packet.
func SPI(pkt *packet.Packet) (spi uint32, ok bool, err error) {
	nh := pkt.NetworkHeader()
	if nh == nil {
		return 0, false, ErrNoNetworkHeader
	}
	n, err := parseNetwork(nh)
	if err != nil {
		return 0, false, err
	}

	proto := n.proto
	off, hlen := 0, n.hlen
	for {
		off += hlen
		h := nh[min(off, len(nh)):]

		switch {
		case isExtension(proto):
			if len(h) < 2 {
				return 0, false, ErrMalformed
			}
			proto = selector.IPProto(h[0])
			hlen = (int(h[1]) + 1) * 8
		case proto == selector.IPP_ESP:
			if len(h) < 4 {
				return 0, false, ErrMalformed
			}
			return binary.BigEndian.Uint32(h[0:4]), true, nil
		case proto == selector.IPP_AH:
			if len(h) < 8 {
				return 0, false, ErrMalformed
			}
			return binary.BigEndian.Uint32(h[4:8]), true, nil
		default:
			return 0, false, nil
		}
	}
}
