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
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// IPProto IP protocol number.
type IPProto uint8

// IANA protocol numbers used by selectors and the classifier.
const (
	IPP_HOPOPTS  IPProto = 0
	IPP_ICMP     IPProto = 1
	IPP_TCP      IPProto = 6
	IPP_UDP      IPProto = 17
	IPP_ROUTING  IPProto = 43
	IPP_FRAGMENT IPProto = 44
	IPP_ESP      IPProto = 50
	IPP_AH       IPProto = 51
	IPP_ICMPV6   IPProto = 58
	IPP_DSTOPTS  IPProto = 60
	IPP_COMP     IPProto = 108
	IPP_SCTP     IPProto = 132
	IPP_MH       IPProto = 135
	IPP_UDPLITE  IPProto = 136
)

var ipprotoNames = map[IPProto]string{
	IPP_HOPOPTS:  "HOPOPTS",
	IPP_ICMP:     "ICMP",
	IPP_TCP:      "TCP",
	IPP_UDP:      "UDP",
	IPP_ROUTING:  "ROUTING",
	IPP_FRAGMENT: "FRAGMENT",
	IPP_ESP:      "ESP",
	IPP_AH:       "AH",
	IPP_ICMPV6:   "ICMPV6",
	IPP_DSTOPTS:  "DSTOPTS",
	IPP_COMP:     "COMP",
	IPP_SCTP:     "SCTP",
	IPP_MH:       "MH",
	IPP_UDPLITE:  "UDPLITE",
}

// aliases accepted by ParseIPProto in addition to the names above.
var ipprotoAliases = map[string]IPProto{
	"ICMP6":     IPP_ICMPV6,
	"IPV6-ICMP": IPP_ICMPV6,
	"IPCOMP":    IPP_COMP,
	"MOBILITY":  IPP_MH,
}

func (ipp IPProto) String() string {
	if s, ok := ipprotoNames[ipp]; ok {
		return s
	}
	return strconv.Itoa(int(ipp))
}

// HasTypes reports whether the protocol carries a message type
// instead of ports (ICMP, ICMPv6 and Mobility Header).
func (ipp IPProto) HasTypes() bool {
	return ipp == IPP_ICMP || ipp == IPP_ICMPV6 || ipp == IPP_MH
}

// HasPorts reports whether the protocol carries a source and
// destination port in its first four bytes.
func (ipp IPProto) HasPorts() bool {
	switch ipp {
	case IPP_TCP, IPP_UDP, IPP_SCTP, IPP_UDPLITE:
		return true
	}
	return false
}

// ParseIPProto parses a protocol name (case insensitive) or number.
func ParseIPProto(s string) (IPProto, error) {
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		return IPProto(n), nil
	}
	name := strings.ToUpper(s)
	for p, n := range ipprotoNames {
		if n == name {
			return p, nil
		}
	}
	if p, ok := ipprotoAliases[name]; ok {
		return p, nil
	}
	return 0, errors.Errorf("Unknown protocol: %v", s)
}
