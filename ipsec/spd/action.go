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

package spd

import (
	"fmt"
	"strings"

	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/transform"
	"github.com/pkg/errors"
)

// PFP is the set of populate-from-packet flags of a policy.
type PFP uint8

// PFP flags.
const (
	PFPLocalAddr PFP = 1 << iota
	PFPRemoteAddr
	PFPLocalPort
	PFPRemotePort
	PFPProto
)

func (p PFP) String() string {
	names := []string{"LADDR", "RADDR", "LPORT", "RPORT", "PROTO"}
	var s []string
	for i, n := range names {
		if p&(1<<uint(i)) != 0 {
			s = append(s, n)
		}
	}
	if len(s) == 0 {
		return "NONE"
	}
	return strings.Join(s, "|")
}

// ParsePFP parses the FLAGS words of a policy action. PROTOCOL,
// PORT and ADDRESS set flags; PORT and ADDRESS set both sides unless
// preceded by LOCAL or REMOTE.
func ParsePFP(words []string) (PFP, error) {
	var pfp PFP
	mode := -1
	for _, w := range words {
		switch strings.ToUpper(w) {
		case "PROTOCOL":
			pfp |= PFPProto
		case "PORT":
			switch mode {
			case selector.Remote:
				pfp |= PFPRemotePort
			case selector.Local:
				pfp |= PFPLocalPort
			default:
				pfp |= PFPRemotePort | PFPLocalPort
			}
		case "ADDRESS":
			switch mode {
			case selector.Remote:
				pfp |= PFPRemoteAddr
			case selector.Local:
				pfp |= PFPLocalAddr
			default:
				pfp |= PFPRemoteAddr | PFPLocalAddr
			}
		case "LOCAL":
			mode = selector.Local
		case "REMOTE":
			mode = selector.Remote
		default:
			return 0, errors.Errorf("Unknown FLAGS keyword: %v", w)
		}
	}
	return pfp, nil
}

// Tunnel holds the outer addresses of a tunnel mode policy.
type Tunnel struct {
	Remote selector.Addr
	Local  selector.Addr
}

// ParseTunnel parses "remote [local]". Both addresses must be of the
// same family. A missing local address is the unspecified address.
func ParseTunnel(addrs []string) (*Tunnel, error) {
	if len(addrs) < 1 || len(addrs) > 2 {
		return nil, errors.New("TUNNEL requires remote and optional local address")
	}
	remote, err := selector.ParseAddr(addrs[0])
	if err != nil {
		return nil, err
	}
	t := &Tunnel{Remote: remote}
	if remote.Is4() {
		t.Local = selector.AnyAddr
	}
	if len(addrs) == 2 {
		if t.Local, err = selector.ParseAddr(addrs[1]); err != nil {
			return nil, err
		}
		if remote.Is4() != t.Local.Is4() {
			return nil, errors.New("Both TUNNEL addresses must be of same type -- IPv4 or IPv6")
		}
	}
	return t, nil
}

func (t *Tunnel) String() string {
	return fmt.Sprintf("%v <- %v", t.Remote, t.Local)
}

// PolicyAction is what a policy requires for matching traffic.
type PolicyAction struct {
	PFP      PFP
	Tunnel   *Tunnel // nil for transport mode
	Hard     transform.Lifetime
	Proposal transform.Proposal
}

// NewPolicyAction returns an action with unlimited lifetime.
func NewPolicyAction() PolicyAction {
	return PolicyAction{Hard: transform.Unlimited}
}

// TunnelMode returns true for a tunnel mode action.
func (a *PolicyAction) TunnelMode() bool {
	return a.Tunnel != nil
}

// Bypass returns true if no security processing is required.
func (a *PolicyAction) Bypass() bool {
	return len(a.Proposal) == 0
}

func (a PolicyAction) String() string {
	if a.Bypass() {
		return "bypass"
	}
	mode := "transport"
	if a.Tunnel != nil {
		mode = "tunnel " + a.Tunnel.String()
	}
	ts := make([]string, len(a.Proposal))
	for i, t := range a.Proposal {
		ts[i] = t.String()
	}
	return fmt.Sprintf("protect %s pfp %v proposal %s", mode, a.PFP, strings.Join(ts, ","))
}
