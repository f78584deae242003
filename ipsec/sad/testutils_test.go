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

package sad

import (
	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/spd"
	"github.com/lagopus/ipsecd/ipsec/transform"
)

func mustAddr(s string) selector.Addr {
	a, err := selector.ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// newDB returns an SPD with n policies matching everything.
func newDB(n int) *spd.DB {
	b := spd.NewBuilder()
	for i := 0; i < n; i++ {
		a := spd.NewPolicyAction()
		a.Proposal = transform.Proposal{&transform.Transform{Protocol: transform.ProtoESP}}
		if _, err := b.Add(selector.Selector{}, a); err != nil {
			panic(err)
		}
	}
	return b.Freeze()
}

func udpKey(lport, rport uint16) selector.MatchKey {
	k := selector.NewKey(selector.MatchOutbound)
	k.Proto |= uint32(selector.IPP_UDP) | selector.MatchPorts
	k.Addr[selector.Local] = mustAddr("192.0.2.1")
	k.Addr[selector.Remote] = mustAddr("198.51.100.1")
	k.Port[selector.Local] = lport
	k.Port[selector.Remote] = rport
	return k
}

type nopContext struct{}

func (nopContext) Release() {}

type releaseFunc func()

func (f releaseFunc) Release() { f() }
