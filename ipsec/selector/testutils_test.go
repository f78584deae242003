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

func mustAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// newKey returns a search key with ports.
func newKey(dir uint32, proto IPProto, laddr string, lport uint16,
	raddr string, rport uint16) MatchKey {
	k := NewKey(dir)
	k.Proto |= uint32(proto)
	if proto.HasPorts() {
		k.Proto |= MatchPorts
	}
	k.Addr[Local] = mustAddr(laddr)
	k.Addr[Remote] = mustAddr(raddr)
	k.Port[Local] = lport
	k.Port[Remote] = rport
	return k
}

func mustParse(remote, local []string, dir string) Selector {
	s, err := Parse(remote, local, dir)
	if err != nil {
		panic(err)
	}
	return s
}
