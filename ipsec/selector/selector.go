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
	"fmt"
	"strings"
)

// Item is one selector component. Each field of a search key is
// tested against Val/Msk either as (key & Msk) == Val or, when the
// range flag of the field is set in Val.Proto, as Val <= key <= Msk.
type Item struct {
	Val MatchKey
	Msk MatchKey
}

// Match tests key against the item.
func (it *Item) Match(key *MatchKey) bool {
	if it.Val.Proto&MatchRange == 0 {
		return key.And(&it.Msk) == it.Val
	}
	return it.matchFields(key)
}

func (it *Item) matchFields(key *MatchKey) bool {
	if key.Proto&it.Msk.Proto != it.Val.Proto&^MatchRange {
		return false
	}
	for _, side := range [...]int{Local, Remote} {
		if it.Val.Proto&portRangeFlag[side] != 0 {
			if key.Port[side] < it.Val.Port[side] || key.Port[side] > it.Msk.Port[side] {
				return false
			}
		} else if key.Port[side]&it.Msk.Port[side] != it.Val.Port[side] {
			return false
		}
	}
	for _, side := range [...]int{Local, Remote} {
		if it.Val.Proto&addrRangeFlag[side] != 0 {
			if key.Addr[side].Compare(it.Val.Addr[side]) < 0 ||
				key.Addr[side].Compare(it.Msk.Addr[side]) > 0 {
				return false
			}
		} else if key.Addr[side].And(it.Msk.Addr[side]) != it.Val.Addr[side] {
			return false
		}
	}
	return true
}

func (it Item) String() string {
	side := func(i int) string {
		var a, p string
		if it.Val.Proto&addrRangeFlag[i] != 0 {
			a = fmt.Sprintf("%v-%v", it.Val.Addr[i], it.Msk.Addr[i])
		} else {
			a = fmt.Sprintf("%v&%v", it.Val.Addr[i], it.Msk.Addr[i])
		}
		if it.Val.Proto&portRangeFlag[i] != 0 {
			p = fmt.Sprintf("%d-%d", it.Val.Port[i], it.Msk.Port[i])
		} else {
			p = fmt.Sprintf("%d&%#x", it.Val.Port[i], it.Msk.Port[i])
		}
		return a + "#" + p
	}
	return fmt.Sprintf("{proto %d&%#x [%s] local %s remote %s}",
		it.Val.Proto&MatchProto, it.Msk.Proto&MatchProto, flagString(it.Val.Proto),
		side(Local), side(Remote))
}

// Selector is a conjunction of items. An empty Selector matches
// every key.
type Selector []Item

// Match returns true if every item matches key.
func (s Selector) Match(key *MatchKey) bool {
	for i := range s {
		if !s[i].Match(key) {
			return false
		}
	}
	return true
}

// Clone returns a copy of the selector which shares nothing with s.
func (s Selector) Clone() Selector {
	if s == nil {
		return nil
	}
	c := make(Selector, len(s))
	copy(c, s)
	return c
}

func (s Selector) String() string {
	if len(s) == 0 {
		return "any"
	}
	items := make([]string, len(s))
	for i, it := range s {
		items[i] = it.String()
	}
	return strings.Join(items, " ")
}
