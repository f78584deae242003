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

import "encoding/binary"

// span is one field of an item widened to 128 bits: either a
// value/mask pair or a lo/hi range. Ports and protocol are placed in
// the low bytes with the unused high bytes of a mask set, so that
// every field kind compares the same way.
type span struct {
	ranged bool
	a, b   Addr
}

func widen(v uint32, m uint32, size int) (Addr, Addr) {
	var a, b Addr
	b = FullMask
	binary.BigEndian.PutUint32(a[12:], v)
	binary.BigEndian.PutUint32(b[12:], m)
	for i := 12; i < 16-size; i++ {
		b[i] = 0xff
	}
	return a, b
}

func protoSpan(it *Item) span {
	a, b := widen(it.Val.Proto&^MatchRange, it.Msk.Proto, 4)
	return span{a: a, b: b}
}

func portSpan(it *Item, side int) span {
	ranged := it.Val.Proto&portRangeFlag[side] != 0
	if ranged {
		var lo, hi Addr
		binary.BigEndian.PutUint16(lo[14:], it.Val.Port[side])
		binary.BigEndian.PutUint16(hi[14:], it.Msk.Port[side])
		return span{ranged: true, a: lo, b: hi}
	}
	a, b := widen(uint32(it.Val.Port[side]), uint32(it.Msk.Port[side]), 2)
	return span{a: a, b: b}
}

func addrSpan(it *Item, side int) span {
	return span{
		ranged: it.Val.Proto&addrRangeFlag[side] != 0,
		a:      it.Val.Addr[side],
		b:      it.Msk.Addr[side],
	}
}

func (s span) empty() bool {
	if s.ranged {
		return s.a.Compare(s.b) > 0
	}
	return s.a.And(s.b.Not()) != Addr{}
}

// bounds returns the smallest and the largest value in the span.
func (s span) bounds() (Addr, Addr) {
	if s.ranged {
		return s.a, s.b
	}
	return s.a, s.a.Or(s.b.Not())
}

// isPrefix reports whether m is a run of ones followed by zeros.
func isPrefix(m Addr) bool {
	zero := false
	for _, b := range m {
		for bit := 7; bit >= 0; bit-- {
			set := b&(1<<uint(bit)) != 0
			if zero && set {
				return false
			}
			if !set {
				zero = true
			}
		}
	}
	return true
}

// within reports whether every value of s is also in o.
func (s span) within(o span) bool {
	if o.ranged {
		lo, hi := s.bounds()
		return o.a.Compare(lo) <= 0 && hi.Compare(o.b) <= 0
	}
	if !s.ranged {
		// every bit tested by o must be tested by s with the same value
		return o.b.And(s.b.Not()) == Addr{} && s.a.And(o.b) == o.a
	}
	if s.a == s.b {
		return s.a.And(o.b) == o.a
	}
	if !isPrefix(o.b) {
		return false
	}
	lo, hi := o.bounds()
	return lo.Compare(s.a) <= 0 && s.b.Compare(hi) <= 0
}

func (it *Item) spans() [5]span {
	return [5]span{
		protoSpan(it),
		portSpan(it, Local),
		portSpan(it, Remote),
		addrSpan(it, Local),
		addrSpan(it, Remote),
	}
}

// Empty reports whether no key can match the item. A key has exactly
// one direction, so an item requiring both never matches.
func (it *Item) Empty() bool {
	if it.Val.Proto&it.Msk.Proto&MatchDirection == MatchDirection {
		return true
	}
	for _, s := range it.spans() {
		if s.empty() {
			return true
		}
	}
	return false
}

// Within reports whether every key matching it also matches o.
func (it *Item) Within(o *Item) bool {
	inner := it.spans()
	outer := o.spans()
	for i := range inner {
		if !inner[i].within(outer[i]) {
			return false
		}
	}
	return true
}

func bitAt(a Addr, i int) bool {
	return a[i/8]&(0x80>>uint(i%8)) != 0
}

func setBit(a *Addr, i int, on bool) {
	if on {
		a[i/8] |= 0x80 >> uint(i%8)
	} else {
		a[i/8] &^= 0x80 >> uint(i%8)
	}
}

// firstMasked returns the smallest x not below lo with x&m == v.
func firstMasked(lo, v, m Addr) (Addr, bool) {
	p := -1
	for i := 0; i < 128; i++ {
		if bitAt(m, i) && bitAt(v, i) != bitAt(lo, i) {
			p = i
			break
		}
	}
	if p < 0 {
		return lo, true
	}
	x := lo
	if !bitAt(v, p) {
		// carry into the lowest free bit above p that is clear in lo
		j := p - 1
		for ; j >= 0; j-- {
			if !bitAt(m, j) && !bitAt(lo, j) {
				break
			}
		}
		if j < 0 {
			return Addr{}, false
		}
		setBit(&x, j, true)
		p = j
	}
	for i := p; i < 128; i++ {
		if bitAt(m, i) {
			setBit(&x, i, bitAt(v, i))
		} else if i > p {
			setBit(&x, i, false)
		}
	}
	return x, true
}

// meetEmpty reports whether no value lies in all of the spans.
func meetEmpty(spans []span) bool {
	var v, m, lo Addr
	hi := FullMask
	for _, s := range spans {
		if s.empty() {
			return true
		}
		if s.ranged {
			if s.a.Compare(lo) > 0 {
				lo = s.a
			}
			if s.b.Compare(hi) < 0 {
				hi = s.b
			}
			continue
		}
		if v.Xor(s.a).And(m).And(s.b) != (Addr{}) {
			return true
		}
		v, m = v.Or(s.a), m.Or(s.b)
	}
	if lo.Compare(hi) > 0 {
		return true
	}
	x, ok := firstMasked(lo, v, m)
	return !ok || x.Compare(hi) > 0
}

// Empty reports whether no key can match all items of s together.
func (s Selector) Empty() bool {
	for i := range s {
		if s[i].Empty() {
			return true
		}
	}
	fields := make([]span, len(s))
	for f := 0; f < 5; f++ {
		for i := range s {
			fields[i] = s[i].spans()[f]
		}
		if meetEmpty(fields) {
			return true
		}
	}
	return false
}

// Subset reports whether s is a non-empty subset of policy, i.e.
// every key matching s also matches policy. The test is
// conservative: each item of policy must contain at least one item
// of s. A false result may be returned for some exotic selectors
// which are in fact subsets.
func (s Selector) Subset(policy Selector) bool {
	if len(s) == 0 {
		return len(policy) == 0
	}
	if s.Empty() {
		return false
	}
	for i := range policy {
		found := false
		for j := range s {
			if s[j].Within(&policy[i]) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
