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

// Package sad is the security association database: outbound SAs
// listed per policy, newest first, and inbound SAs hashed by SPI.
//
// Lists are only prepended to. A node is fully initialized before it
// is published by an atomic store of the list head, so readers walk
// the lists without locking.
package sad

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/spd"
)

// List is the outbound SA list of one policy.
type List struct {
	lock sync.Mutex
	head atomic.Pointer[Association]
}

// Lock locks the list for Push.
func (l *List) Lock() {
	l.lock.Lock()
}

// Unlock unlocks the list.
func (l *List) Unlock() {
	l.lock.Unlock()
}

// Head returns the newest SA.
func (l *List) Head() *Association {
	return l.head.Load()
}

// Push prepends sa. The list lock must be held.
func (l *List) Push(sa *Association) {
	sa.next.Store(l.head.Load())
	l.head.Store(sa)
}

// Lookup returns the first SA from head matching dst, src and key.
func Lookup(dst, src selector.Addr, key *selector.MatchKey, head *Association) *Association {
	for sa := head; sa != nil; sa = sa.Next() {
		if sa.Match(dst, src, key) {
			return sa
		}
	}
	return nil
}

// Store holds every SA.
type Store struct {
	db       *spd.DB
	outbound []List

	inboundLock sync.Mutex
	inbound     []atomic.Pointer[Association]
	cursor      uint32 // last allocated SPI
}

// NewStore returns an empty store for the policies of db. The inbound
// table has DefaultBuckets buckets if buckets is not positive.
func NewStore(db *spd.DB, buckets int) *Store {
	if buckets <= 0 {
		buckets = DefaultBuckets
	}
	return &Store{
		db:       db,
		outbound: make([]List, db.Len()),
		inbound:  make([]atomic.Pointer[Association], buckets),
	}
}

// DB returns the SPD of the store.
func (s *Store) DB() *spd.DB {
	return s.db
}

// Buckets returns the size of the inbound table.
func (s *Store) Buckets() int {
	return len(s.inbound)
}

// Outbound returns the SA list of policy, or nil if the policy is not
// in the SPD of the store.
func (s *Store) Outbound(policy *spd.PolicyItem) *List {
	if policy == nil || s.db.Item(policy.Index()) != policy {
		return nil
	}
	return &s.outbound[policy.Index()]
}

// LookupByID returns the outbound SA negotiated as id.
func (s *Store) LookupByID(id KMSeq) *Association {
	for i := range s.outbound {
		for sa := s.outbound[i].Head(); sa != nil; sa = sa.Next() {
			if sa.ID == id {
				return sa
			}
		}
	}
	return nil
}

func (s *Store) bucket(spi uint32) *atomic.Pointer[Association] {
	return &s.inbound[spi%uint32(len(s.inbound))]
}

// LookupBySPI returns the inbound SA of spi.
func (s *Store) LookupBySPI(spi uint32) *Association {
	for sa := s.bucket(spi).Load(); sa != nil; sa = sa.Next() {
		if sa.SPI() == spi {
			return sa
		}
	}
	return nil
}

// addInbound links sa at the head of its bucket. The inbound lock
// must be held.
func (s *Store) addInbound(sa *Association) {
	b := s.bucket(sa.SPI())
	sa.next.Store(b.Load())
	b.Store(sa)
}

// AddInbound adds an inbound SA with an SPI already chosen.
func (s *Store) AddInbound(sa *Association) error {
	s.inboundLock.Lock()
	defer s.inboundLock.Unlock()

	if sa.SPI() == InvalidSPI {
		return ErrSPIRange
	}
	if s.LookupBySPI(sa.SPI()) != nil {
		return ErrSPIInUse
	}
	s.addInbound(sa)
	return nil
}

// AllocateSPI reserves a free SPI in [low, high] and adds the SA
// returned by build for it. SPI 0 is never allocated. The search
// starts after the previously allocated SPI when it lies in range, so
// successive calls return increasing SPIs until the range wraps.
func (s *Store) AllocateSPI(low, high uint32, build func(spi uint32) *Association) (*Association, error) {
	if low > 0 {
		low--
	}
	if low >= high {
		return nil, ErrSPIRange
	}

	s.inboundLock.Lock()
	defer s.inboundLock.Unlock()

	if s.cursor == math.MaxUint32 {
		s.cursor = 0
	}
	spi := low
	if low <= s.cursor && s.cursor < high {
		spi = s.cursor
	}

	found := false
	for n := high - low; n > 0; n-- {
		spi++
		if s.LookupBySPI(spi) == nil {
			found = true
			break
		}
		if spi == high {
			spi = low
		}
	}
	if !found {
		return nil, ErrSPIExhausted
	}

	if spi > s.cursor && s.cursor < high {
		s.cursor = spi
	}
	sa := build(spi)
	s.addInbound(sa)
	return sa, nil
}

// WalkOutbound calls fn for every outbound SA, policy by policy,
// newest first. Walking stops when fn returns false.
func (s *Store) WalkOutbound(fn func(*Association) bool) {
	for i := range s.outbound {
		for sa := s.outbound[i].Head(); sa != nil; sa = sa.Next() {
			if !fn(sa) {
				return
			}
		}
	}
}

// WalkInbound calls fn for every inbound SA, bucket by bucket.
// Walking stops when fn returns false.
func (s *Store) WalkInbound(fn func(*Association) bool) {
	for i := range s.inbound {
		for sa := s.inbound[i].Load(); sa != nil; sa = sa.Next() {
			if !fn(sa) {
				return
			}
		}
	}
}

// Close releases the transform context of every Mature SA and
// returns the number released. The SAs stay in the store.
func (s *Store) Close() int {
	n := 0
	release := func(sa *Association) bool {
		if sa.Release() {
			n++
		}
		return true
	}
	s.WalkOutbound(release)
	s.WalkInbound(release)
	return n
}
