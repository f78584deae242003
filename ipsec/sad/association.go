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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/spd"
	"github.com/lagopus/ipsecd/ipsec/transform"
)

// Association is one SA.
//
// The exported fields never change after creation. SPI, state and
// the narrowed selector are published atomically. Context, pipeline
// and lifetimes are written under the SA lock before the state
// becomes Mature.
type Association struct {
	ID        KMSeq
	Policy    *spd.PolicyItem
	Src       selector.Addr
	Dst       selector.Addr
	Direction selector.Direction
	PFP       selector.Item

	lock     sync.Mutex
	spi      atomic.Uint32
	state    atomic.Uint32
	narrowed atomic.Pointer[selector.Selector]
	seq      atomic.Uint64
	released atomic.Bool

	ctx      transform.Context
	pipeline int
	age      transform.Lifetime
	soft     transform.Lifetime

	next atomic.Pointer[Association]
}

// NewAssociation returns a Larval SA.
func NewAssociation(id KMSeq, policy *spd.PolicyItem, src, dst selector.Addr,
	dir selector.Direction, pfp selector.Item, spi uint32) *Association {
	sa := &Association{
		ID:        id,
		Policy:    policy,
		Src:       src,
		Dst:       dst,
		Direction: dir,
		PFP:       pfp,
		pipeline:  -1,
	}
	if policy != nil {
		sa.soft = policy.Action.Hard
	}
	sa.spi.Store(spi)
	sa.state.Store(uint32(Larval))
	return sa
}

// Lock locks the SA for completion.
func (sa *Association) Lock() {
	sa.lock.Lock()
}

// Unlock unlocks the SA.
func (sa *Association) Unlock() {
	sa.lock.Unlock()
}

// SPI returns the SPI, InvalidSPI while unassigned.
func (sa *Association) SPI() uint32 {
	return sa.spi.Load()
}

// State returns the state.
func (sa *Association) State() SAState {
	return SAState(sa.state.Load())
}

// Narrowed returns the narrowed selector or nil.
func (sa *Association) Narrowed() selector.Selector {
	if p := sa.narrowed.Load(); p != nil {
		return *p
	}
	return nil
}

// Seq returns the sequence counter.
func (sa *Association) Seq() uint64 {
	return sa.seq.Load()
}

// NextSeq increments the sequence counter and returns the new value.
func (sa *Association) NextSeq() uint64 {
	return sa.seq.Add(1)
}

// Context returns the transform context of a Mature SA, or nil.
func (sa *Association) Context() transform.Context {
	if sa.State() != Mature {
		return nil
	}
	return sa.ctx
}

// Release releases the transform context of a Mature SA. Only the
// first call has an effect. It returns true if a context was released.
func (sa *Association) Release() bool {
	if sa.State() != Mature || sa.ctx == nil {
		return false
	}
	if !sa.released.CompareAndSwap(false, true) {
		return false
	}
	sa.ctx.Release()
	return true
}

// Pipeline returns the index of the pipeline of a Mature SA in its
// direction's pipeline set, or -1.
func (sa *Association) Pipeline() int {
	if sa.State() != Mature {
		return -1
	}
	return sa.pipeline
}

// Soft returns the soft lifetime.
func (sa *Association) Soft() transform.Lifetime {
	sa.lock.Lock()
	defer sa.lock.Unlock()
	return sa.soft
}

// Age returns the current age.
func (sa *Association) Age() transform.Lifetime {
	sa.lock.Lock()
	defer sa.lock.Unlock()
	return sa.age
}

// Match returns true if the SA was negotiated for the packet
// described by dst, src and key.
func (sa *Association) Match(dst, src selector.Addr, key *selector.MatchKey) bool {
	if sa.Dst != dst || sa.Src != src {
		return false
	}
	if !sa.PFP.Match(key) {
		return false
	}
	return sa.Narrowed().Match(key)
}

// Mature installs the negotiated state and publishes the SA as
// Mature. The SA lock must be held. The narrowed selector is copied.
func (sa *Association) Mature(spi uint32, ctx transform.Context, pipeline int,
	soft transform.Lifetime, narrowed selector.Selector) {
	sa.ctx = ctx
	sa.pipeline = pipeline
	sa.soft = soft
	sa.age = transform.Lifetime{}
	if narrowed != nil {
		n := narrowed.Clone()
		sa.narrowed.Store(&n)
	}
	sa.seq.Store(1)
	sa.spi.Store(spi)
	sa.state.Store(uint32(Mature))
}

// Next returns the next SA in the same list.
func (sa *Association) Next() *Association {
	return sa.next.Load()
}

// Endpoints returns the outer addresses.
func (sa *Association) Endpoints() (src, dst selector.Addr) {
	return sa.Src, sa.Dst
}

// TunnelMode returns true if the policy uses tunnel mode.
func (sa *Association) TunnelMode() bool {
	return sa.Policy != nil && sa.Policy.Action.TunnelMode()
}

// PolicyIndex returns the index of the policy.
func (sa *Association) PolicyIndex() int {
	if sa.Policy == nil {
		return -1
	}
	return sa.Policy.Index()
}

func (sa *Association) String() string {
	return fmt.Sprintf("SA%v %v %v->%v spi=%#x state=%v pfp=%v narrowed=%v",
		sa.ID, sa.Direction, sa.Src, sa.Dst, sa.SPI(), sa.State(), sa.PFP, sa.Narrowed())
}
