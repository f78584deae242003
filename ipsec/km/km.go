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

// Package km defines key managers and the registry the engine
// notifies them through.
package km

import (
	"sync"
	"sync/atomic"

	"github.com/lagopus/ipsecd/ipsec/sad"
	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/transform"
	"github.com/pkg/errors"
)

// DefaultMaxManagers is the number of key managers a registry
// accepts unless told otherwise.
const DefaultMaxManagers = 16

// ErrTooManyManagers is returned by Attach when the registry is full.
var ErrTooManyManagers = errors.New("Too many key managers")

// KeyManager receives the SAD events of the engine.
//
// Hooks are called after every engine lock is released, so a key
// manager may call back into the Coordinator from any hook.
type KeyManager interface {
	// Acquire is called when a Larval outbound SA is created.
	Acquire(id sad.KMSeq, sa *sad.Association)

	// GetSPI is called when an inbound SPI was reserved.
	GetSPI(id sad.KMSeq, sa *sad.Association)

	// Update is called when an inbound SA became Mature.
	Update(id sad.KMSeq, sa *sad.Association)

	// Add is called when an outbound SA became Mature.
	Add(id sad.KMSeq, sa *sad.Association)

	// Delete is called when an SA is removed.
	Delete(id sad.KMSeq, sa *sad.Association)

	// Expire is called when an SA lifetime runs out.
	Expire(id sad.KMSeq, sa *sad.Association)

	// Flush is called when every SA of a key manager is removed.
	Flush(id sad.KMSeq)
}

// Base implements every KeyManager hook but Acquire as a no-op.
type Base struct{}

// GetSPI does nothing.
func (Base) GetSPI(sad.KMSeq, *sad.Association) {}

// Update does nothing.
func (Base) Update(sad.KMSeq, *sad.Association) {}

// Add does nothing.
func (Base) Add(sad.KMSeq, *sad.Association) {}

// Delete does nothing.
func (Base) Delete(sad.KMSeq, *sad.Association) {}

// Expire does nothing.
func (Base) Expire(sad.KMSeq, *sad.Association) {}

// Flush does nothing.
func (Base) Flush(sad.KMSeq) {}

// Coordinator is the negotiation side of the engine a key manager
// drives.
type Coordinator interface {
	// GetSPI reserves an inbound SPI in [low, high] for the outbound
	// SA id.
	GetSPI(id sad.KMSeq, low, high uint32) (uint32, error)

	// CompleteAcquire makes the outbound SA id Mature.
	CompleteAcquire(id sad.KMSeq, spi uint32, key *transform.KeyInfo,
		soft transform.Lifetime, narrowed selector.Selector) error

	// CompleteGetSPI makes the inbound SA of spi Mature.
	CompleteGetSPI(id sad.KMSeq, spi uint32, key *transform.KeyInfo,
		soft transform.Lifetime, narrowed selector.Selector) error

	// TriggerAcquire starts a negotiation for key as if an outbound
	// packet had been seen.
	TriggerAcquire(id sad.KMSeq, key *selector.MatchKey) error
}

// Attacher is something key managers attach to: a Registry, or the
// engine owning one.
type Attacher interface {
	Attach(km KeyManager) (uint32, error)
}

// Registry is the ordered set of attached key managers.
type Registry struct {
	lock sync.Mutex
	max  int
	kms  atomic.Pointer[[]KeyManager]
}

// NewRegistry returns an empty registry accepting up to max key
// managers, or DefaultMaxManagers if max is not positive.
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = DefaultMaxManagers
	}
	r := &Registry{max: max}
	r.kms.Store(&[]KeyManager{})
	return r
}

// Attach adds km and returns its id. Ids are assigned 1, 2, ... in
// attach order.
func (r *Registry) Attach(km KeyManager) (uint32, error) {
	if km == nil {
		return 0, errors.New("Invalid args")
	}
	r.lock.Lock()
	defer r.lock.Unlock()

	cur := *r.kms.Load()
	if len(cur) >= r.max {
		return 0, ErrTooManyManagers
	}
	next := make([]KeyManager, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, km)
	r.kms.Store(&next)
	return uint32(len(next)), nil
}

// Len returns the number of attached key managers.
func (r *Registry) Len() int {
	return len(*r.kms.Load())
}

// Get returns the key manager of id, or nil.
func (r *Registry) Get(id uint32) KeyManager {
	kms := *r.kms.Load()
	if id == 0 || int(id) > len(kms) {
		return nil
	}
	return kms[id-1]
}

// Each calls fn for every key manager in attach order. Managers
// attached while Each runs are not visited.
func (r *Registry) Each(fn func(id uint32, km KeyManager)) {
	for i, km := range *r.kms.Load() {
		fn(uint32(i+1), km)
	}
}
