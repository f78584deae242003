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

// Package spd is the security policy database. Policies are added to
// a Builder during setup; the packet path only sees the DB returned
// by Freeze.
package spd

import (
	"fmt"
	"sync"

	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/pkg/errors"
)

// ErrFrozen is returned by Add after Freeze.
var ErrFrozen = errors.New("SPD is frozen")

// PolicyItem is one policy rule.
type PolicyItem struct {
	Selector selector.Selector
	Action   PolicyAction
	index    int
}

// Index returns the position of the policy in the SPD.
func (p *PolicyItem) Index() int {
	return p.index
}

func (p *PolicyItem) String() string {
	return fmt.Sprintf("#%d %v => %v", p.index, p.Selector, p.Action)
}

// Builder collects policies in configuration order.
type Builder struct {
	lock   sync.Mutex
	items  []*PolicyItem
	frozen bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a policy. The selector is copied.
func (b *Builder) Add(sel selector.Selector, action PolicyAction) (*PolicyItem, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.frozen {
		return nil, ErrFrozen
	}
	p := &PolicyItem{
		Selector: sel.Clone(),
		Action:   action,
		index:    len(b.items),
	}
	b.items = append(b.items, p)
	return p, nil
}

// Len returns the number of policies added.
func (b *Builder) Len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.items)
}

// Freeze returns the database. Further calls to Add fail.
func (b *Builder) Freeze() *DB {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.frozen = true
	items := make([]*PolicyItem, len(b.items))
	copy(items, b.items)
	return &DB{items: items}
}

// DB is an immutable, ordered list of policies.
type DB struct {
	items []*PolicyItem
}

// Match returns the first policy whose selector matches key, or nil.
func (db *DB) Match(key *selector.MatchKey) *PolicyItem {
	for _, p := range db.items {
		if p.Selector.Match(key) {
			return p
		}
	}
	return nil
}

// Len returns the number of policies.
func (db *DB) Len() int {
	return len(db.items)
}

// Item returns the policy at index i.
func (db *DB) Item(i int) *PolicyItem {
	if i < 0 || i >= len(db.items) {
		return nil
	}
	return db.items[i]
}

// Items returns the policies in order. The slice must not be
// modified.
func (db *DB) Items() []*PolicyItem {
	return db.items
}
