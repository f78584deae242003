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


// Package hashlist is a map that keeps its keys in insertion order.
package hashlist

import (
	"container/list"
)

type entry[K comparable, V any] struct {
	key   K
	value V
}

// HashList is a map whose entries are also linked in insertion order.
// It is not safe for concurrent use.
type HashList[K comparable, V any] struct {
	elements map[K]*list.Element
	list     *list.List
}

// New creates new hashlist.
func New[K comparable, V any]() *HashList[K, V] {
	return &HashList[K, V]{
		elements: make(map[K]*list.Element),
		list:     list.New(),
	}
}

// Add sets the value of key. A new key goes to the end of the list and
// Add returns true. An existing key keeps its position and Add returns
// false.
func (h *HashList[K, V]) Add(key K, v V) bool {
	if e, ok := h.elements[key]; ok {
		e.Value.(*entry[K, V]).value = v
		return false
	}
	h.elements[key] = h.list.PushBack(&entry[K, V]{key, v})
	return true
}

// Remove removes key from the hashlist.
func (h *HashList[K, V]) Remove(key K) bool {
	e, ok := h.elements[key]
	if !ok {
		return false
	}
	h.list.Remove(e)
	delete(h.elements, key)
	return true
}

// Find returns the value of key.
func (h *HashList[K, V]) Find(key K) (V, bool) {
	if e, ok := h.elements[key]; ok {
		return e.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Len returns the number of entries.
func (h *HashList[K, V]) Len() int {
	return h.list.Len()
}

// Each calls fn for every entry in insertion order until fn returns
// false. fn must not modify the hashlist.
func (h *HashList[K, V]) Each(fn func(key K, v V) bool) {
	for e := h.list.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry[K, V])
		if !fn(ent.key, ent.value) {
			return
		}
	}
}

// Reset removes every entry.
func (h *HashList[K, V]) Reset() {
	h.elements = make(map[K]*list.Element)
	h.list.Init()
}
