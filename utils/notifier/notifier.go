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


// Package notifier fans out SA lifecycle events to listeners.
package notifier

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Notifier delivers notifications to every listener. A listener whose
// buffer is full misses the notification.
type Notifier struct {
	listeners map[chan Notification]struct{}
	buffers   int
	mutex     sync.Mutex
	dropped   atomic.Uint64
}

// Type is the type of a notification.
type Type int

const (
	Larval Type = iota // SA created and waiting for keys
	Mature             // SA keyed
	Reject             // negotiation request refused
)

var typeStrings = [...]string{
	Larval: "LARVAL",
	Mature: "MATURE",
	Reject: "REJECT",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeStrings) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeStrings[t]
}

// Notification is one event.
type Notification struct {
	Type   Type
	Target any // SA the event is about
	Value  any // detail, e.g. the error of a Reject
}

func (noti Notification) String() string {
	if noti.Value == nil {
		return fmt.Sprintf("%s %v", noti.Type, noti.Target)
	}
	return fmt.Sprintf("%s %v: %v", noti.Type, noti.Target, noti.Value)
}

// NewNotifier returns a notifier whose listener channels have
// buffers slots.
func NewNotifier(buffers int) *Notifier {
	if buffers < 0 {
		buffers = 0
	}
	return &Notifier{
		listeners: make(map[chan Notification]struct{}),
		buffers:   buffers,
	}
}

// Notify sends a notification to every listener without blocking.
func (n *Notifier) Notify(t Type, tgt any, v any) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	noti := Notification{t, tgt, v}
	for listener := range n.listeners {
		select {
		case listener <- noti:
		default:
			n.dropped.Add(1)
		}
	}
}

// Listen returns a new listener channel.
func (n *Notifier) Listen() chan Notification {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	ch := make(chan Notification, n.buffers)
	n.listeners[ch] = struct{}{}
	return ch
}

// Close removes and closes a listener channel.
func (n *Notifier) Close(ch chan Notification) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if _, ok := n.listeners[ch]; !ok {
		return
	}
	delete(n.listeners, ch)
	close(ch)
}

// Listeners returns the number of listeners.
func (n *Notifier) Listeners() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return len(n.listeners)
}

// Dropped returns the number of notifications missed by listeners.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}
