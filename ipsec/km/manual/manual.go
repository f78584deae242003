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

// Package manual is a key manager answering every ACQUIRE from a
// static table of keyed SAs. Nothing is negotiated.
package manual

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/lagopus/ipsecd/ipsec/km"
	"github.com/lagopus/ipsecd/ipsec/sad"
	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/transform"
	vlog "github.com/lagopus/ipsecd/log"
	"github.com/pkg/errors"
)

const moduleName = "manual"

var log = vlog.DefaultLogger()

// SAData is one manually keyed SA. SPI 0 lets the engine choose the
// inbound SPI.
type SAData struct {
	Name string
	SPI  uint32
	Key  transform.KeyInfo
}

func (d *SAData) String() string {
	return fmt.Sprintf("%s spi=%#x %v", d.Name, d.SPI, &d.Key)
}

// Entry binds SA data to the traffic it is used for.
type Entry struct {
	Selector selector.Selector
	Data     *SAData
}

// KeyManager completes both directions of an ACQUIRE with every
// entry whose selector matches the SA.
type KeyManager struct {
	km.Base
	coord   km.Coordinator
	entries []Entry
	trigger selector.Selector
	id      uint32
	seq     atomic.Uint32
}

// New returns a manual key manager driving coord. Each item of
// trigger is used as a search key by Trigger.
func New(coord km.Coordinator, entries []Entry, trigger selector.Selector) *KeyManager {
	return &KeyManager{
		coord:   coord,
		entries: entries,
		trigger: trigger,
	}
}

// Attach attaches the key manager to r.
func (m *KeyManager) Attach(r km.Attacher) error {
	id, err := r.Attach(m)
	if err != nil {
		return errors.Wrap(err, "Can't attach manual key manager")
	}
	m.id = id
	log.Info("attached as key manager %d with %d entries", id, len(m.entries))
	return nil
}

// ID returns the key manager id, 0 before Attach.
func (m *KeyManager) ID() uint32 {
	return m.id
}

// Entries returns the configured entries.
func (m *KeyManager) Entries() []Entry {
	return m.entries
}

// ModuleShow lists the entries and the trigger for the debug shell.
func (m *KeyManager) ModuleShow(args ...string) (interface{}, error) {
	type entry struct {
		Selector string `json:"selector"`
		SA       string `json:"sa"`
	}
	entries := []entry{}
	for _, e := range m.entries {
		if e.Data == nil {
			continue
		}
		entries = append(entries, entry{e.Selector.String(), e.Data.String()})
	}
	return struct {
		ID      uint32  `json:"id"`
		Entries []entry `json:"entries"`
		Trigger string  `json:"trigger"`
	}{m.id, entries, m.trigger.String()}, nil
}

// Trigger starts one negotiation per trigger item. It returns the
// last error.
func (m *KeyManager) Trigger() error {
	var last error
	for i := range m.trigger {
		id := sad.KMSeq{KM: m.id, Seq: m.seq.Add(1)}
		key := m.trigger[i].Val
		if err := m.coord.TriggerAcquire(id, &key); err != nil {
			log.Err("trigger %v %v: %v", id, key, err)
			last = err
		}
	}
	return last
}

func (m *KeyManager) matching(search *selector.MatchKey, proposal transform.Proposal, fn func(*SAData)) {
	for _, e := range m.entries {
		if e.Selector == nil || e.Data == nil {
			continue
		}
		if !e.Selector.Match(search) {
			continue
		}
		if !proposal.Match(&e.Data.Key) {
			continue
		}
		fn(e.Data)
	}
}

// Acquire loads the outbound SAs matching sa, then reserves and
// loads the inbound ones.
func (m *KeyManager) Acquire(id sad.KMSeq, sa *sad.Association) {
	if sa == nil || sa.Policy == nil {
		return
	}
	// the outer addresses replace the ones from the packet
	search := sa.PFP.Val.WithDirection(selector.MatchOutbound)
	search.Addr[selector.Remote] = sa.Dst
	search.Addr[selector.Local] = sa.Src
	proposal := sa.Policy.Action.Proposal
	soft := transform.Lifetime{}

	m.matching(&search, proposal, func(d *SAData) {
		if err := m.coord.CompleteAcquire(id, d.SPI, &d.Key, soft, nil); err != nil {
			log.Err("%v: outbound %v: %v", id, d.Name, err)
			return
		}
		log.Debug(0, "%v: outbound %v loaded", id, d)
	})

	search = search.WithDirection(selector.MatchInbound)
	m.matching(&search, proposal, func(d *SAData) {
		low, high := d.SPI, d.SPI
		if low == sad.InvalidSPI {
			high = math.MaxUint32
		}
		spi, err := m.coord.GetSPI(id, low, high)
		if err != nil {
			log.Err("%v: getspi [%#x, %#x] for %v: %v", id, low, high, d.Name, err)
			return
		}
		if err := m.coord.CompleteGetSPI(id, spi, &d.Key, soft, nil); err != nil {
			log.Err("%v: inbound %v: %v", id, d.Name, err)
			return
		}
		log.Debug(0, "%v: inbound %v loaded as spi %#x", id, d.Name, spi)
	})
}

func init() {
	if l, err := vlog.New(moduleName); err == nil {
		log = l
	} else {
		log.Fatalf("Can't create logger: %s", moduleName)
	}
}
