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


package ipsec

import (
	"fmt"

	"github.com/lagopus/ipsecd/ipsec/classifier"
	"github.com/lagopus/ipsecd/ipsec/packet"
	"github.com/lagopus/ipsecd/ipsec/sad"
	"github.com/lagopus/ipsecd/ipsec/selector"
)

// Verdict is what to do with a packet.
type Verdict int

// Verdicts.
const (
	Discard Verdict = iota // drop the packet
	Bypass                 // forward unprotected
	Accept                 // inbound packet was properly protected
	Protect                // send to the pipeline of the SA
	Acquire                // hold until the SA is negotiated
	Pass                   // not IPsec, continue with Process
)

var verdictStrings = [...]string{
	Discard: "discard",
	Bypass:  "bypass",
	Accept:  "accept",
	Protect: "protect",
	Acquire: "acquire",
	Pass:    "pass",
}

func (v Verdict) String() string {
	if v < 0 || int(v) >= len(verdictStrings) {
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
	return verdictStrings[v]
}

// Discard reasons.
const (
	ReasonMalformed = "malformed" // no selector data
	ReasonNoPolicy  = "nopolicy"  // no policy matches
	ReasonDenied    = "denied"    // protection required but not applied
	ReasonMismatch  = "mismatch"  // applied SA is not of the policy
	ReasonUnknown   = "unknownspi"
	ReasonLarval    = "larval"
)

// Decision is the verdict on a packet. Pipeline is the pipeline index
// in the pipeline set of the direction for Protect.
type Decision struct {
	Verdict  Verdict
	Pipeline int
	SA       *sad.Association
	Reason   string
}

func (d Decision) String() string {
	switch d.Verdict {
	case Discard:
		return fmt.Sprintf("%v (%s)", d.Verdict, d.Reason)
	case Protect:
		return fmt.Sprintf("%v to %d", d.Verdict, d.Pipeline)
	}
	return d.Verdict.String()
}

func dirLabel(dir selector.Direction) string {
	switch dir {
	case selector.Inbound:
		return "in"
	case selector.Outbound:
		return "out"
	}
	return "invalid"
}

func (e *Engine) decide(label string, d Decision) Decision {
	e.metrics.Verdict(label, d.Verdict.String())
	if d.Verdict == Discard {
		e.metrics.Discard(d.Reason)
	}
	if log.DebugEnabled() {
		log.Debug(1, "%s: %v", label, d)
	}
	return d
}

func (e *Engine) discard(label, reason string) Decision {
	return e.decide(label, Decision{Verdict: Discard, Pipeline: -1, Reason: reason})
}

// Process decides on a packet seen in direction dir. Outbound
// packets needing protection are annotated with their SA.
func (e *Engine) Process(pkt *packet.Packet, dir selector.Direction) Decision {
	label := dirLabel(dir)

	sa := pkt.SA()
	if sa != nil {
		switch dir {
		case selector.Outbound:
			// whoever set the annotation vouches for the SA
			if p := sa.Pipeline(); p >= 0 {
				return e.decide(label, Decision{Verdict: Protect, Pipeline: p, SA: sa})
			}
			return e.decide(label, Decision{Verdict: Acquire, Pipeline: -1, SA: sa})
		case selector.Inbound:
			// the annotation may have been replaced by a pipeline
			sa = e.store.LookupBySPI(pkt.SPI())
		}
	}

	key, err := classifier.Classify(pkt, dir)
	if err != nil {
		log.Debug(0, "%s: %v: %v", label, pkt, err)
		return e.discard(label, ReasonMalformed)
	}

	policy := e.db.Match(&key)
	if dir == selector.Inbound && sa != nil {
		if policy == nil {
			return e.discard(label, ReasonNoPolicy)
		}
		if policy != sa.Policy {
			log.Debug(0, "applied SA spi=%#x does not match the policy %d", sa.SPI(), policy.Index())
			return e.discard(label, ReasonMismatch)
		}
		pkt.ClearSA()
		return e.decide(label, Decision{Verdict: Accept, Pipeline: -1})
	}
	if policy == nil {
		return e.discard(label, ReasonNoPolicy)
	}
	if len(policy.Action.Proposal) == 0 {
		return e.decide(label, Decision{Verdict: Bypass, Pipeline: -1})
	}
	if dir == selector.Inbound {
		return e.discard(label, ReasonDenied)
	}

	src, dst := endpoints(policy, &key)
	sa = sad.Lookup(dst, src, &key, e.store.Outbound(policy).Head())
	if sa == nil {
		id := sad.KMSeq{KM: 0, Seq: e.seq.Add(1)}
		if sa, err = e.StartAcquire(policy, id, &key, src, dst); err != nil {
			return e.decide(label, Decision{Verdict: Acquire, Pipeline: -1})
		}
	}
	pkt.SetSA(sa)
	if p := sa.Pipeline(); p >= 0 {
		return e.decide(label, Decision{Verdict: Protect, Pipeline: p, SA: sa})
	}
	return e.decide(label, Decision{Verdict: Acquire, Pipeline: -1, SA: sa})
}

// Demux finds the inbound SA of an ESP or AH packet and annotates
// the packet with it. Other packets Pass.
func (e *Engine) Demux(pkt *packet.Packet) Decision {
	const label = "demux"

	spi, ok, err := classifier.SPI(pkt)
	if err != nil {
		log.Debug(0, "%s: %v: %v", label, pkt, err)
		return e.discard(label, ReasonMalformed)
	}
	if !ok {
		return e.decide(label, Decision{Verdict: Pass, Pipeline: -1})
	}
	sa := e.store.LookupBySPI(spi)
	if sa == nil {
		log.Debug(0, "%s: SA spi=%#x not found", label, spi)
		return e.discard(label, ReasonUnknown)
	}
	p := sa.Pipeline()
	if p < 0 {
		return e.discard(label, ReasonLarval)
	}
	pkt.SetSA(sa)
	pkt.SetSPI(spi)
	return e.decide(label, Decision{Verdict: Protect, Pipeline: p, SA: sa})
}
