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
	"github.com/lagopus/ipsecd/ipsec/km"
	"github.com/lagopus/ipsecd/ipsec/sad"
	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/spd"
	"github.com/lagopus/ipsecd/ipsec/transform"
	"github.com/lagopus/ipsecd/utils/notifier"
	"github.com/pkg/errors"
)

// negotiation operations, as counted
const (
	opAcquire         = "acquire"
	opGetSPI          = "getspi"
	opCompleteAcquire = "complete_acquire"
	opCompleteGetSPI  = "complete_getspi"
	opTrigger         = "trigger"
)

func (e *Engine) result(op string, id sad.KMSeq, err error) error {
	if err == nil {
		e.metrics.Negotiation(op, "ok")
		return nil
	}
	e.metrics.Negotiation(op, "error")
	log.Err("%s %v: %v", op, id, err)
	e.notifier.Notify(notifier.Reject, id, err)
	return err
}

// pfpItem returns the selector item matching the fields of key that
// the PFP flags bind an SA to.
func pfpItem(pfp spd.PFP, key *selector.MatchKey) selector.Item {
	var it selector.Item
	for _, f := range []struct {
		flag spd.PFP
		side int
	}{
		{spd.PFPLocalAddr, selector.Local},
		{spd.PFPRemoteAddr, selector.Remote},
	} {
		if pfp&f.flag != 0 {
			it.Val.Addr[f.side] = key.Addr[f.side]
			it.Msk.Addr[f.side] = selector.FullMask
		}
	}
	for _, f := range []struct {
		flag spd.PFP
		side int
	}{
		{spd.PFPLocalPort, selector.Local},
		{spd.PFPRemotePort, selector.Remote},
	} {
		if pfp&f.flag != 0 {
			it.Val.Port[f.side] = key.Port[f.side]
			it.Msk.Port[f.side] = 0xFFFF
		}
	}
	if pfp&(spd.PFPLocalPort|spd.PFPRemotePort) != 0 {
		it.Val.Proto |= key.Proto & (selector.MatchPorts | selector.MatchType)
		it.Msk.Proto |= selector.MatchPorts | selector.MatchType
	}
	if pfp&spd.PFPProto != 0 {
		it.Val.Proto |= key.Proto & selector.MatchProto
		it.Msk.Proto |= selector.MatchProto
	}
	return it
}

// endpoints returns the outer addresses of the SAs of policy for
// key: the tunnel endpoints in tunnel mode, the packet addresses
// otherwise.
func endpoints(policy *spd.PolicyItem, key *selector.MatchKey) (src, dst selector.Addr) {
	if t := policy.Action.Tunnel; t != nil {
		return t.Local, t.Remote
	}
	return key.Addr[selector.Local], key.Addr[selector.Remote]
}

// StartAcquire returns the SA of policy for key, creating a larval
// one if there is none. Key managers are told about a created SA.
func (e *Engine) StartAcquire(policy *spd.PolicyItem, id sad.KMSeq, key *selector.MatchKey,
	src, dst selector.Addr) (*sad.Association, error) {
	list := e.store.Outbound(policy)
	if list == nil || key == nil {
		return nil, e.result(opAcquire, id, ErrInvalidArgs)
	}

	list.Lock()
	if sa := sad.Lookup(dst, src, key, list.Head()); sa != nil {
		list.Unlock()
		return sa, nil
	}
	sa := sad.NewAssociation(id, policy, src, dst, selector.Outbound,
		pfpItem(policy.Action.PFP, key), sad.InvalidSPI)
	list.Push(sa)
	list.Unlock()

	e.metrics.Association("out")
	e.result(opAcquire, id, nil)
	log.Debug(0, "acquire %v", sa)
	e.notifier.Notify(notifier.Larval, sa, nil)

	e.kms.Each(func(_ uint32, k km.KeyManager) {
		k.Acquire(id, sa)
	})
	return sa, nil
}

// GetSPI reserves an inbound SPI in [low, high] for the negotiation
// id and creates the larval inbound SA.
func (e *Engine) GetSPI(id sad.KMSeq, low, high uint32) (uint32, error) {
	sa := e.store.LookupByID(id)
	if sa == nil {
		return sad.InvalidSPI, e.result(opGetSPI, id, ErrNoAssociation)
	}
	in, err := e.store.AllocateSPI(low, high, func(spi uint32) *sad.Association {
		return sad.NewAssociation(id, sa.Policy, sa.Dst, sa.Src, selector.Inbound, sa.PFP, spi)
	})
	if err != nil {
		return sad.InvalidSPI, e.result(opGetSPI, id,
			errors.Wrapf(err, "[%#x, %#x]", low, high))
	}

	e.metrics.Association("in")
	e.result(opGetSPI, id, nil)
	log.Debug(0, "getspi %v", in)
	e.notifier.Notify(notifier.Larval, in, nil)

	e.kms.Each(func(_ uint32, k km.KeyManager) {
		k.GetSPI(id, in)
	})
	return in.SPI(), nil
}

// clamp limits each field of soft to hard. A zero field sets no soft
// limit and is kept.
func clamp(soft, hard transform.Lifetime) transform.Lifetime {
	if soft.Bytes > hard.Bytes {
		soft.Bytes = hard.Bytes
	}
	if soft.Time > hard.Time {
		soft.Time = hard.Time
	}
	return soft
}

// complete makes the larval sa Mature with a context from set. An
// SA with no SPI yet is required if egg is set.
func (e *Engine) complete(sa *sad.Association, egg bool, spi uint32, key *transform.KeyInfo,
	soft transform.Lifetime, narrowed selector.Selector, set transform.Set) error {
	sa.Lock()
	defer sa.Unlock()

	if sa.State() != sad.Larval {
		return errors.Wrapf(ErrNotLarval, "%v", sa.State())
	}
	if egg && sa.SPI() != sad.InvalidSPI {
		return errors.Wrapf(ErrNotLarval, "spi %#x", sa.SPI())
	}
	if narrowed != nil && !narrowed.Subset(sa.Policy.Selector) {
		return errors.Wrapf(ErrNotSubset, "%v", narrowed)
	}
	i, ctx, err := set.Select(key, spi, soft, sa)
	if err != nil {
		return errors.Wrapf(err, "%v", key)
	}
	sa.Mature(spi, ctx, i, clamp(soft, sa.Policy.Action.Hard), narrowed)
	return nil
}

// CompleteAcquire makes the outbound SA of id Mature with spi and the
// negotiated key.
func (e *Engine) CompleteAcquire(id sad.KMSeq, spi uint32, key *transform.KeyInfo,
	soft transform.Lifetime, narrowed selector.Selector) error {
	if key == nil || spi == sad.InvalidSPI {
		return e.result(opCompleteAcquire, id, ErrInvalidArgs)
	}
	sa := e.store.LookupByID(id)
	if sa == nil {
		return e.result(opCompleteAcquire, id, ErrNoAssociation)
	}
	if err := e.complete(sa, true, spi, key, soft, narrowed, e.outbound); err != nil {
		return e.result(opCompleteAcquire, id, err)
	}

	e.result(opCompleteAcquire, id, nil)
	log.Debug(0, "add %v", sa)
	e.notifier.Notify(notifier.Mature, sa, nil)

	e.kms.Each(func(_ uint32, k km.KeyManager) {
		k.Add(id, sa)
	})
	return nil
}

// CompleteGetSPI makes the inbound SA of spi, reserved by GetSPI for
// id, Mature with the negotiated key.
func (e *Engine) CompleteGetSPI(id sad.KMSeq, spi uint32, key *transform.KeyInfo,
	soft transform.Lifetime, narrowed selector.Selector) error {
	if key == nil {
		return e.result(opCompleteGetSPI, id, ErrInvalidArgs)
	}
	sa := e.store.LookupBySPI(spi)
	if sa == nil {
		return e.result(opCompleteGetSPI, id, errors.Wrapf(ErrNoAssociation, "spi %#x", spi))
	}
	if sa.ID != id {
		return e.result(opCompleteGetSPI, id, errors.Wrapf(ErrIDMismatch, "spi %#x is %v", spi, sa.ID))
	}
	if err := e.complete(sa, false, spi, key, soft, narrowed, e.inbound); err != nil {
		return e.result(opCompleteGetSPI, id, err)
	}

	e.result(opCompleteGetSPI, id, nil)
	log.Debug(0, "update %v", sa)
	e.notifier.Notify(notifier.Mature, sa, nil)

	e.kms.Each(func(_ uint32, k km.KeyManager) {
		k.Update(id, sa)
	})
	return nil
}

// TriggerAcquire starts the negotiation of the outbound SA key would
// use, unless the policy needs none or the SA exists.
func (e *Engine) TriggerAcquire(id sad.KMSeq, key *selector.MatchKey) error {
	if key == nil {
		return e.result(opTrigger, id, ErrInvalidArgs)
	}
	search := *key
	if search.Proto&selector.MatchDirection == 0 {
		search = search.WithDirection(selector.MatchOutbound)
	}
	policy := e.db.Match(&search)
	if policy == nil {
		return e.result(opTrigger, id, errors.Wrapf(ErrNoPolicy, "%v", search))
	}
	if len(policy.Action.Proposal) == 0 {
		return nil
	}
	src, dst := endpoints(policy, &search)
	if sad.Lookup(dst, src, &search, e.store.Outbound(policy).Head()) != nil {
		return nil
	}
	if _, err := e.StartAcquire(policy, id, &search, src, dst); err != nil {
		return e.result(opTrigger, id, err)
	}
	return e.result(opTrigger, id, nil)
}
