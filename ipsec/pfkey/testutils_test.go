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


package pfkey

import (
	"sync"
	"testing"

	"github.com/lagopus/ipsecd/ipsec/sad"
	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/spd"
	"github.com/lagopus/ipsecd/ipsec/transform"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type request struct {
	op   string
	id   sad.KMSeq
	spi  uint32
	low  uint32
	high uint32
	key  *transform.KeyInfo
	soft transform.Lifetime
}

type fakeCoordinator struct {
	lock sync.Mutex
	reqs []request
	spi  uint32
	err  error
}

func (f *fakeCoordinator) record(r request) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.reqs = append(f.reqs, r)
	return f.err
}

func (f *fakeCoordinator) requests() []request {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]request(nil), f.reqs...)
}

func (f *fakeCoordinator) GetSPI(id sad.KMSeq, low, high uint32) (uint32, error) {
	if err := f.record(request{op: "getspi", id: id, low: low, high: high}); err != nil {
		return 0, err
	}
	return f.spi, nil
}

func (f *fakeCoordinator) CompleteAcquire(id sad.KMSeq, spi uint32, key *transform.KeyInfo,
	soft transform.Lifetime, narrowed selector.Selector) error {
	return f.record(request{op: "add", id: id, spi: spi, key: key, soft: soft})
}

func (f *fakeCoordinator) CompleteGetSPI(id sad.KMSeq, spi uint32, key *transform.KeyInfo,
	soft transform.Lifetime, narrowed selector.Selector) error {
	return f.record(request{op: "update", id: id, spi: spi, key: key, soft: soft})
}

func (f *fakeCoordinator) TriggerAcquire(id sad.KMSeq, key *selector.MatchKey) error {
	return f.record(request{op: "trigger", id: id})
}

func mustAddr(s string) selector.Addr {
	a, err := selector.ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

func espPolicy(hard transform.Lifetime) *spd.PolicyItem {
	b := spd.NewBuilder()
	a := spd.NewPolicyAction()
	a.Hard = hard
	a.Proposal = transform.Proposal{&transform.Transform{
		Protocol: transform.ProtoESP,
		Encr: []transform.Algorithm{
			{ID: transform.EncrAESCBC, KeyLen: 128},
			{ID: transform.Encr3DES},
		},
		Auth: []transform.Algorithm{
			{ID: transform.AuthHMACMD5},
			{ID: transform.AuthHMACSHA256, KeyLen: 256},
		},
	}}
	p, err := b.Add(selector.Selector{}, a)
	if err != nil {
		panic(err)
	}
	b.Freeze()
	return p
}

func updateMessage(mtype uint8, id sad.KMSeq, spi uint32) *Message {
	return &Message{
		Header: *NewSadbMsg(mtype, SADB_SATYPE_ESP, id.Seq, id.KM),
		Sa: &SadbSa{
			SadbSaSpi:     spi,
			SadbSaReplay:  IPSEC_REPLAYWSIZE,
			SadbSaAuth:    SADB_AALG_SHA1HMAC,
			SadbSaEncrypt: SADB_X_EALG_AESCBC,
		},
		SoftLifetime: &SadbLifetime{SadbLifetimeBytes: 4096},
		SrcAddress:   &Address{Addr: mustAddr("192.0.2.1").Netip(), Prefixlen: 32},
		DstAddress:   &Address{Addr: mustAddr("198.51.100.1").Netip(), Prefixlen: 32},
		AuthKey:      NewKey(make([]byte, 20)),
		EncKey:       NewKey([]byte("0123456789abcdef")),
	}
}
