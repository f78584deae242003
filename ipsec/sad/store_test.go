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
	"math"
	"sync"
	"testing"

	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/spd"
	"github.com/lagopus/ipsecd/ipsec/transform"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	db    *spd.DB
	store *Store
	src   selector.Addr
	dst   selector.Addr
}

func (suite *StoreTestSuite) SetupTest() {
	suite.db = newDB(2)
	suite.store = NewStore(suite.db, 0)
	suite.src = mustAddr("192.0.2.1")
	suite.dst = mustAddr("198.51.100.1")
}

func (suite *StoreTestSuite) outbound(seq uint32, pfp selector.Item) *Association {
	p := suite.db.Item(0)
	sa := NewAssociation(KMSeq{1, seq}, p, suite.src, suite.dst, selector.Outbound, pfp, InvalidSPI)
	l := suite.store.Outbound(p)
	l.Lock()
	l.Push(sa)
	l.Unlock()
	return sa
}

func (suite *StoreTestSuite) inbound(id KMSeq) func(uint32) *Association {
	return func(spi uint32) *Association {
		return NewAssociation(id, suite.db.Item(0), suite.dst, suite.src,
			selector.Inbound, selector.Item{}, spi)
	}
}

func (suite *StoreTestSuite) TestDefaults() {
	suite.Equal(DefaultBuckets, suite.store.Buckets())
	suite.Equal(7, NewStore(suite.db, 7).Buckets())
	suite.Same(suite.db, suite.store.DB())
}

func (suite *StoreTestSuite) TestOutboundForeignPolicy() {
	other := newDB(3)
	suite.Nil(suite.store.Outbound(other.Item(0)))
	suite.Nil(suite.store.Outbound(nil))
	suite.NotNil(suite.store.Outbound(suite.db.Item(1)))
}

func (suite *StoreTestSuite) TestNewestFirst() {
	older := suite.outbound(1, selector.Item{})
	newer := suite.outbound(2, selector.Item{})

	key := udpKey(1000, 53)
	head := suite.store.Outbound(suite.db.Item(0)).Head()
	suite.Same(newer, head)
	suite.Same(newer, Lookup(suite.dst, suite.src, &key, head))
	suite.Same(older, newer.Next())
}

func (suite *StoreTestSuite) TestLookupChecksEndpointsAndSelectors() {
	// populated from packet: remote port 53 only
	pfp := selector.Item{}
	pfp.Val.Port[selector.Remote] = 53
	pfp.Msk.Port[selector.Remote] = 0xffff
	sa := suite.outbound(1, pfp)

	head := suite.store.Outbound(suite.db.Item(0)).Head()
	key := udpKey(1000, 53)
	suite.Same(sa, Lookup(suite.dst, suite.src, &key, head))
	suite.Nil(Lookup(suite.src, suite.dst, &key, head))

	key = udpKey(1000, 54)
	suite.Nil(Lookup(suite.dst, suite.src, &key, head))

	// narrowing to local port 2000
	narrowed, err := selector.Parse(nil, []string{"#udp:2000"}, "")
	suite.Require().NoError(err)
	sa.Lock()
	sa.Mature(0x100, nopContext{}, 0, transform.Unlimited, narrowed)
	sa.Unlock()

	key = udpKey(1000, 53)
	suite.Nil(Lookup(suite.dst, suite.src, &key, head))
	key = udpKey(2000, 53)
	suite.Same(sa, Lookup(suite.dst, suite.src, &key, head))
}

func (suite *StoreTestSuite) TestLookupByID() {
	a := suite.outbound(1, selector.Item{})
	p := suite.db.Item(1)
	b := NewAssociation(KMSeq{2, 1}, p, suite.src, suite.dst, selector.Outbound, selector.Item{}, 0)
	l := suite.store.Outbound(p)
	l.Lock()
	l.Push(b)
	l.Unlock()

	suite.Same(a, suite.store.LookupByID(KMSeq{1, 1}))
	suite.Same(b, suite.store.LookupByID(KMSeq{2, 1}))
	suite.Nil(suite.store.LookupByID(KMSeq{1, 2}))
}

func (suite *StoreTestSuite) TestAllocateFullRange() {
	build := suite.inbound(KMSeq{1, 1})
	got := map[uint32]bool{}
	for i := 0; i < 3; i++ {
		sa, err := suite.store.AllocateSPI(1, 3, build)
		suite.Require().NoError(err)
		spi := sa.SPI()
		suite.NotEqual(InvalidSPI, spi)
		suite.False(got[spi])
		got[spi] = true
		suite.Same(sa, suite.store.LookupBySPI(spi))
	}
	sa, err := suite.store.AllocateSPI(1, 3, build)
	suite.Equal(ErrSPIExhausted, err)
	suite.Nil(sa)
}

func (suite *StoreTestSuite) TestAllocateInvalidRange() {
	build := suite.inbound(KMSeq{1, 1})
	_, err := suite.store.AllocateSPI(5, 4, build)
	suite.Equal(ErrSPIRange, err)
	// a range with SPI 0 alone is empty
	_, err = suite.store.AllocateSPI(0, 0, build)
	suite.Equal(ErrSPIRange, err)
	// a single SPI
	sa, err := suite.store.AllocateSPI(7, 7, build)
	suite.NoError(err)
	suite.Equal(uint32(7), sa.SPI())
}

func (suite *StoreTestSuite) TestCursorIncreasesAndWraps() {
	build := suite.inbound(KMSeq{1, 1})
	a, err := suite.store.AllocateSPI(100, 1000, build)
	suite.Require().NoError(err)
	b, err := suite.store.AllocateSPI(100, 1000, build)
	suite.Require().NoError(err)
	suite.Equal(uint32(100), a.SPI())
	suite.Equal(uint32(101), b.SPI())

	top, err := suite.store.AllocateSPI(math.MaxUint32-1, math.MaxUint32, build)
	suite.Require().NoError(err)
	suite.Equal(uint32(math.MaxUint32-1), top.SPI())
	top, err = suite.store.AllocateSPI(math.MaxUint32-1, math.MaxUint32, build)
	suite.Require().NoError(err)
	suite.Equal(uint32(math.MaxUint32), top.SPI())

	wrapped, err := suite.store.AllocateSPI(0, math.MaxUint32, build)
	suite.Require().NoError(err)
	suite.Equal(uint32(1), wrapped.SPI())
}

func (suite *StoreTestSuite) TestAllocateSkipsUsed() {
	build := suite.inbound(KMSeq{1, 1})
	suite.NoError(suite.store.AddInbound(build(11)))
	suite.Equal(ErrSPIInUse, suite.store.AddInbound(build(11)))
	suite.Equal(ErrSPIRange, suite.store.AddInbound(build(0)))

	a, err := suite.store.AllocateSPI(10, 20, build)
	suite.Require().NoError(err)
	b, err := suite.store.AllocateSPI(10, 20, build)
	suite.Require().NoError(err)
	suite.Equal(uint32(10), a.SPI())
	suite.Equal(uint32(12), b.SPI())
}

func (suite *StoreTestSuite) TestBucketCollisions() {
	store := NewStore(suite.db, 4)
	build := suite.inbound(KMSeq{1, 1})
	for _, spi := range []uint32{1, 5, 9} {
		suite.NoError(store.AddInbound(build(spi)))
	}
	for _, spi := range []uint32{1, 5, 9} {
		suite.Equal(spi, store.LookupBySPI(spi).SPI())
	}
	suite.Nil(store.LookupBySPI(13))

	n := 0
	store.WalkInbound(func(*Association) bool {
		n++
		return true
	})
	suite.Equal(3, n)
}

func (suite *StoreTestSuite) TestConcurrentAllocate() {
	build := suite.inbound(KMSeq{1, 1})
	var wg sync.WaitGroup
	var mu sync.Mutex
	got := map[uint32]bool{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sa, err := suite.store.AllocateSPI(256, 1023, build)
				if err != nil {
					continue
				}
				mu.Lock()
				got[sa.SPI()] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	suite.Len(got, 400)
}

func (suite *StoreTestSuite) TestWalkOutboundStops() {
	suite.outbound(1, selector.Item{})
	suite.outbound(2, selector.Item{})
	n := 0
	suite.store.WalkOutbound(func(*Association) bool {
		n++
		return false
	})
	suite.Equal(1, n)
}

func (suite *StoreTestSuite) TestClose() {
	var released []string
	ctx := func(name string) transform.Context {
		return releaseFunc(func() { released = append(released, name) })
	}

	out := suite.outbound(1, selector.Item{})
	out.Lock()
	out.Mature(0x100, ctx("out"), 0, transform.Unlimited, nil)
	out.Unlock()
	suite.outbound(2, selector.Item{})

	in, err := suite.store.AllocateSPI(0x200, 0x2ff, suite.inbound(KMSeq{1, 3}))
	suite.Require().NoError(err)
	in.Lock()
	in.Mature(in.SPI(), ctx("in"), 0, transform.Unlimited, nil)
	in.Unlock()
	_, err = suite.store.AllocateSPI(0x200, 0x2ff, suite.inbound(KMSeq{1, 4}))
	suite.Require().NoError(err)

	suite.Equal(2, suite.store.Close())
	suite.Equal([]string{"out", "in"}, released)

	// only once
	suite.Equal(0, suite.store.Close())
	suite.False(out.Release())
	suite.Len(released, 2)
}

func TestStoreTestSuites(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
