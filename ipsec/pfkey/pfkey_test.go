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
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/lagopus/ipsecd/ipsec/km"
	"github.com/lagopus/ipsecd/ipsec/sad"
	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/transform"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type PFKeyTestSuite struct {
	suite.Suite
	coord *fakeCoordinator
	km    *KeyManager
}

func (suite *PFKeyTestSuite) SetupTest() {
	suite.coord = &fakeCoordinator{spi: 0x1234}
	suite.km = New(suite.coord)
}

func (suite *PFKeyTestSuite) roundTrip(m *Message) *Message {
	buf := &bytes.Buffer{}
	suite.Require().NoError(m.Serialize(buf))
	suite.Require().Equal(0, buf.Len()%8)
	suite.Require().Equal(buf.Len(), toByteLen(m.Header.SadbMsgLen))
	got, err := ParseMessage(buf.Bytes())
	suite.Require().NoError(err)
	return got
}

// serve runs the key manager on one end of a pipe and returns the
// other end.
func (suite *PFKeyTestSuite) serve(ctx context.Context) (net.Conn, <-chan error) {
	client, server := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- suite.km.Serve(ctx, server)
		server.Close()
	}()
	return client, done
}

func (suite *PFKeyTestSuite) exchange(c net.Conn, m *Message) *Message {
	suite.Require().NoError(m.Serialize(c))
	reply, err := ReadMessage(c)
	suite.Require().NoError(err)
	return reply
}

func (suite *PFKeyTestSuite) TestAcquireMessage() {
	policy := espPolicy(transform.Lifetime{Bytes: 1000, Time: math.MaxUint64})
	id := sad.KMSeq{KM: 3, Seq: 9}
	sa := sad.NewAssociation(id, policy, mustAddr("192.0.2.1"), mustAddr("198.51.100.1"),
		selector.Outbound, selector.Item{}, sad.InvalidSPI)

	m := suite.roundTrip(AcquireMessage(id, sa))

	suite.Equal(uint8(SADB_ACQUIRE), m.Header.SadbMsgType)
	suite.Equal(uint8(SADB_SATYPE_ESP), m.Header.SadbMsgSatype)
	suite.Equal(uint32(9), m.Header.SadbMsgSeq)
	suite.Equal(uint32(3), m.Header.SadbMsgPid)
	suite.Equal(360, toByteLen(m.Header.SadbMsgLen))

	suite.Require().NotNil(m.SrcAddress)
	suite.Equal("192.0.2.1", m.SrcAddress.Addr.String())
	suite.Equal(uint8(32), m.SrcAddress.Prefixlen)
	suite.Require().NotNil(m.DstAddress)
	suite.Equal("198.51.100.1", m.DstAddress.Addr.String())

	suite.Require().NotNil(m.Proposal)
	suite.Equal(uint8(IPSEC_REPLAYWSIZE), m.Proposal.Replay)
	suite.Require().Len(m.Proposal.Combs, 4)

	c := m.Proposal.Combs[0]
	suite.Equal(uint8(SADB_X_EALG_AESCBC), c.SadbCombEncrypt)
	suite.Equal(uint16(128), c.SadbCombEncryptMinbits)
	suite.Equal(uint8(SADB_AALG_MD5HMAC), c.SadbCombAuth)
	suite.Equal(uint64(1000), c.SadbCombHardBytes)
	suite.Equal(uint64(0), c.SadbCombHardAddtime)

	c = m.Proposal.Combs[1]
	suite.Equal(uint8(SADB_X_AALG_SHA2_256HMAC), c.SadbCombAuth)
	suite.Equal(uint16(256), c.SadbCombAuthMinbits)

	c = m.Proposal.Combs[3]
	suite.Equal(uint8(SADB_EALG_3DESCBC), c.SadbCombEncrypt)
	suite.Equal(uint16(0), c.SadbCombEncryptMinbits)
}

func (suite *PFKeyTestSuite) TestAcquireMessageNoPolicy() {
	id := sad.KMSeq{KM: 1, Seq: 1}
	sa := sad.NewAssociation(id, nil, mustAddr("2001:db8::1"), mustAddr("2001:db8::2"),
		selector.Outbound, selector.Item{}, sad.InvalidSPI)

	m := suite.roundTrip(AcquireMessage(id, sa))

	suite.Equal(uint8(SADB_SATYPE_UNSPEC), m.Header.SadbMsgSatype)
	suite.Equal("2001:db8::1", m.SrcAddress.Addr.String())
	suite.Equal(uint8(128), m.SrcAddress.Prefixlen)
	suite.Empty(m.Proposal.Combs)
}

func (suite *PFKeyTestSuite) TestAddressV6() {
	m := updateMessage(SADB_UPDATE, sad.KMSeq{KM: 1, Seq: 2}, 0x100)
	m.SrcAddress = &Address{Proto: 17, Prefixlen: 64, Port: 4500,
		Addr: mustAddr("2001:db8::10").Netip()}
	m.DstAddress = &Address{Proto: 17, Prefixlen: 128, Port: 500,
		Addr: mustAddr("2001:db8:1::20").Netip()}

	got := suite.roundTrip(m)

	suite.Equal(*m.SrcAddress, *got.SrcAddress)
	suite.Equal(*m.DstAddress, *got.DstAddress)
}

func (suite *PFKeyTestSuite) TestKeys() {
	m := updateMessage(SADB_ADD, sad.KMSeq{KM: 1, Seq: 2}, 0x10000)

	got := suite.roundTrip(m)

	suite.Require().NotNil(got.Sa)
	suite.Equal(*m.Sa, *got.Sa)
	suite.Require().NotNil(got.AuthKey)
	suite.Equal(uint16(160), got.AuthKey.Bits)
	suite.Len(got.AuthKey.Key, 20)
	suite.Require().NotNil(got.EncKey)
	suite.Equal([]byte("0123456789abcdef"), got.EncKey.Key)
	suite.Require().NotNil(got.SoftLifetime)
	suite.Equal(uint64(4096), got.SoftLifetime.SadbLifetimeBytes)
	suite.Nil(got.HardLifetime)
	suite.Nil(got.SPIRange)
}

func (suite *PFKeyTestSuite) TestSPIOnWire() {
	buf := &bytes.Buffer{}
	suite.Require().NoError((&SadbSa{SadbSaSpi: 0x01020304}).Serialize(buf))
	suite.Equal([]byte{1, 2, 3, 4}, buf.Bytes()[:4])
}

func (suite *PFKeyTestSuite) TestBadMessages() {
	buf := &bytes.Buffer{}
	suite.Require().NoError(updateMessage(SADB_UPDATE, sad.KMSeq{}, 1).Serialize(buf))
	orig := buf.Bytes()
	mutate := func(fn func(b []byte)) []byte {
		b := append([]byte(nil), orig...)
		fn(b)
		return b
	}

	_, err := ParseMessage(mutate(func(b []byte) { b[0] = 1 }))
	suite.ErrorIs(err, syscall.EINVAL)

	_, err = ParseMessage(mutate(func(b []byte) { HostByteOrder.PutUint16(b[4:], 1000) }))
	suite.ErrorIs(err, syscall.EMSGSIZE)

	_, err = ParseMessage(mutate(func(b []byte) { HostByteOrder.PutUint16(b[SadbMsgLen+2:], 0) }))
	suite.ErrorIs(err, syscall.EINVAL)

	_, err = ParseMessage(mutate(func(b []byte) { HostByteOrder.PutUint16(b[SadbMsgLen:], 100) }))
	suite.ErrorIs(err, syscall.EINVAL)

	_, err = ParseMessage(orig[:8])
	suite.Error(err)
}

func (suite *PFKeyTestSuite) TestUnusedExtensionSkipped() {
	m := &Message{Header: *NewSadbMsg(SADB_GETSPI, SADB_SATYPE_ESP, 1, 1)}
	t := SadbMsgTransport{SadbMsg: &m.Header, Serializer: []Serializer{
		ext(SADB_EXT_ADDRESS_PROXY, &Address{Addr: mustAddr("192.0.2.9").Netip()}),
		ext(SADB_EXT_SPIRANGE, &SadbSPIRange{SadbSpirangeMin: 1, SadbSpirangeMax: 2}),
	}}
	buf := &bytes.Buffer{}
	suite.Require().NoError(t.Serialize(buf))

	got, err := ParseMessage(buf.Bytes())
	suite.Require().NoError(err)
	suite.Nil(got.SrcAddress)
	suite.Require().NotNil(got.SPIRange)
	suite.Equal(uint32(2), got.SPIRange.SadbSpirangeMax)
}

func (suite *PFKeyTestSuite) TestAttach() {
	r := km.NewRegistry(km.DefaultMaxManagers)
	suite.Require().NoError(suite.km.Attach(r))
	suite.Equal(uint32(1), suite.km.ID())
	suite.Equal(suite.km, r.Get(1))
}

func (suite *PFKeyTestSuite) TestServeGetSPI() {
	c, done := suite.serve(context.Background())

	m := &Message{
		Header:   *NewSadbMsg(SADB_GETSPI, SADB_SATYPE_ESP, 5, 2),
		SPIRange: &SadbSPIRange{SadbSpirangeMin: 0x100, SadbSpirangeMax: 0x2000},
	}
	reply := suite.exchange(c, m)

	suite.Equal(uint8(0), reply.Header.SadbMsgErrno)
	suite.Equal(uint32(5), reply.Header.SadbMsgSeq)
	suite.Equal(uint32(2), reply.Header.SadbMsgPid)
	suite.Require().NotNil(reply.Sa)
	suite.Equal(uint32(0x1234), reply.Sa.SadbSaSpi)
	suite.Equal(uint8(SADB_SASTATE_LARVAL), reply.Sa.SadbSaState)

	reqs := suite.coord.requests()
	suite.Require().Len(reqs, 1)
	suite.Equal(request{op: "getspi", id: sad.KMSeq{KM: 2, Seq: 5}, low: 0x100, high: 0x2000}, reqs[0])

	c.Close()
	suite.NoError(<-done)
}

func (suite *PFKeyTestSuite) testComplete(mtype uint8, op string) {
	c, done := suite.serve(context.Background())
	defer func() {
		c.Close()
		suite.NoError(<-done)
	}()

	id := sad.KMSeq{KM: 1, Seq: 77}
	reply := suite.exchange(c, updateMessage(mtype, id, 0xabcd))

	suite.Equal(uint8(0), reply.Header.SadbMsgErrno)
	suite.Equal(mtype, reply.Header.SadbMsgType)
	suite.Require().NotNil(reply.Sa)
	suite.Equal(uint32(0xabcd), reply.Sa.SadbSaSpi)
	suite.Equal(uint8(SADB_SASTATE_MATURE), reply.Sa.SadbSaState)

	reqs := suite.coord.requests()
	suite.Require().Len(reqs, 1)
	r := reqs[0]
	suite.Equal(op, r.op)
	suite.Equal(id, r.id)
	suite.Equal(uint32(0xabcd), r.spi)
	suite.Equal(transform.Lifetime{Bytes: 4096}, r.soft)

	suite.Require().NotNil(r.key)
	suite.Equal(transform.ProtoESP, r.key.Protocol)
	suite.Equal(transform.EncrAESCBC, r.key.Encr.ID)
	suite.Equal(128, r.key.Encr.Len)
	suite.Equal([]byte("0123456789abcdef"), r.key.Encr.Key)
	suite.Equal(transform.AuthHMACSHA1, r.key.Auth.ID)
	suite.Equal(160, r.key.Auth.Len)
}

func (suite *PFKeyTestSuite) TestServeUpdate() {
	suite.testComplete(SADB_UPDATE, "update")
}

func (suite *PFKeyTestSuite) TestServeAdd() {
	suite.testComplete(SADB_ADD, "add")
}

func (suite *PFKeyTestSuite) TestServeErrno() {
	c, done := suite.serve(context.Background())

	suite.coord.err = errors.Wrap(sad.ErrNotFound, "No SA")
	reply := suite.exchange(c, updateMessage(SADB_UPDATE, sad.KMSeq{KM: 1, Seq: 3}, 1))
	suite.Equal(uint8(syscall.ENOENT), reply.Header.SadbMsgErrno)
	suite.Nil(reply.Sa)

	suite.coord.err = sad.ErrSPIExhausted
	reply = suite.exchange(c, &Message{
		Header:   *NewSadbMsg(SADB_GETSPI, SADB_SATYPE_ESP, 4, 1),
		SPIRange: &SadbSPIRange{SadbSpirangeMin: 1, SadbSpirangeMax: 1},
	})
	suite.Equal(uint8(syscall.EEXIST), reply.Header.SadbMsgErrno)

	suite.coord.err = nil
	reply = suite.exchange(c, &Message{Header: *NewSadbMsg(SADB_GETSPI, SADB_SATYPE_ESP, 5, 1)})
	suite.Equal(uint8(syscall.EINVAL), reply.Header.SadbMsgErrno)

	reply = suite.exchange(c, &Message{Header: *NewSadbMsg(SADB_DELETE, SADB_SATYPE_ESP, 6, 1)})
	suite.Equal(uint8(syscall.EOPNOTSUPP), reply.Header.SadbMsgErrno)

	m := updateMessage(SADB_ADD, sad.KMSeq{KM: 1, Seq: 7}, 1)
	m.Header.SadbMsgSatype = SADB_SATYPE_UNSPEC
	reply = suite.exchange(c, m)
	suite.Equal(uint8(syscall.EINVAL), reply.Header.SadbMsgErrno)

	c.Close()
	suite.NoError(<-done)
}

func (suite *PFKeyTestSuite) TestAcquireBroadcast() {
	c, done := suite.serve(context.Background())
	suite.Eventually(func() bool {
		return suite.km.Daemons() == 1
	}, time.Second, time.Millisecond)

	v, err := suite.km.ModuleShow()
	suite.Require().NoError(err)
	b, err := json.Marshal(v)
	suite.Require().NoError(err)
	suite.JSONEq(`{"id": 0, "daemons": 1, "dropped": 0}`, string(b))

	id := sad.KMSeq{KM: 1, Seq: 42}
	sa := sad.NewAssociation(id, espPolicy(transform.Unlimited), mustAddr("192.0.2.1"),
		mustAddr("198.51.100.1"), selector.Outbound, selector.Item{}, sad.InvalidSPI)
	sent := make(chan struct{})
	go func() {
		suite.km.Acquire(id, sa)
		close(sent)
	}()

	m, err := ReadMessage(c)
	suite.Require().NoError(err)
	<-sent
	suite.Equal(uint8(SADB_ACQUIRE), m.Header.SadbMsgType)
	suite.Equal(uint32(42), m.Header.SadbMsgSeq)
	suite.Equal(uint32(1), m.Header.SadbMsgPid)

	c.Close()
	suite.NoError(<-done)
}

func (suite *PFKeyTestSuite) TestAcquireStalledDaemon() {
	c, done := suite.serve(context.Background())
	suite.Eventually(func() bool {
		return suite.km.Daemons() == 1
	}, time.Second, time.Millisecond)

	// nothing reads c, so the first write never completes
	id := sad.KMSeq{KM: 1, Seq: 1}
	sa := sad.NewAssociation(id, espPolicy(transform.Unlimited), mustAddr("192.0.2.1"),
		mustAddr("198.51.100.1"), selector.Outbound, selector.Item{}, sad.InvalidSPI)
	sent := make(chan struct{})
	go func() {
		for i := 0; i < AcquireQueueLen+10; i++ {
			suite.km.Acquire(id, sa)
		}
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		suite.FailNow("Acquire blocked on a stalled key daemon")
	}
	suite.GreaterOrEqual(suite.km.Dropped(), uint64(9))
	suite.LessOrEqual(suite.km.Dropped(), uint64(10))

	// the daemon still gets the queued requests
	m, err := ReadMessage(c)
	suite.Require().NoError(err)
	suite.Equal(uint8(SADB_ACQUIRE), m.Header.SadbMsgType)

	c.Close()
	suite.NoError(<-done)
	suite.Equal(0, suite.km.Daemons())
}

func (suite *PFKeyTestSuite) TestAcquireNoDaemon() {
	id := sad.KMSeq{KM: 1, Seq: 1}
	sa := sad.NewAssociation(id, nil, mustAddr("192.0.2.1"), mustAddr("198.51.100.1"),
		selector.Outbound, selector.Item{}, sad.InvalidSPI)
	suite.NotPanics(func() {
		suite.km.Acquire(id, sa)
		suite.km.Acquire(id, nil)
	})
}

func (suite *PFKeyTestSuite) TestServeCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	c, done := suite.serve(ctx)
	defer c.Close()

	cancel()
	suite.ErrorIs(<-done, context.Canceled)
}

func (suite *PFKeyTestSuite) TestServer() {
	dir, err := os.MkdirTemp("", "pfkey")
	suite.Require().NoError(err)
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "pfkey.sock")

	srv := NewServer(suite.km, sock)
	suite.Require().NoError(srv.Start())
	suite.NoError(srv.Start())

	c, err := net.Dial("unixpacket", sock)
	suite.Require().NoError(err)
	defer c.Close()

	reply := suite.exchange(c, &Message{
		Header:   *NewSadbMsg(SADB_GETSPI, SADB_SATYPE_AH, 1, 1),
		SPIRange: &SadbSPIRange{SadbSpirangeMin: 0x100, SadbSpirangeMax: 0x200},
	})
	suite.Equal(uint8(0), reply.Header.SadbMsgErrno)
	suite.Equal(uint32(0x1234), reply.Sa.SadbSaSpi)

	srv.Stop()
	srv.Stop()

	_, err = os.Stat(sock)
	suite.True(os.IsNotExist(err))
}

func TestPFKeyTestSuites(t *testing.T) {
	suite.Run(t, new(PFKeyTestSuite))
}
