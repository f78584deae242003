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

// Package pfkey carries the negotiation of the engine over PF_KEY v2
// messages to an external key daemon.
//
// ACQUIRE messages carry the negotiation id of the SA: the key
// manager half in the pid field and the sequence half in the seq
// field. The daemon echoes both in its GETSPI, UPDATE and ADD
// requests.
package pfkey

import (
	"context"
	"io"
	"math"
	"net/netip"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/lagopus/ipsecd/ipsec/km"
	"github.com/lagopus/ipsecd/ipsec/sad"
	"github.com/lagopus/ipsecd/ipsec/transform"
	vlog "github.com/lagopus/ipsecd/log"
	"github.com/lagopus/ipsecd/utils/hashlist"
	"github.com/pkg/errors"
)

const moduleName = "pfkey"

var log = vlog.DefaultLogger()

var satypes = map[transform.Protocol]uint8{
	transform.ProtoAH:     SADB_SATYPE_AH,
	transform.ProtoESP:    SADB_SATYPE_ESP,
	transform.ProtoIPComp: SADB_X_SATYPE_IPCOMP,
}

var protocols = map[uint8]transform.Protocol{
	SADB_SATYPE_AH:       transform.ProtoAH,
	SADB_SATYPE_ESP:      transform.ProtoESP,
	SADB_X_SATYPE_IPCOMP: transform.ProtoIPComp,
}

// PF_KEY numbers the encryption algorithms as the DOI does, but not
// the authentication ones.
var aalgs = map[uint16]uint8{
	transform.AuthHMACMD5:    SADB_AALG_MD5HMAC,
	transform.AuthHMACSHA1:   SADB_AALG_SHA1HMAC,
	transform.AuthHMACSHA256: SADB_X_AALG_SHA2_256HMAC,
	transform.AuthHMACSHA384: SADB_X_AALG_SHA2_384HMAC,
	transform.AuthHMACSHA512: SADB_X_AALG_SHA2_512HMAC,
	transform.AuthAESXCBC:    SADB_X_AALG_AES_XCBC_MAC,
}

func toAuthID(aalg uint8) uint16 {
	for id, a := range aalgs {
		if a == aalg {
			return id
		}
	}
	return 0
}

func toLimit(v uint64) uint64 {
	if v == math.MaxUint64 {
		return 0
	}
	return v
}

// AcquireQueueLen is the number of ACQUIRE messages queued per key
// daemon. Further messages are dropped until the daemon catches up.
const AcquireQueueLen = 64

// conn is a connected key daemon.
type conn struct {
	mu    sync.Mutex // serializes writes
	queue chan *Message
}

// KeyManager is a key manager whose negotiations are done by key
// daemons connected through Serve.
type KeyManager struct {
	km.Base
	coord   km.Coordinator
	id      uint32
	dropped atomic.Uint64

	lock  sync.Mutex
	conns *hashlist.HashList[io.Writer, *conn] // in connect order
}

// New returns a PF_KEY key manager driving coord.
func New(coord km.Coordinator) *KeyManager {
	return &KeyManager{
		coord: coord,
		conns: hashlist.New[io.Writer, *conn](),
	}
}

// Attach attaches the key manager to r.
func (k *KeyManager) Attach(r km.Attacher) error {
	id, err := r.Attach(k)
	if err != nil {
		return errors.Wrap(err, "Can't attach pfkey key manager")
	}
	k.id = id
	log.Info("attached as key manager %d", id)
	return nil
}

// ID returns the key manager id, 0 before Attach.
func (k *KeyManager) ID() uint32 {
	return k.id
}

// Daemons returns the number of connected key daemons.
func (k *KeyManager) Daemons() int {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.conns.Len()
}

// Dropped returns the number of ACQUIRE messages dropped on full
// queues.
func (k *KeyManager) Dropped() uint64 {
	return k.dropped.Load()
}

// ModuleShow reports the key manager id and the connected daemons
// for the debug shell.
func (k *KeyManager) ModuleShow(args ...string) (interface{}, error) {
	return struct {
		ID      uint32 `json:"id"`
		Daemons int    `json:"daemons"`
		Dropped uint64 `json:"dropped"`
	}{k.id, k.Daemons(), k.Dropped()}, nil
}

func address(a netip.Addr) *Address {
	a = a.Unmap()
	return &Address{Addr: a, Prefixlen: uint8(a.BitLen())}
}

// AcquireMessage returns the SADB_ACQUIRE message for sa.
func AcquireMessage(id sad.KMSeq, sa *sad.Association) *Message {
	satype := uint8(SADB_SATYPE_UNSPEC)
	prop := &Proposal{Replay: IPSEC_REPLAYWSIZE}
	hard := transform.Unlimited
	if sa.Policy != nil {
		hard = sa.Policy.Action.Hard
		for i, t := range sa.Policy.Action.Proposal {
			if i == 0 {
				satype = satypes[t.Protocol]
			}
			prop.Combs = append(prop.Combs, combs(t, hard)...)
		}
	}
	return &Message{
		Header:     *NewSadbMsg(SADB_ACQUIRE, satype, id.Seq, id.KM),
		SrcAddress: address(sa.Src.Netip()),
		DstAddress: address(sa.Dst.Netip()),
		Proposal:   prop,
	}
}

// combs expands a transform into one combination per encryption and
// authentication algorithm pair.
func combs(t *transform.Transform, hard transform.Lifetime) []SadbComb {
	encr := t.Encr
	if len(encr) == 0 {
		encr = []transform.Algorithm{{}}
	}
	auth := t.Auth
	if len(auth) == 0 {
		auth = []transform.Algorithm{{}}
	}
	var c []SadbComb
	for _, e := range encr {
		for _, a := range auth {
			c = append(c, SadbComb{
				SadbCombEncrypt:        uint8(e.ID),
				SadbCombEncryptMinbits: uint16(e.KeyLen),
				SadbCombAuth:           aalgs[a.ID],
				SadbCombAuthMinbits:    uint16(a.KeyLen),
				SadbCombHardBytes:      toLimit(hard.Bytes),
				SadbCombHardAddtime:    toLimit(hard.Time),
			})
		}
	}
	return c
}

// Acquire queues SADB_ACQUIRE to every connected key daemon. It never
// blocks on a daemon.
func (k *KeyManager) Acquire(id sad.KMSeq, sa *sad.Association) {
	if sa == nil {
		return
	}
	msg := AcquireMessage(id, sa)

	k.lock.Lock()
	defer k.lock.Unlock()

	if k.conns.Len() == 0 {
		log.Warning("%v: no key daemon for %v", id, sa)
		return
	}
	k.conns.Each(func(w io.Writer, c *conn) bool {
		select {
		case c.queue <- msg:
		default:
			k.dropped.Add(1)
			log.Warning("%v: acquire queue full, dropped", id)
		}
		return true
	})
}

func (k *KeyManager) register(w io.Writer) *conn {
	k.lock.Lock()
	defer k.lock.Unlock()
	c := &conn{queue: make(chan *Message, AcquireQueueLen)}
	k.conns.Add(w, c)
	return c
}

// writer writes queued ACQUIRE messages to w until stop is closed.
func (k *KeyManager) writer(w io.Writer, c *conn, stop <-chan struct{}) {
	for {
		select {
		case m := <-c.queue:
			c.mu.Lock()
			err := m.Serialize(w)
			c.mu.Unlock()
			if err != nil {
				log.Err("acquire seq %d: %v", m.Header.SadbMsgSeq, err)
			}
		case <-stop:
			return
		}
	}
}

func (k *KeyManager) unregister(w io.Writer) {
	k.lock.Lock()
	defer k.lock.Unlock()
	k.conns.Remove(w)
}

// Serve handles requests read from rw until EOF or ctx is done. rw
// is closed on cancel if it is an io.Closer. Each read must return
// one whole message, as a unixpacket socket does.
func (k *KeyManager) Serve(ctx context.Context, rw io.ReadWriter) error {
	c := k.register(rw)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		k.writer(rw, c, stop)
	}()
	defer func() {
		k.unregister(rw)
		close(stop)
		wg.Wait()
	}()

	done := make(chan struct{})
	defer close(done)
	if c, ok := rw.(io.Closer); ok {
		go func() {
			select {
			case <-ctx.Done():
				c.Close()
			case <-done:
			}
		}()
	}

	for {
		m, err := ReadMessage(rw)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "Can't read pfkey message")
		}
		log.Debug(0, "received %v", &m.Header)

		reply := k.handle(m)
		c.mu.Lock()
		err = reply.Serialize(rw)
		c.mu.Unlock()
		if err != nil {
			return errors.Wrap(err, "Can't write pfkey reply")
		}
	}
}

func toErrno(err error) syscall.Errno {
	switch c := errors.Cause(err); c {
	case sad.ErrNotFound:
		return syscall.ENOENT
	case sad.ErrSPIExhausted, sad.ErrSPIInUse:
		return syscall.EEXIST
	default:
		if e, ok := c.(syscall.Errno); ok {
			return e
		}
	}
	return syscall.EINVAL
}

func keyInfo(m *Message) (*transform.KeyInfo, error) {
	proto, ok := protocols[m.Header.SadbMsgSatype]
	if !ok || m.Sa == nil {
		return nil, syscall.EINVAL
	}
	key := &transform.KeyInfo{Protocol: proto}
	if m.Sa.SadbSaEncrypt != SADB_EALG_NONE {
		key.Encr.ID = uint16(m.Sa.SadbSaEncrypt)
		if m.EncKey != nil {
			key.Encr.Len = int(m.EncKey.Bits)
			key.Encr.Key = append([]byte(nil), m.EncKey.Key...)
		}
	}
	if m.Sa.SadbSaAuth != SADB_AALG_NONE {
		key.Auth.ID = toAuthID(m.Sa.SadbSaAuth)
		if key.Auth.ID == 0 {
			return nil, syscall.EINVAL
		}
		if m.AuthKey != nil {
			key.Auth.Len = int(m.AuthKey.Bits)
			key.Auth.Key = append([]byte(nil), m.AuthKey.Key...)
		}
	}
	return key, nil
}

// softLifetime returns the soft lifetime of m. A zero limit sets no
// soft limit, as in PF_KEY.
func softLifetime(m *Message) transform.Lifetime {
	if m.SoftLifetime == nil {
		return transform.Lifetime{}
	}
	return transform.Lifetime{
		Bytes: m.SoftLifetime.SadbLifetimeBytes,
		Time:  m.SoftLifetime.SadbLifetimeAddtime,
	}
}

// handle runs one request and returns the reply. The reply echoes
// the request header, with errno set on failure.
func (k *KeyManager) handle(m *Message) *Message {
	id := sad.KMSeq{KM: m.Header.SadbMsgPid, Seq: m.Header.SadbMsgSeq}
	reply := &Message{
		Header:     m.Header,
		SrcAddress: m.SrcAddress,
		DstAddress: m.DstAddress,
	}
	err := k.request(id, m, reply)
	if err != nil {
		log.Err("%v: %s: %v", id, msgTypeString(m.Header.SadbMsgType), err)
		reply.Header.SadbMsgErrno = uint8(toErrno(err))
		reply.Sa = nil
		return reply
	}
	return reply
}

func (k *KeyManager) request(id sad.KMSeq, m *Message, reply *Message) error {
	switch m.Header.SadbMsgType {
	case SADB_GETSPI:
		if m.SPIRange == nil {
			return syscall.EINVAL
		}
		spi, err := k.coord.GetSPI(id, m.SPIRange.SadbSpirangeMin, m.SPIRange.SadbSpirangeMax)
		if err != nil {
			return err
		}
		reply.Sa = &SadbSa{SadbSaSpi: spi, SadbSaState: SADB_SASTATE_LARVAL}
		return nil

	case SADB_UPDATE, SADB_ADD:
		key, err := keyInfo(m)
		if err != nil {
			return err
		}
		soft := softLifetime(m)
		spi := m.Sa.SadbSaSpi
		if m.Header.SadbMsgType == SADB_UPDATE {
			err = k.coord.CompleteGetSPI(id, spi, key, soft, nil)
		} else {
			err = k.coord.CompleteAcquire(id, spi, key, soft, nil)
		}
		if err != nil {
			return err
		}
		sa := *m.Sa
		sa.SadbSaState = SADB_SASTATE_MATURE
		reply.Sa = &sa
		return nil
	}
	return syscall.EOPNOTSUPP
}

func init() {
	if l, err := vlog.New(moduleName); err == nil {
		log = l
	} else {
		log.Fatalf("Can't create logger: %s", moduleName)
	}
}
