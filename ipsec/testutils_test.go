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
	"net"
	"sync"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/lagopus/ipsecd/ipsec/km"
	"github.com/lagopus/ipsecd/ipsec/metrics"
	"github.com/lagopus/ipsecd/ipsec/packet"
	"github.com/lagopus/ipsecd/ipsec/sad"
	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/spd"
	"github.com/lagopus/ipsecd/ipsec/transform"
	"github.com/vishvananda/netlink"
)

var (
	local4   = net.ParseIP("192.0.2.1").To4()
	remote4  = net.ParseIP("198.51.100.7").To4()
	inner4   = net.ParseIP("10.1.2.3").To4()
	gateway4 = net.ParseIP("203.0.113.1").To4()
)

func mustAddr(s string) selector.Addr {
	a, err := selector.ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

func mustParse(remote, local []string, dir string) selector.Selector {
	s, err := selector.Parse(remote, local, dir)
	if err != nil {
		panic(err)
	}
	return s
}

func serialize(ls ...gopacket.SerializableLayer) *packet.Packet {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return packet.New(buf.Bytes())
}

func ip4(proto layers.IPProtocol, src, dst net.IP) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: proto,
		SrcIP:    src,
		DstIP:    dst,
	}
}

func tcp4(src, dst net.IP, sport, dport uint16) *packet.Packet {
	return serialize(ip4(layers.IPProtocolTCP, src, dst),
		&layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), Window: 1024},
		gopacket.Payload([]byte("GET /")))
}

func udp4(src, dst net.IP, sport, dport uint16) *packet.Packet {
	return serialize(ip4(layers.IPProtocolUDP, src, dst),
		&layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)},
		gopacket.Payload([]byte{1, 2, 3, 4}))
}

func esp4(src, dst net.IP, spi uint32) *packet.Packet {
	return serialize(ip4(layers.IPProtocolESP, src, dst),
		gopacket.Payload([]byte{byte(spi >> 24), byte(spi >> 16), byte(spi >> 8), byte(spi), 0, 0, 0, 1}))
}

var espTransform = &transform.Transform{
	Protocol: transform.ProtoESP,
	Encr:     []transform.Algorithm{{ID: transform.EncrAESCBC, KeyLen: 128}},
	Auth:     []transform.Algorithm{{ID: transform.AuthHMACSHA256}},
}

func espKey() *transform.KeyInfo {
	return &transform.KeyInfo{
		Protocol: transform.ProtoESP,
		Encr:     transform.AlgInfo{ID: transform.EncrAESCBC, Len: 128, Key: make([]byte, 16)},
		Auth:     transform.AlgInfo{ID: transform.AuthHMACSHA256, Len: 256, Key: make([]byte, 32)},
	}
}

type fakeContext struct {
	pipeline string
	spi      uint32
}

func (c *fakeContext) Release() {}

type fakeInstaller struct {
	lock    sync.Mutex
	added   []*netlink.XfrmState
	deleted []*netlink.XfrmState
}

func (f *fakeInstaller) Add(state *netlink.XfrmState) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.added = append(f.added, state)
	return nil
}

func (f *fakeInstaller) Del(state *netlink.XfrmState) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.deleted = append(f.deleted, state)
	return nil
}

type fakePipeline struct {
	name       string
	capability *transform.Transform
}

func (p *fakePipeline) Name() string {
	return p.name
}

func (p *fakePipeline) Capability() *transform.Transform {
	return p.capability
}

func (p *fakePipeline) Setup(key *transform.KeyInfo, spi uint32, soft transform.Lifetime,
	sa transform.Association) (transform.Context, error) {
	return &fakeContext{pipeline: p.name, spi: spi}, nil
}

type hook struct {
	op string
	id sad.KMSeq
	sa *sad.Association
}

type recorder struct {
	km.Base
	lock  sync.Mutex
	hooks []hook
}

func (r *recorder) add(op string, id sad.KMSeq, sa *sad.Association) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.hooks = append(r.hooks, hook{op, id, sa})
}

func (r *recorder) Acquire(id sad.KMSeq, sa *sad.Association) { r.add("acquire", id, sa) }
func (r *recorder) GetSPI(id sad.KMSeq, sa *sad.Association)  { r.add("getspi", id, sa) }
func (r *recorder) Update(id sad.KMSeq, sa *sad.Association)  { r.add("update", id, sa) }
func (r *recorder) Add(id sad.KMSeq, sa *sad.Association)     { r.add("add", id, sa) }

func (r *recorder) ops() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	var ops []string
	for _, h := range r.hooks {
		ops = append(ops, h.op)
	}
	return ops
}

func (r *recorder) last() hook {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.hooks[len(r.hooks)-1]
}

// Policies of newTestEngine, in order.
const (
	policyIKE = iota
	policyTransport
	policyTunnel
)

// newTestDB returns an SPD with
//   - a bypass policy for IKE,
//   - a transport mode ESP policy for TCP to port 80 of 198.51.100.0/24,
//   - a tunnel mode ESP policy for 10.1.0.0/16 bound to the remote
//     address of the packet.
func newTestDB() *spd.DB {
	b := spd.NewBuilder()

	ike := spd.NewPolicyAction()
	if _, err := b.Add(mustParse(nil, []string{"#udp:500"}, ""), ike); err != nil {
		panic(err)
	}

	transport := spd.NewPolicyAction()
	transport.Proposal = transform.Proposal{espTransform}
	if _, err := b.Add(mustParse([]string{"198.51.100.0/24#tcp:80"}, nil, ""), transport); err != nil {
		panic(err)
	}

	tunnel := spd.NewPolicyAction()
	tunnel.Proposal = transform.Proposal{espTransform}
	tunnel.PFP = spd.PFPRemoteAddr
	tunnel.Tunnel = &spd.Tunnel{Remote: mustAddr("203.0.113.1"), Local: mustAddr("192.0.2.1")}
	tunnel.Hard = transform.Lifetime{Bytes: 1 << 30, Time: 3600}
	if _, err := b.Add(mustParse([]string{"10.1.0.0/16"}, nil, "OUT"), tunnel); err != nil {
		panic(err)
	}

	return b.Freeze()
}

func testConfig() Config {
	return Config{
		Buckets: 16,
		Inbound: transform.Set{
			&fakePipeline{"esp-in", espTransform},
		},
		Outbound: transform.Set{
			&fakePipeline{"ah-out", &transform.Transform{Protocol: transform.ProtoAH}},
			&fakePipeline{"esp-out", espTransform},
		},
		Metrics: metrics.New(),
	}
}

func newTestEngine() *Engine {
	return NewEngine(newTestDB(), testConfig())
}

// counter returns the value of a counter of m with the given label
// values, in label name order.
func counter(m *metrics.Metrics, name string, labels ...string) float64 {
	mfs, err := m.Registry.Gather()
	if err != nil {
		panic(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, metric := range mf.GetMetric() {
			lps := metric.GetLabel()
			if len(lps) != len(labels) {
				continue
			}
			for i, lp := range lps {
				if lp.GetValue() != labels[i] {
					continue next
				}
			}
			if g := metric.GetGauge(); g != nil {
				return g.GetValue()
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func gauge(m *metrics.Metrics, name string) float64 {
	return counter(m, name)
}
