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


// Package xfrm is a pipeline installing SAs into the Linux kernel
// through netlink.
package xfrm

import (
	"math"
	"sync"

	"github.com/lagopus/ipsecd/ipsec/transform"
	vlog "github.com/lagopus/ipsecd/log"
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

const moduleName = "xfrm"

var log = vlog.DefaultLogger()

// ReplayWindow is the replay window of installed SAs.
const ReplayWindow = 32

// Errors.
var (
	ErrProtocol  = errors.New("Unsupported security protocol")
	ErrAlgorithm = errors.New("Unsupported algorithm")
)

// Installer installs and removes kernel states.
type Installer interface {
	Add(state *netlink.XfrmState) error
	Del(state *netlink.XfrmState) error
}

type netlinkInstaller struct{}

func (netlinkInstaller) Add(state *netlink.XfrmState) error {
	return netlink.XfrmStateAdd(state)
}

func (netlinkInstaller) Del(state *netlink.XfrmState) error {
	return netlink.XfrmStateDel(state)
}

// DefaultInstaller installs states with netlink.
var DefaultInstaller Installer = netlinkInstaller{}

var protocols = map[transform.Protocol]netlink.Proto{
	transform.ProtoAH:     netlink.XFRM_PROTO_AH,
	transform.ProtoESP:    netlink.XFRM_PROTO_ESP,
	transform.ProtoIPComp: netlink.XFRM_PROTO_COMP,
}

type algorithm struct {
	name string
	icv  int // AEAD ICV length in bits
}

var encrAlgorithms = map[uint16]algorithm{
	transform.EncrDES:      {name: "cbc(des)"},
	transform.Encr3DES:     {name: "cbc(des3_ede)"},
	transform.EncrNull:     {name: "ecb(cipher_null)"},
	transform.EncrAESCBC:   {name: "cbc(aes)"},
	transform.EncrAESCTR:   {name: "rfc3686(ctr(aes))"},
	transform.EncrAESGCM8:  {name: "rfc4106(gcm(aes))", icv: 64},
	transform.EncrAESGCM12: {name: "rfc4106(gcm(aes))", icv: 96},
	transform.EncrAESGCM16: {name: "rfc4106(gcm(aes))", icv: 128},
}

type authAlgorithm struct {
	name  string
	trunc int
}

var authAlgorithms = map[uint16]authAlgorithm{
	transform.AuthHMACMD5:    {"hmac(md5)", 96},
	transform.AuthHMACSHA1:   {"hmac(sha1)", 96},
	transform.AuthHMACSHA256: {"hmac(sha256)", 128},
	transform.AuthHMACSHA384: {"hmac(sha384)", 192},
	transform.AuthHMACSHA512: {"hmac(sha512)", 256},
	transform.AuthAESXCBC:    {"xcbc(aes)", 96},
}

// the kernel takes 0 as no limit
func limit(v uint64) uint64 {
	if v == math.MaxUint64 {
		return 0
	}
	return v
}

// State returns the kernel state for an SA.
func State(key *transform.KeyInfo, spi uint32, soft transform.Lifetime,
	sa transform.Association) (*netlink.XfrmState, error) {
	proto, ok := protocols[key.Protocol]
	if !ok {
		return nil, errors.Wrapf(ErrProtocol, "%v", key.Protocol)
	}
	src, dst := sa.Endpoints()
	state := &netlink.XfrmState{
		Src:          src.IP(),
		Dst:          dst.IP(),
		Proto:        proto,
		Mode:         netlink.XFRM_MODE_TRANSPORT,
		Spi:          int(spi),
		Reqid:        sa.PolicyIndex() + 1,
		ReplayWindow: ReplayWindow,
		Limits: netlink.XfrmStateLimits{
			ByteSoft: limit(soft.Bytes),
			TimeSoft: limit(soft.Time),
		},
	}
	if sa.TunnelMode() {
		state.Mode = netlink.XFRM_MODE_TUNNEL
	}

	if key.Encr.ID != 0 {
		a, ok := encrAlgorithms[key.Encr.ID]
		if !ok {
			return nil, errors.Wrapf(ErrAlgorithm, "encr %d", key.Encr.ID)
		}
		algo := &netlink.XfrmStateAlgo{
			Name: a.name,
			Key:  append([]byte(nil), key.Encr.Key...),
		}
		if a.icv != 0 {
			algo.ICVLen = a.icv
			state.Aead = algo
		} else {
			state.Crypt = algo
		}
	}
	if key.Auth.ID != 0 {
		a, ok := authAlgorithms[key.Auth.ID]
		if !ok {
			return nil, errors.Wrapf(ErrAlgorithm, "auth %d", key.Auth.ID)
		}
		state.Auth = &netlink.XfrmStateAlgo{
			Name:        a.name,
			Key:         append([]byte(nil), key.Auth.Key...),
			TruncateLen: a.trunc,
		}
	}
	return state, nil
}

// Context is an installed kernel state.
type Context struct {
	State *netlink.XfrmState

	installer Installer
	once      sync.Once
}

// Release removes the state from the kernel.
func (c *Context) Release() {
	c.once.Do(func() {
		if err := c.installer.Del(c.State); err != nil {
			log.Err("Can't delete state %#x: %v", c.State.Spi, err)
		}
	})
}

// Pipeline is the xfrm pipeline.
type Pipeline struct {
	name       string
	capability *transform.Transform
	installer  Installer
}

// New returns a pipeline installing states with installer, or with
// DefaultInstaller if nil.
func New(name string, capability *transform.Transform, installer Installer) *Pipeline {
	if installer == nil {
		installer = DefaultInstaller
	}
	return &Pipeline{
		name:       name,
		capability: capability,
		installer:  installer,
	}
}

// Name returns the name of the pipeline.
func (p *Pipeline) Name() string {
	return p.name
}

// Capability returns the advertised transform.
func (p *Pipeline) Capability() *transform.Transform {
	return p.capability
}

// Setup installs the state of the SA.
func (p *Pipeline) Setup(key *transform.KeyInfo, spi uint32, soft transform.Lifetime,
	sa transform.Association) (transform.Context, error) {
	state, err := State(key, spi, soft, sa)
	if err != nil {
		return nil, err
	}
	if err := p.installer.Add(state); err != nil {
		return nil, errors.Wrapf(err, "Can't add state %#x", spi)
	}
	log.Debug(0, "%s: installed %v", p.name, state)
	return &Context{State: state, installer: p.installer}, nil
}

func init() {
	if l, err := vlog.New(moduleName); err == nil {
		log = l
	} else {
		log.Fatalf("Can't create logger: %s", moduleName)
	}
}
