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


// Package adapter is a pipeline for transform elements that take a
// fixed size key pair and only do tunnel mode.
package adapter

import (
	"github.com/lagopus/ipsecd/ipsec/packet"
	"github.com/lagopus/ipsecd/ipsec/transform"
	vlog "github.com/lagopus/ipsecd/log"
	"github.com/pkg/errors"
)

const moduleName = "adapter"

var log = vlog.DefaultLogger()

const (
	// DefaultKeySize is the key size in bytes.
	DefaultKeySize = 16
	// InitialCounter is the first sequence number of a new SA.
	InitialCounter = 1
	// ReplayWindow is the replay window of a new SA.
	ReplayWindow = 32
)

// Errors.
var (
	ErrKeySize    = errors.New("Unsupported key size")
	ErrNotTunnel  = errors.New("Only tunnel mode is supported")
	ErrNoSA       = errors.New("No SA")
	ErrNotAdapted = errors.New("SA is not set up by the adapter")
)

// Context is the data handed to the transform element.
type Context struct {
	Encr    []byte
	Auth    []byte
	Counter uint32
	Window  uint8
}

// Release clears the keys.
func (c *Context) Release() {
	clear(c.Encr)
	clear(c.Auth)
}

// Pipeline is the adapter pipeline.
type Pipeline struct {
	name       string
	capability *transform.Transform
	keySize    int
}

// New returns an adapter advertising capability. keySize <= 0 means
// DefaultKeySize.
func New(name string, capability *transform.Transform, keySize int) *Pipeline {
	if keySize <= 0 {
		keySize = DefaultKeySize
	}
	return &Pipeline{
		name:       name,
		capability: capability,
		keySize:    keySize,
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

// KeySize returns the key size in bytes.
func (p *Pipeline) KeySize() int {
	return p.keySize
}

// Setup returns a context holding copies of the keys.
func (p *Pipeline) Setup(key *transform.KeyInfo, spi uint32, soft transform.Lifetime,
	sa transform.Association) (transform.Context, error) {
	if !p.capability.Match(key) {
		return nil, transform.ErrNoPipeline
	}
	bits := p.keySize * 8
	if key.Encr.Len != bits || key.Auth.Len != bits ||
		len(key.Encr.Key) < p.keySize || len(key.Auth.Key) < p.keySize {
		log.Debug(0, "%s: %#x: %v: want %d bits", p.name, spi, ErrKeySize, bits)
		return nil, ErrKeySize
	}
	if !sa.TunnelMode() {
		log.Debug(0, "%s: %#x: %v", p.name, spi, ErrNotTunnel)
		return nil, ErrNotTunnel
	}
	return &Context{
		Encr:    append([]byte(nil), key.Encr.Key[:p.keySize]...),
		Auth:    append([]byte(nil), key.Auth.Key[:p.keySize]...),
		Counter: InitialCounter,
		Window:  ReplayWindow,
	}, nil
}

// Annotate sets the SPI and destination annotations of a packet
// carrying an SA set up by an adapter, and returns its context.
func Annotate(pkt *packet.Packet) (*Context, error) {
	sa := pkt.SA()
	if sa == nil {
		return nil, ErrNoSA
	}
	ctx, ok := sa.Context().(*Context)
	if !ok {
		return nil, ErrNotAdapted
	}
	pkt.SetSPI(sa.SPI())
	pkt.SetDst(sa.Dst)
	return ctx, nil
}

func init() {
	if l, err := vlog.New(moduleName); err == nil {
		log = l
	} else {
		log.Fatalf("Can't create logger: %s", moduleName)
	}
}
