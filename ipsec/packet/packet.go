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

// Package packet is the packet buffer handed to the engine with the
// annotations the engine and the pipelines exchange.
package packet

import (
	"fmt"

	"github.com/lagopus/ipsecd/ipsec/sad"
	"github.com/lagopus/ipsecd/ipsec/selector"
)

// NoNetwork is the Network offset of a packet without a network
// header.
const NoNetwork = -1

// Packet is a packet buffer.
type Packet struct {
	Data    []byte
	Network int // offset of the network header in Data

	sa  *sad.Association
	spi uint32
	dst selector.Addr
}

// New returns a packet whose data starts with the network header.
func New(data []byte) *Packet {
	return &Packet{Data: data}
}

// NetworkHeader returns the data from the network header on, or nil.
func (p *Packet) NetworkHeader() []byte {
	if p.Network < 0 || p.Network >= len(p.Data) {
		return nil
	}
	return p.Data[p.Network:]
}

// SA returns the SA annotation.
func (p *Packet) SA() *sad.Association {
	return p.sa
}

// SetSA sets the SA annotation.
func (p *Packet) SetSA(sa *sad.Association) {
	p.sa = sa
}

// ClearSA removes the SA annotation.
func (p *Packet) ClearSA() {
	p.sa = nil
}

// SPI returns the SPI annotation.
func (p *Packet) SPI() uint32 {
	return p.spi
}

// SetSPI sets the SPI annotation.
func (p *Packet) SetSPI(spi uint32) {
	p.spi = spi
}

// Dst returns the destination annotation.
func (p *Packet) Dst() selector.Addr {
	return p.dst
}

// SetDst sets the destination annotation.
func (p *Packet) SetDst(dst selector.Addr) {
	p.dst = dst
}

func (p *Packet) String() string {
	return fmt.Sprintf("{len=%d network=%d spi=%#x sa=%v}", len(p.Data), p.Network, p.spi, p.sa != nil)
}
