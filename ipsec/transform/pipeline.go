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

package transform

import (
	"math"

	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/pkg/errors"
)

// ErrNoPipeline is returned when no pipeline accepts the key info.
var ErrNoPipeline = errors.New("No pipeline accepts the key")

// Lifetime is a byte and time limit.
type Lifetime struct {
	Bytes uint64
	Time  uint64
}

// Unlimited is the default lifetime.
var Unlimited = Lifetime{Bytes: math.MaxUint64, Time: math.MaxUint64}

// Association is the view of an SA given to pipelines.
type Association interface {
	// Endpoints returns the outer source and destination.
	Endpoints() (src, dst selector.Addr)
	// TunnelMode returns true if the SA is a tunnel mode SA.
	TunnelMode() bool
	// PolicyIndex returns the position of the owning policy in the SPD.
	PolicyIndex() int
}

// Context is the state a pipeline keeps for one SA. It is owned by
// the SA and released when the SA is.
type Context interface {
	Release()
}

// Pipeline turns negotiated key material into a Context.
type Pipeline interface {
	// Name returns the name of the pipeline.
	Name() string
	// Capability returns the transform supported.
	Capability() *Transform
	// Setup returns a context for the SA or an error if the pipeline
	// refuses the key.
	Setup(key *KeyInfo, spi uint32, soft Lifetime, sa Association) (Context, error)
}

// Set is an ordered set of pipelines for one direction.
type Set []Pipeline

// Select returns the index and the context of the first pipeline in
// s which matches the key and accepts it.
func (s Set) Select(key *KeyInfo, spi uint32, soft Lifetime, sa Association) (int, Context, error) {
	for i, p := range s {
		if !p.Capability().Match(key) {
			continue
		}
		ctx, err := p.Setup(key, spi, soft, sa)
		if err != nil {
			continue
		}
		return i, ctx, nil
	}
	return -1, nil, ErrNoPipeline
}

// Capabilities returns the proposal made of the capabilities of every
// pipeline in s.
func (s Set) Capabilities() Proposal {
	p := make(Proposal, len(s))
	for i, pl := range s {
		p[i] = pl.Capability()
	}
	return p
}
