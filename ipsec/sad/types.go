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
	"fmt"

	"github.com/pkg/errors"
)

// InvalidSPI is the SPI of an SA which has none yet.
const InvalidSPI uint32 = 0

// DefaultBuckets is the default size of the inbound table.
const DefaultBuckets = 512

// SAState SADB_SASTATE_*
type SAState uint32

// SADB_SASTATE_*
// Dying and Dead are never entered.
const (
	Larval SAState = iota
	Mature
	Dying
	Dead
)

func (s SAState) String() string {
	switch s {
	case Larval:
		return "Larval"
	case Mature:
		return "Mature"
	case Dying:
		return "Dying"
	case Dead:
		return "Dead"
	}
	return "Unknown"
}

// KMSeq identifies one negotiation: the key manager and its
// sequence number. KM 0 is the engine itself.
type KMSeq struct {
	KM  uint32
	Seq uint32
}

func (id KMSeq) String() string {
	return fmt.Sprintf("(%d,%d)", id.KM, id.Seq)
}

// Errors.
var (
	ErrNotFound     = errors.New("Not found")
	ErrSPIRange     = errors.New("Invalid SPI range")
	ErrSPIExhausted = errors.New("All SPIs in range are in use")
	ErrSPIInUse     = errors.New("SPI in use")
)
