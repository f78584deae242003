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

package selector

// Direction of traffic. The values are the direction flags of
// MatchKey.
type Direction uint32

// Directions.
const (
	Inbound  = Direction(MatchInbound)
	Outbound = Direction(MatchOutbound)
)

// Valid returns true for Inbound or Outbound.
func (d Direction) Valid() bool {
	return d == Inbound || d == Outbound
}

// Reverse returns the other direction.
func (d Direction) Reverse() Direction {
	switch d {
	case Inbound:
		return Outbound
	case Outbound:
		return Inbound
	}
	return d
}

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "IN"
	case Outbound:
		return "OUT"
	}
	return "Unknown"
}
