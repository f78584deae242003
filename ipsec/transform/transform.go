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

// Package transform describes what a transform pipeline can do
// (Transform, Proposal), the negotiated key material (KeyInfo) and the
// contract of pipelines that turn key material into a context.
package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Protocol is an IPsec security protocol identifier (RFC 2407).
type Protocol uint8

// Security protocol ids.
const (
	ProtoReserved Protocol = 0
	ProtoISAKMP   Protocol = 1
	ProtoAH       Protocol = 2
	ProtoESP      Protocol = 3
	ProtoIPComp   Protocol = 4
)

var protocolStrings = map[Protocol]string{
	ProtoReserved: "RESERVED",
	ProtoISAKMP:   "ISAKMP",
	ProtoAH:       "AH",
	ProtoESP:      "ESP",
	ProtoIPComp:   "IPCOMP",
}

func (p Protocol) String() string {
	if s, ok := protocolStrings[p]; ok {
		return s
	}
	return strconv.Itoa(int(p))
}

// ParseProtocol parses "ESP", "AH", "IPCOMP" or a number.
func ParseProtocol(s string) (Protocol, error) {
	u := strings.ToUpper(s)
	for p, name := range protocolStrings {
		if name == u {
			return p, nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, errors.Errorf("Unknown security protocol: %v", s)
	}
	return Protocol(n), nil
}

// Encryption algorithm ids (RFC 2407 ESP transform ids).
const (
	EncrDES      uint16 = 2
	Encr3DES     uint16 = 3
	EncrNull     uint16 = 11
	EncrAESCBC   uint16 = 12
	EncrAESCTR   uint16 = 13
	EncrAESGCM8  uint16 = 18
	EncrAESGCM12 uint16 = 19
	EncrAESGCM16 uint16 = 20
)

// Authentication algorithm ids.
const (
	AuthHMACMD5    uint16 = 1
	AuthHMACSHA1   uint16 = 2
	AuthHMACSHA256 uint16 = 5
	AuthHMACSHA384 uint16 = 6
	AuthHMACSHA512 uint16 = 7
	AuthAESXCBC    uint16 = 9
)

// Compression algorithm ids.
const (
	CompOUI     uint16 = 1
	CompDeflate uint16 = 2
	CompLZS     uint16 = 3
	CompLZJH    uint16 = 4
)

// Algorithm is an accepted algorithm with its minimum key length in
// bits. KeyLen 0 means any length.
type Algorithm struct {
	ID     uint16
	KeyLen int
}

func (a Algorithm) String() string {
	if a.KeyLen == 0 {
		return strconv.Itoa(int(a.ID))
	}
	return fmt.Sprintf("%d/%d", a.ID, a.KeyLen)
}

// ParseAlgorithm parses "id" or "id/keylen".
func ParseAlgorithm(s string) (Algorithm, error) {
	id, kl, hasLen := strings.Cut(s, "/")
	n, err := strconv.ParseUint(id, 0, 16)
	if err != nil {
		return Algorithm{}, errors.Errorf("Invalid algorithm: %v", s)
	}
	a := Algorithm{ID: uint16(n)}
	if hasLen {
		l, err := strconv.ParseUint(kl, 0, 16)
		if err != nil {
			return Algorithm{}, errors.Errorf("Invalid key length: %v", s)
		}
		a.KeyLen = int(l)
	}
	return a, nil
}

// AlgInfo is negotiated algorithm data.
type AlgInfo struct {
	ID  uint16
	Len int // key length in bits
	Key []byte
}

// KeyInfo is the negotiated key material of one SA.
type KeyInfo struct {
	Protocol Protocol
	Encr     AlgInfo
	Auth     AlgInfo
}

// Clone returns a deep copy of the key info.
func (k *KeyInfo) Clone() *KeyInfo {
	c := *k
	c.Encr.Key = append([]byte(nil), k.Encr.Key...)
	c.Auth.Key = append([]byte(nil), k.Auth.Key...)
	return &c
}

func (k *KeyInfo) String() string {
	return fmt.Sprintf("{%v encr %d/%d auth %d/%d}",
		k.Protocol, k.Encr.ID, k.Encr.Len, k.Auth.ID, k.Auth.Len)
}

// Transform is the set of algorithms a pipeline supports for one
// security protocol.
type Transform struct {
	Protocol Protocol
	Encr     []Algorithm
	Auth     []Algorithm
	Comp     []Algorithm
}

func accepts(algs []Algorithm, info *AlgInfo) bool {
	for _, a := range algs {
		if a.ID == info.ID && info.Len >= a.KeyLen {
			return true
		}
	}
	return false
}

// Match returns true if the key info can be serviced by t. The
// protocol must be equal. A requested encryption or authentication
// algorithm must be listed with a minimum key length not above the
// supplied one.
func (t *Transform) Match(info *KeyInfo) bool {
	if info.Protocol != t.Protocol {
		return false
	}
	if info.Encr.ID != 0 && !accepts(t.Encr, &info.Encr) {
		return false
	}
	if info.Auth.ID != 0 && !accepts(t.Auth, &info.Auth) {
		return false
	}
	return true
}

func (t *Transform) String() string {
	list := func(algs []Algorithm) string {
		s := make([]string, len(algs))
		for i, a := range algs {
			s[i] = a.String()
		}
		return strings.Join(s, " ")
	}
	return fmt.Sprintf("{%v encr [%s] auth [%s] comp [%s]}",
		t.Protocol, list(t.Encr), list(t.Auth), list(t.Comp))
}

// Proposal is a list of alternative transforms.
type Proposal []*Transform

// Match returns true if any transform of the proposal matches.
func (p Proposal) Match(info *KeyInfo) bool {
	for _, t := range p {
		if t.Match(info) {
			return true
		}
	}
	return false
}
