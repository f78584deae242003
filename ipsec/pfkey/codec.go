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
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"
	"syscall"
)

// Serializer is the interface that wraps the Serialize method.
type Serializer interface {
	Serialize(w io.Writer) error
}

// PfkeyBufferLen represents buffer length for one pfkey message.
const PfkeyBufferLen = 4096

// HostByteOrder is the byte order on host.
var HostByteOrder = binary.NativeEndian

func toPFKeyLen(i int) uint16 {
	return uint16(i / 8)
}

func toByteLen(i uint16) int {
	return int(i) * 8
}

func padding(n int) int {
	return (8 - n%8) % 8
}

// SadbMsg is base message header for pfkey messages.
type SadbMsg struct {
	SadbMsgVersion  uint8
	SadbMsgType     uint8
	SadbMsgErrno    uint8
	SadbMsgSatype   uint8
	SadbMsgLen      uint16
	SadbMsgReserved uint16
	SadbMsgSeq      uint32
	SadbMsgPid      uint32
}

// SadbMsgLen is the length of SadbMsg.
const SadbMsgLen = 16

// NewSadbMsg returns a new SadbMsg.
func NewSadbMsg(mtype, satype uint8, seq, pid uint32) *SadbMsg {
	return &SadbMsg{
		SadbMsgVersion: PF_KEY_V2,
		SadbMsgType:    mtype,
		SadbMsgSatype:  satype,
		SadbMsgSeq:     seq,
		SadbMsgPid:     pid,
	}
}

// Deserialize deserializes SadbMsg.
func (s *SadbMsg) Deserialize(r io.Reader) error {
	return binary.Read(r, HostByteOrder, s)
}

// Serialize serializes SadbMsg.
func (s *SadbMsg) Serialize(w io.Writer) error {
	return binary.Write(w, HostByteOrder, s)
}

func (s *SadbMsg) String() string {
	return fmt.Sprintf("%s satype=%d errno=%d len=%d seq=%d pid=%d",
		msgTypeString(s.SadbMsgType), s.SadbMsgSatype, s.SadbMsgErrno,
		toByteLen(s.SadbMsgLen), s.SadbMsgSeq, s.SadbMsgPid)
}

// SadbMsgTransport is a message header followed by its extensions.
type SadbMsgTransport struct {
	SadbMsg    *SadbMsg
	Serializer []Serializer
}

// Serialize serializes SadbMsgTransport. The message length is set
// from the extensions.
func (s *SadbMsgTransport) Serialize(w io.Writer) error {
	buf := bytes.Buffer{}
	for _, v := range s.Serializer {
		if err := v.Serialize(&buf); err != nil {
			return err
		}
	}
	s.SadbMsg.SadbMsgLen = toPFKeyLen(SadbMsgLen + buf.Len())
	mBuf := bytes.Buffer{}
	if err := s.SadbMsg.Serialize(&mBuf); err != nil {
		return err
	}
	mBuf.Write(buf.Bytes())
	_, err := w.Write(mBuf.Bytes())
	return err
}

// SadbExt is extension header for pfkey messages.
type SadbExt struct {
	SadbExtLen  uint16
	SadbExtType uint16
}

// SadbExtMsgLen is the length of extension header.
const SadbExtMsgLen = 4

// Deserialize deserializes SadbExt.
func (s *SadbExt) Deserialize(r io.Reader) error {
	return binary.Read(r, HostByteOrder, s)
}

// Serialize serializes SadbExt.
func (s *SadbExt) Serialize(w io.Writer) error {
	return binary.Write(w, HostByteOrder, s)
}

// SadbExtTransport represents a pair of extension header and body data.
type SadbExtTransport struct {
	SadbExt    *SadbExt
	Serializer Serializer
}

// Serialize serializes SadbExtTransport. The body is padded to 64
// bits and the extension length is set from it.
func (s *SadbExtTransport) Serialize(w io.Writer) error {
	if s.Serializer == nil {
		return nil
	}
	buf := bytes.Buffer{}
	if err := s.Serializer.Serialize(&buf); err != nil {
		return err
	}
	buf.Write(make([]byte, padding(SadbExtMsgLen+buf.Len())))
	s.SadbExt.SadbExtLen = toPFKeyLen(SadbExtMsgLen + buf.Len())
	if err := s.SadbExt.Serialize(w); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func ext(t uint16, s Serializer) Serializer {
	return &SadbExtTransport{&SadbExt{SadbExtType: t}, s}
}

// SadbSa represents association extension. The SPI is held in host
// order and carried in network order.
type SadbSa struct {
	SadbSaSpi     uint32
	SadbSaReplay  uint8
	SadbSaState   uint8
	SadbSaAuth    uint8
	SadbSaEncrypt uint8
	SadbSaFlags   uint32
}

// SadbSaMsgLen is the length of SadbSa without the extension header.
const SadbSaMsgLen = 12

// Deserialize deserializes SadbSa.
func (s *SadbSa) Deserialize(r io.Reader) error {
	b := make([]byte, SadbSaMsgLen)
	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}
	s.SadbSaSpi = binary.BigEndian.Uint32(b[0:4])
	s.SadbSaReplay = b[4]
	s.SadbSaState = b[5]
	s.SadbSaAuth = b[6]
	s.SadbSaEncrypt = b[7]
	s.SadbSaFlags = HostByteOrder.Uint32(b[8:12])
	return nil
}

// Serialize serializes SadbSa.
func (s *SadbSa) Serialize(w io.Writer) error {
	b := make([]byte, SadbSaMsgLen)
	binary.BigEndian.PutUint32(b[0:4], s.SadbSaSpi)
	b[4] = s.SadbSaReplay
	b[5] = s.SadbSaState
	b[6] = s.SadbSaAuth
	b[7] = s.SadbSaEncrypt
	HostByteOrder.PutUint32(b[8:12], s.SadbSaFlags)
	_, err := w.Write(b)
	return err
}

// SadbLifetime represents lifetime extension.
type SadbLifetime struct {
	SadbLifetimeAllocations uint32
	SadbLifetimeBytes       uint64
	SadbLifetimeAddtime     uint64
	SadbLifetimeUsetime     uint64
}

// Deserialize deserializes SadbLifetime.
func (s *SadbLifetime) Deserialize(r io.Reader) error {
	return binary.Read(r, HostByteOrder, s)
}

// Serialize serializes SadbLifetime.
func (s *SadbLifetime) Serialize(w io.Writer) error {
	return binary.Write(w, HostByteOrder, s)
}

const (
	sizeofSockaddrInet4 = 16
	sizeofSockaddrInet6 = 28
)

// Address represents address extension with its socket address.
type Address struct {
	Proto     uint8
	Prefixlen uint8
	Addr      netip.Addr
	Port      uint16
}

// Serialize serializes Address.
func (s *Address) Serialize(w io.Writer) error {
	var b []byte
	switch {
	case s.Addr.Is4():
		b = make([]byte, 4+sizeofSockaddrInet4)
		HostByteOrder.PutUint16(b[4:], syscall.AF_INET)
		a := s.Addr.As4()
		copy(b[8:12], a[:])
	case s.Addr.Is6():
		b = make([]byte, 4+sizeofSockaddrInet6)
		HostByteOrder.PutUint16(b[4:], syscall.AF_INET6)
		a := s.Addr.As16()
		copy(b[12:28], a[:])
	default:
		return syscall.EINVAL
	}
	b[0] = s.Proto
	b[1] = s.Prefixlen
	binary.BigEndian.PutUint16(b[6:8], s.Port)
	_, err := w.Write(b)
	return err
}

// Deserialize deserializes Address from an extension body of l
// bytes.
func (s *Address) Deserialize(r io.Reader, l int) error {
	if l < 4+sizeofSockaddrInet4 {
		return syscall.EINVAL
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}
	s.Proto = b[0]
	s.Prefixlen = b[1]
	s.Port = binary.BigEndian.Uint16(b[6:8])
	switch HostByteOrder.Uint16(b[4:6]) {
	case syscall.AF_INET:
		s.Addr = netip.AddrFrom4([4]byte(b[8:12]))
	case syscall.AF_INET6:
		if l < 4+sizeofSockaddrInet6 {
			return syscall.EINVAL
		}
		s.Addr = netip.AddrFrom16([16]byte(b[12:28]))
	default:
		return syscall.EINVAL
	}
	return nil
}

// Key represents key extension.
type Key struct {
	Bits uint16
	Key  []byte
}

// NewKey returns a key extension carrying key.
func NewKey(key []byte) *Key {
	return &Key{Bits: uint16(len(key) * 8), Key: key}
}

// Serialize serializes Key.
func (s *Key) Serialize(w io.Writer) error {
	b := make([]byte, 4, 4+len(s.Key))
	HostByteOrder.PutUint16(b, s.Bits)
	b = append(b, s.Key...)
	_, err := w.Write(b)
	return err
}

// Deserialize deserializes Key from an extension body of l bytes.
func (s *Key) Deserialize(r io.Reader, l int) error {
	if l < 4 {
		return syscall.EINVAL
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}
	s.Bits = HostByteOrder.Uint16(b[0:2])
	n := (int(s.Bits) + 7) / 8
	if 4+n > l {
		return syscall.EINVAL
	}
	s.Key = b[4 : 4+n]
	return nil
}

// SadbSPIRange represents spi range extension.
type SadbSPIRange struct {
	SadbSpirangeMin      uint32
	SadbSpirangeMax      uint32
	SadbSpirangeReserved uint32
}

// Deserialize deserializes SadbSPIRange.
func (s *SadbSPIRange) Deserialize(r io.Reader) error {
	return binary.Read(r, HostByteOrder, s)
}

// Serialize serializes SadbSPIRange.
func (s *SadbSPIRange) Serialize(w io.Writer) error {
	return binary.Write(w, HostByteOrder, s)
}

// SadbComb represents combination extension.
type SadbComb struct {
	SadbCombAuth            uint8
	SadbCombEncrypt         uint8
	SadbCombFlags           uint16
	SadbCombAuthMinbits     uint16
	SadbCombAuthMaxbits     uint16
	SadbCombEncryptMinbits  uint16
	SadbCombEncryptMaxbits  uint16
	SadbCombReserved        uint32
	SadbCombSoftAllocations uint32
	SadbCombHardAllocations uint32
	SadbCombSoftBytes       uint64
	SadbCombHardBytes       uint64
	SadbCombSoftAddtime     uint64
	SadbCombHardAddtime     uint64
	SadbCombSoftUsetime     uint64
	SadbCombHardUsetime     uint64
}

// SadbCombLen is the length of SadbComb.
const SadbCombLen = 72

// Proposal represents proposal extension.
type Proposal struct {
	Replay uint8
	Combs  []SadbComb
}

// Serialize serializes Proposal.
func (s *Proposal) Serialize(w io.Writer) error {
	if _, err := w.Write([]byte{s.Replay, 0, 0, 0}); err != nil {
		return err
	}
	for i := range s.Combs {
		if err := binary.Write(w, HostByteOrder, &s.Combs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize deserializes Proposal from an extension body of l
// bytes.
func (s *Proposal) Deserialize(r io.Reader, l int) error {
	if l < 4 || (l-4)%SadbCombLen != 0 {
		return syscall.EINVAL
	}
	h := make([]byte, 4)
	if _, err := io.ReadFull(r, h); err != nil {
		return err
	}
	s.Replay = h[0]
	s.Combs = make([]SadbComb, (l-4)/SadbCombLen)
	for i := range s.Combs {
		if err := binary.Read(r, HostByteOrder, &s.Combs[i]); err != nil {
			return err
		}
	}
	return nil
}
