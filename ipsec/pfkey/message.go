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
	"io"
	"syscall"
)

// Message is a pfkey message with the extensions this package knows.
type Message struct {
	Header          SadbMsg
	Sa              *SadbSa
	CurrentLifetime *SadbLifetime /* optional */
	HardLifetime    *SadbLifetime /* optional */
	SoftLifetime    *SadbLifetime /* optional */
	SrcAddress      *Address
	DstAddress      *Address
	AuthKey         *Key
	EncKey          *Key
	SPIRange        *SadbSPIRange
	Proposal        *Proposal
}

// Serialize serializes the message. Extensions are written in type
// order.
func (m *Message) Serialize(w io.Writer) error {
	var s []Serializer
	add := func(t uint16, ok bool, v Serializer) {
		if ok {
			s = append(s, ext(t, v))
		}
	}
	add(SADB_EXT_SA, m.Sa != nil, m.Sa)
	add(SADB_EXT_LIFETIME_CURRENT, m.CurrentLifetime != nil, m.CurrentLifetime)
	add(SADB_EXT_LIFETIME_HARD, m.HardLifetime != nil, m.HardLifetime)
	add(SADB_EXT_LIFETIME_SOFT, m.SoftLifetime != nil, m.SoftLifetime)
	add(SADB_EXT_ADDRESS_SRC, m.SrcAddress != nil, m.SrcAddress)
	add(SADB_EXT_ADDRESS_DST, m.DstAddress != nil, m.DstAddress)
	add(SADB_EXT_KEY_AUTH, m.AuthKey != nil, m.AuthKey)
	add(SADB_EXT_KEY_ENCRYPT, m.EncKey != nil, m.EncKey)
	add(SADB_EXT_PROPOSAL, m.Proposal != nil, m.Proposal)
	add(SADB_EXT_SPIRANGE, m.SPIRange != nil, m.SPIRange)

	t := SadbMsgTransport{SadbMsg: &m.Header, Serializer: s}
	return t.Serialize(w)
}

// ReadMessage reads one message from r. A read returning a whole
// datagram is completed from r if it is short.
func ReadMessage(r io.Reader) (*Message, error) {
	b := make([]byte, PfkeyBufferLen)
	l, err := io.ReadAtLeast(r, b, SadbMsgLen)
	if err != nil {
		return nil, err
	}
	m := &Message{}
	if err := m.Header.Deserialize(bytes.NewReader(b[:SadbMsgLen])); err != nil {
		return nil, err
	}
	if m.Header.SadbMsgVersion != PF_KEY_V2 {
		return nil, syscall.EINVAL
	}
	total := toByteLen(m.Header.SadbMsgLen)
	if total < SadbMsgLen || total > PfkeyBufferLen {
		return nil, syscall.EMSGSIZE
	}
	if l < total {
		if _, err := io.ReadFull(r, b[l:total]); err != nil {
			return nil, err
		}
	}
	if err := m.parseExtensions(b[SadbMsgLen:total]); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseMessage parses one complete message.
func ParseMessage(b []byte) (*Message, error) {
	return ReadMessage(bytes.NewReader(b))
}

func (m *Message) parseExtensions(b []byte) error {
	for len(b) > 0 {
		var e SadbExt
		if len(b) < SadbExtMsgLen {
			return syscall.EINVAL
		}
		if err := e.Deserialize(bytes.NewReader(b[:SadbExtMsgLen])); err != nil {
			return err
		}
		l := toByteLen(e.SadbExtLen)
		if l < SadbExtMsgLen || l > len(b) {
			return syscall.EINVAL
		}
		body := b[SadbExtMsgLen:l]
		r := bytes.NewReader(body)
		b = b[l:]

		var err error
		switch e.SadbExtType {
		case SADB_EXT_SA:
			m.Sa = &SadbSa{}
			err = m.Sa.Deserialize(r)
		case SADB_EXT_LIFETIME_CURRENT:
			m.CurrentLifetime = &SadbLifetime{}
			err = m.CurrentLifetime.Deserialize(r)
		case SADB_EXT_LIFETIME_HARD:
			m.HardLifetime = &SadbLifetime{}
			err = m.HardLifetime.Deserialize(r)
		case SADB_EXT_LIFETIME_SOFT:
			m.SoftLifetime = &SadbLifetime{}
			err = m.SoftLifetime.Deserialize(r)
		case SADB_EXT_ADDRESS_SRC:
			m.SrcAddress = &Address{}
			err = m.SrcAddress.Deserialize(r, len(body))
		case SADB_EXT_ADDRESS_DST:
			m.DstAddress = &Address{}
			err = m.DstAddress.Deserialize(r, len(body))
		case SADB_EXT_KEY_AUTH:
			m.AuthKey = &Key{}
			err = m.AuthKey.Deserialize(r, len(body))
		case SADB_EXT_KEY_ENCRYPT:
			m.EncKey = &Key{}
			err = m.EncKey.Deserialize(r, len(body))
		case SADB_EXT_SPIRANGE:
			m.SPIRange = &SadbSPIRange{}
			err = m.SPIRange.Deserialize(r)
		case SADB_EXT_PROPOSAL:
			m.Proposal = &Proposal{}
			err = m.Proposal.Deserialize(r, len(body))
		default:
			if e.SadbExtType == SADB_EXT_RESERVED || e.SadbExtType > SADB_EXT_MAX {
				return syscall.EINVAL
			}
			// known to PF_KEY but not used here
		}
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return syscall.EINVAL
			}
			return err
		}
	}
	return nil
}
