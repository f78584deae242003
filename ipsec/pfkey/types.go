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

// PF_KEY v2 constants (RFC 2367).
const (
	PF_KEY_V2 = 2

	SADB_RESERVED = 0
	SADB_GETSPI   = 1
	SADB_UPDATE   = 2
	SADB_ADD      = 3
	SADB_DELETE   = 4
	SADB_GET      = 5
	SADB_ACQUIRE  = 6
	SADB_REGISTER = 7
	SADB_EXPIRE   = 8
	SADB_FLUSH    = 9
	SADB_DUMP     = 10

	SADB_SASTATE_LARVAL = 0
	SADB_SASTATE_MATURE = 1
	SADB_SASTATE_DYING  = 2
	SADB_SASTATE_DEAD   = 3

	SADB_SATYPE_UNSPEC   = 0
	SADB_SATYPE_AH       = 2
	SADB_SATYPE_ESP      = 3
	SADB_X_SATYPE_IPCOMP = 9

	SADB_AALG_NONE           = 0
	SADB_AALG_MD5HMAC        = 2
	SADB_AALG_SHA1HMAC       = 3
	SADB_X_AALG_SHA2_256HMAC = 5
	SADB_X_AALG_SHA2_384HMAC = 6
	SADB_X_AALG_SHA2_512HMAC = 7
	SADB_X_AALG_AES_XCBC_MAC = 9

	SADB_EALG_NONE            = 0
	SADB_EALG_DESCBC          = 2
	SADB_EALG_3DESCBC         = 3
	SADB_EALG_NULL            = 11
	SADB_X_EALG_AESCBC        = 12
	SADB_X_EALG_AESCTR        = 13
	SADB_X_EALG_AES_GCM_ICV8  = 18
	SADB_X_EALG_AES_GCM_ICV12 = 19
	SADB_X_EALG_AES_GCM_ICV16 = 20

	SADB_EXT_RESERVED         = 0
	SADB_EXT_SA               = 1
	SADB_EXT_LIFETIME_CURRENT = 2
	SADB_EXT_LIFETIME_HARD    = 3
	SADB_EXT_LIFETIME_SOFT    = 4
	SADB_EXT_ADDRESS_SRC      = 5
	SADB_EXT_ADDRESS_DST      = 6
	SADB_EXT_ADDRESS_PROXY    = 7
	SADB_EXT_KEY_AUTH         = 8
	SADB_EXT_KEY_ENCRYPT      = 9
	SADB_EXT_PROPOSAL         = 13
	SADB_EXT_SPIRANGE         = 16
	SADB_EXT_MAX              = 26

	IPSEC_REPLAYWSIZE = 32
)

// SadbMsgTypes names the message types.
var SadbMsgTypes = [...]string{
	SADB_RESERVED: "SADB_RESERVED",
	SADB_GETSPI:   "SADB_GETSPI",
	SADB_UPDATE:   "SADB_UPDATE",
	SADB_ADD:      "SADB_ADD",
	SADB_DELETE:   "SADB_DELETE",
	SADB_GET:      "SADB_GET",
	SADB_ACQUIRE:  "SADB_ACQUIRE",
	SADB_REGISTER: "SADB_REGISTER",
	SADB_EXPIRE:   "SADB_EXPIRE",
	SADB_FLUSH:    "SADB_FLUSH",
	SADB_DUMP:     "SADB_DUMP",
}

func msgTypeString(t uint8) string {
	if int(t) < len(SadbMsgTypes) {
		return SadbMsgTypes[t]
	}
	return "SADB_UNKNOWN"
}
