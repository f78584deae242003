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


package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lagopus/ipsecd/ipsec/transform"
	vlog "github.com/lagopus/ipsecd/log"
	"github.com/stretchr/testify/suite"
)

const testPolicy = `
transform esp-aes type ESP encr 12/128 auth 5
transform ah-sha type AH auth 5

policy local #udp:500
policy remote 198.51.100.0/24#tcp:80 proposal esp-aes
policy remote 10.1.0.0/16 dir OUT flags REMOTE ADDRESS \
       tunnel 203.0.113.1 192.0.2.1 proposal esp-aes

sadata peer-out spi 0x3000 proto ESP encr 12 000102030405060708090a0b0c0d0e0f
manual remote 198.51.100.7 dir OUT sa peer-out
`

type DaemonTestSuite struct {
	suite.Suite
	dir string
	dc  *daemonConfig
}

func (suite *DaemonTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
	policy := filepath.Join(suite.dir, "ipsecd.policy")
	suite.Require().NoError(os.WriteFile(policy, []byte(testPolicy), 0644))

	suite.dc = defaultConfig()
	suite.dc.IPsec.PolicyFile = policy
	suite.dc.IPsec.InboundBuckets = 8
}

func (suite *DaemonTestSuite) TestInit() {
	suite.Equal(moduleName, log.Name())
	suite.NotEqual(vlog.DefaultLogger(), log)
}

func (suite *DaemonTestSuite) TestPipelines() {
	transforms := map[string]*transform.Transform{
		"b": {Protocol: transform.ProtoESP},
		"a": {Protocol: transform.ProtoAH},
	}

	set := newPipelines(transforms, false, 16)
	suite.Require().Len(set, 2)
	suite.Equal("adapter-a", set[0].Name())
	suite.Equal("adapter-b", set[1].Name())
	suite.Equal(transform.ProtoAH, set[0].Capability().Protocol)

	set = newPipelines(transforms, true, 16)
	var names []string
	for _, p := range set {
		names = append(names, p.Name())
	}
	suite.Equal([]string{"xfrm-a", "xfrm-b", "adapter-a", "adapter-b"}, names)

	suite.Empty(newPipelines(nil, true, 16))
}

func (suite *DaemonTestSuite) TestStartStop() {
	suite.dc.IPsec.PFKeySocket = filepath.Join(suite.dir, "pfkey.sock")
	suite.dc.Debugsh = serviceConfig{Enable: true, Addr: "127.0.0.1:0"}

	d, err := start(suite.dc)
	suite.Require().NoError(err)

	suite.Equal(3, d.engine.DB().Len())
	suite.Equal(2, d.engine.KeyManagers().Len())
	suite.Equal(uint32(1), d.manual.ID())
	suite.NotNil(d.debugsh.Addr())
	suite.Equal(1, d.engine.Notifier().Listeners())

	d.stop()
	suite.Equal(0, d.engine.Notifier().Listeners())
	// contexts were released by stop
	suite.Equal(0, d.engine.Store().Close())
	_, err = os.Stat(suite.dc.IPsec.PFKeySocket)
	suite.True(os.IsNotExist(err))
}

func (suite *DaemonTestSuite) TestStartErrors() {
	suite.dc.IPsec.PolicyFile = filepath.Join(suite.dir, "none.policy")
	_, err := start(suite.dc)
	suite.Error(err)

	suite.SetupTest()
	suite.dc.IPsec.PFKeySocket = filepath.Join(suite.dir, "missing", "pfkey.sock")
	_, err = start(suite.dc)
	suite.Error(err)
}

func TestDaemonTestSuites(t *testing.T) {
	suite.Run(t, new(DaemonTestSuite))
}
