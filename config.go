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
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/lagopus/ipsecd/agents/debugsh"
	vlog "github.com/lagopus/ipsecd/log"
	"github.com/pkg/errors"
)

// Defaults of the daemon configuration.
const (
	DefaultConfigFile     = "/usr/local/etc/ipsecd.conf"
	DefaultPolicyFile     = "/usr/local/etc/ipsecd.policy"
	DefaultInboundBuckets = 512
	DefaultAdapterKeySize = 16
	DefaultMetricsAddr    = ":9100"
)

type ipsecConfig struct {
	PolicyFile     string `toml:"policy_file"`      // policy file read at startup
	InboundBuckets int    `toml:"inbound_buckets"`  // size of the inbound SA table
	MaxKeyManagers int    `toml:"max_key_managers"` // 0 for the default
	AdapterKeySize int    `toml:"adapter_key_size"` // key size of the tunnel adapter pipeline
	Xfrm           bool   `toml:"xfrm"`             // install SAs into the kernel
	PFKeySocket    string `toml:"pfkey_socket"`     // unix socket for key daemons, empty to disable
}

type serviceConfig struct {
	Enable bool   `toml:"enable"`
	Addr   string `toml:"addr"`
}

type daemonConfig struct {
	Logging vlog.LogConfig `toml:"logging"`
	IPsec   ipsecConfig    `toml:"ipsec"`
	Debugsh serviceConfig  `toml:"debugsh"`
	Metrics serviceConfig  `toml:"metrics"`
}

func defaultConfig() *daemonConfig {
	return &daemonConfig{
		Logging: vlog.DefaultLogConfig,
		IPsec: ipsecConfig{
			PolicyFile:     DefaultPolicyFile,
			InboundBuckets: DefaultInboundBuckets,
			AdapterKeySize: DefaultAdapterKeySize,
		},
		Debugsh: serviceConfig{Addr: debugsh.DefaultAddr},
		Metrics: serviceConfig{Addr: DefaultMetricsAddr},
	}
}

// Config is a central holder of the configuration file.
type Config struct {
	mutex sync.Mutex
	path  string
	data  string
}

func newConfig(path string) *Config {
	return &Config{path: path}
}

// Decode decodes configuration based on the given interface v.
// Refer to github.com/BurntSushi/toml for details.
func (c *Config) Decode(v interface{}) (*toml.MetaData, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.data == "" {
		if c.path == "" {
			return nil, errors.New("Configuration file path hasn't been set.")
		}
		data, err := os.ReadFile(c.path)
		if err != nil {
			return nil, err
		}
		c.data = string(data)
	}

	md, err := toml.Decode(c.data, v)
	return &md, err
}

func (c *daemonConfig) validate() error {
	if c.IPsec.PolicyFile == "" {
		return errors.New("ipsec.policy_file is empty")
	}
	if c.IPsec.InboundBuckets <= 0 {
		return errors.Errorf("Invalid ipsec.inbound_buckets: %d", c.IPsec.InboundBuckets)
	}
	if c.IPsec.AdapterKeySize <= 0 {
		return errors.Errorf("Invalid ipsec.adapter_key_size: %d", c.IPsec.AdapterKeySize)
	}
	return nil
}

// loadConfig reads the daemon configuration. Missing keys keep their
// defaults and unknown keys are returned as warnings.
func loadConfig(c *Config) (*daemonConfig, []string, error) {
	dc := defaultConfig()
	md, err := c.Decode(dc)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Can't decode configuration")
	}
	if err := dc.validate(); err != nil {
		return nil, nil, err
	}

	var unknown []string
	for _, k := range md.Undecoded() {
		unknown = append(unknown, k.String())
	}
	sort.Strings(unknown)
	return dc, unknown, nil
}
