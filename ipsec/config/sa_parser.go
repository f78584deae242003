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


package config

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/lagopus/ipsecd/ipsec/km/manual"
	"github.com/lagopus/ipsecd/ipsec/transform"
	"github.com/pkg/errors"
)

type sadataArgs struct {
	data  *manual.SAData
	proto bool
}

type sadataParser struct {
	config      *Config
	parserFuncs map[string]keywordFunc[*sadataArgs]
}

func newSADataParser(config *Config) *sadataParser {
	p := &sadataParser{
		config:      config,
		parserFuncs: map[string]keywordFunc[*sadataArgs]{},
	}
	p.parserFuncs["spi"] = p.parseSPI
	p.parserFuncs["proto"] = p.parseProto
	p.parserFuncs["encr"] = p.parseKey(func(k *transform.KeyInfo) *transform.AlgInfo { return &k.Encr })
	p.parserFuncs["auth"] = p.parseKey(func(k *transform.KeyInfo) *transform.AlgInfo { return &k.Auth })
	return p
}

func (p *sadataParser) parseSPI(args *sadataArgs, values []string) error {
	s, err := single(values)
	if err != nil {
		return err
	}
	spi, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return errors.Errorf("Invalid SPI: %v", s)
	}
	args.data.SPI = uint32(spi)
	return nil
}

func (p *sadataParser) parseProto(args *sadataArgs, values []string) error {
	s, err := single(values)
	if err != nil {
		return err
	}
	if args.data.Key.Protocol, err = transform.ParseProtocol(s); err != nil {
		return err
	}
	args.proto = true
	return nil
}

// parseKey parses "ID HEXKEY". The key length is the length of the
// key in bits.
func (p *sadataParser) parseKey(field func(*transform.KeyInfo) *transform.AlgInfo) keywordFunc[*sadataArgs] {
	return func(args *sadataArgs, values []string) error {
		if len(values) != 2 {
			return errors.New("Bad format")
		}
		id, err := strconv.ParseUint(values[0], 0, 16)
		if err != nil || id == 0 {
			return errors.Errorf("Invalid algorithm: %v", values[0])
		}
		key, err := hex.DecodeString(strings.TrimPrefix(values[1], "0x"))
		if err != nil {
			return errors.Errorf("Invalid key: %v", values[1])
		}
		info := field(&args.data.Key)
		info.ID = uint16(id)
		info.Key = key
		info.Len = 8 * len(key)
		return nil
	}
}

// Parse defines named SA data for manual entries.
func (p *sadataParser) Parse(tokens []string) error {
	if len(tokens) < 3 {
		return errors.New("Bad format")
	}
	name := tokens[0]
	if _, ok := p.config.SAData[name]; ok {
		return errors.Errorf("Already exists : %v", name)
	}
	args := &sadataArgs{data: &manual.SAData{Name: name}}
	if err := dispatch(p.parserFuncs, args, tokens[1:]); err != nil {
		return err
	}
	if !args.proto {
		return errors.New("missing argument proto")
	}
	p.config.SAData[name] = args.data
	log.Debug(0, "sadata %v", args.data)
	return nil
}

type manualArgs struct {
	sel  selectorArgs
	data *manual.SAData
}

type manualParser struct {
	config      *Config
	parserFuncs map[string]keywordFunc[*manualArgs]
}

func newManualParser(config *Config) *manualParser {
	p := &manualParser{
		config:      config,
		parserFuncs: map[string]keywordFunc[*manualArgs]{},
	}
	addSelectorFuncs(p.parserFuncs, func(args *manualArgs) *selectorArgs { return &args.sel })
	p.parserFuncs["sa"] = p.parseSA
	return p
}

func (p *manualParser) parseSA(args *manualArgs, values []string) error {
	name, err := single(values)
	if err != nil {
		return err
	}
	data, ok := p.config.SAData[name]
	if !ok {
		return errors.Errorf("Not found sadata %v", name)
	}
	args.data = data
	return nil
}

// Parse adds a manual key entry.
func (p *manualParser) Parse(tokens []string) error {
	args := &manualArgs{}
	if err := dispatch(p.parserFuncs, args, tokens); err != nil {
		return err
	}
	if args.data == nil {
		return errors.New("missing argument sa")
	}
	sel, err := args.sel.selector()
	if err != nil {
		return err
	}
	p.config.Entries = append(p.config.Entries, manual.Entry{Selector: sel, Data: args.data})
	return nil
}

type triggerParser struct {
	config      *Config
	parserFuncs map[string]keywordFunc[*selectorArgs]
}

func newTriggerParser(config *Config) *triggerParser {
	p := &triggerParser{
		config:      config,
		parserFuncs: map[string]keywordFunc[*selectorArgs]{},
	}
	addSelectorFuncs(p.parserFuncs, func(args *selectorArgs) *selectorArgs { return args })
	return p
}

// Parse adds the items of a selector to the trigger list.
func (p *triggerParser) Parse(tokens []string) error {
	if len(tokens) == 0 {
		return errors.New("Bad format")
	}
	args := &selectorArgs{}
	if err := dispatch(p.parserFuncs, args, tokens); err != nil {
		return err
	}
	sel, err := args.selector()
	if err != nil {
		return err
	}
	p.config.Trigger = append(p.config.Trigger, sel...)
	return nil
}
