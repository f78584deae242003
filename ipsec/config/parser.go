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


// Package config reads the policy file of ipsecd.
//
// The file is line based. A line starting with '#' is a comment and a
// trailing '\' continues a directive on the next line. The first token
// of a directive selects the parser registered for it:
//
//	transform NAME type PROTO [encr ALG...] [auth ALG...] [comp ALG...]
//	policy [remote M...] [local M...] [dir IN|OUT] [flags WORD...]
//	       [tunnel REMOTE [LOCAL]] [bytes N] [time N] [proposal NAME...]
//	sadata NAME spi N proto PROTO [encr ID HEXKEY] [auth ID HEXKEY]
//	manual [remote M...] [local M...] [dir IN|OUT] sa NAME
//	trigger [remote M...] [local M...] [dir IN|OUT]
//
// Keywords are lower case. Flags words are upper case, as in
// "flags REMOTE ADDRESS".
package config

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/lagopus/ipsecd/ipsec/km/manual"
	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/spd"
	"github.com/lagopus/ipsecd/ipsec/transform"
	vlog "github.com/lagopus/ipsecd/log"
	"github.com/pkg/errors"
)

const moduleName = "config"

var log = vlog.DefaultLogger()

// Parser parses one directive. The directive name is not passed.
type Parser interface {
	Parse(tokens []string) error
}

// Config is what a policy file defines.
type Config struct {
	Builder    *spd.Builder
	Transforms map[string]*transform.Transform
	SAData     map[string]*manual.SAData
	Entries    []manual.Entry
	Trigger    selector.Selector
}

// NewConfig returns an empty configuration.
func NewConfig() *Config {
	return &Config{
		Builder:    spd.NewBuilder(),
		Transforms: map[string]*transform.Transform{},
		SAData:     map[string]*manual.SAData{},
	}
}

// RootParser dispatches directives to the registered parsers.
type RootParser struct {
	parsers map[string]Parser
	lock    sync.Mutex
	config  *Config
}

// NewRootParser returns a root parser with the ipsecd directives
// registered. They all fill the same Config.
func NewRootParser() *RootParser {
	p := &RootParser{
		parsers: map[string]Parser{},
		config:  NewConfig(),
	}
	for name, sp := range map[string]Parser{
		"transform": newTransformParser(p.config),
		"policy":    newPolicyParser(p.config),
		"sadata":    newSADataParser(p.config),
		"manual":    newManualParser(p.config),
		"trigger":   newTriggerParser(p.config),
	} {
		if err := p.RegisterParser(name, sp); err != nil {
			panic(err)
		}
	}
	return p
}

func (p *RootParser) directive(line int, ts []string) error {
	sp, ok := p.parsers[ts[0]]
	if !ok {
		return errors.Errorf("line %d: Not found %v", line, ts[0])
	}
	if err := sp.Parse(ts[1:]); err != nil {
		return errors.Wrapf(err, "line %d: %v", line, ts[0])
	}
	return nil
}

func (p *RootParser) scan(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	var tokens string
	start, n := 0, 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())

		length := len(line)
		if length == 0 || line[0] == '#' {
			if len(tokens) != 0 {
				return errors.Errorf("line %d: Can't parse continuation line", n)
			}
			continue
		}
		if len(tokens) == 0 {
			start = n
		}

		// Continuation line.
		if line[length-1] == '\\' {
			tokens += line[:length-1] + " "
			continue
		}
		tokens += line

		if ts := strings.Fields(tokens); len(ts) != 0 {
			if err := p.directive(start, ts); err != nil {
				return err
			}
		}
		tokens = ""
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if len(tokens) != 0 {
		return errors.Errorf("line %d: Can't parse continuation line", n)
	}
	return nil
}

// Parse reads directives from r.
func (p *RootParser) Parse(r io.Reader) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.scan(r)
}

// ParseConfigFile reads directives from a file.
func (p *RootParser) ParseConfigFile(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer func() {
		_ = file.Close()
	}()

	if err := p.Parse(file); err != nil {
		return errors.Wrap(err, fileName)
	}
	log.Info("%s: %d policies, %d transforms, %d manual entries, %d triggers",
		fileName, p.config.Builder.Len(), len(p.config.Transforms),
		len(p.config.Entries), len(p.config.Trigger))
	return nil
}

// RegisterParser registers parser for directives starting with
// rootToken.
func (p *RootParser) RegisterParser(rootToken string, parser Parser) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if _, ok := p.parsers[rootToken]; ok {
		return errors.Errorf("Already exists : %v", rootToken)
	}
	p.parsers[rootToken] = parser
	return nil
}

// Config returns what the parsed directives defined.
func (p *RootParser) Config() *Config {
	return p.config
}

// Load parses a policy file.
func Load(fileName string) (*Config, error) {
	p := NewRootParser()
	if err := p.ParseConfigFile(fileName); err != nil {
		return nil, err
	}
	return p.Config(), nil
}

// keywordFunc handles a keyword and the values following it.
type keywordFunc[A any] func(args A, values []string) error

// dispatch calls the function of each keyword in tokens with the
// values up to the next keyword.
func dispatch[A any](funcs map[string]keywordFunc[A], args A, tokens []string) error {
	pos := 0
	for pos < len(tokens) {
		f, ok := funcs[tokens[pos]]
		if !ok {
			return errors.Errorf("unrecognizable input: %v", tokens[pos])
		}
		end := pos + 1
		for end < len(tokens) {
			if _, kw := funcs[tokens[end]]; kw {
				break
			}
			end++
		}
		if err := f(args, tokens[pos+1:end]); err != nil {
			return errors.Wrapf(err, "%v", tokens[pos])
		}
		pos = end
	}
	return nil
}

func single(values []string) (string, error) {
	if len(values) != 1 {
		return "", errors.New("Bad format")
	}
	return values[0], nil
}

func init() {
	if l, err := vlog.New(moduleName); err == nil {
		log = l
	} else {
		log.Fatalf("Can't create logger: %s", moduleName)
	}
}
