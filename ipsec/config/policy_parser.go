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
	"strconv"

	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/spd"
	"github.com/lagopus/ipsecd/ipsec/transform"
	"github.com/pkg/errors"
)

// selectorArgs collects the remote, local and dir keywords.
type selectorArgs struct {
	remote []string
	local  []string
	dir    string
}

func (s *selectorArgs) selector() (selector.Selector, error) {
	return selector.Parse(s.remote, s.local, s.dir)
}

func addSelectorFuncs[A any](funcs map[string]keywordFunc[A], get func(A) *selectorArgs) {
	funcs["remote"] = func(args A, values []string) error {
		if len(values) == 0 {
			return errors.New("Bad format")
		}
		s := get(args)
		s.remote = append(s.remote, values...)
		return nil
	}
	funcs["local"] = func(args A, values []string) error {
		if len(values) == 0 {
			return errors.New("Bad format")
		}
		s := get(args)
		s.local = append(s.local, values...)
		return nil
	}
	funcs["dir"] = func(args A, values []string) error {
		dir, err := single(values)
		if err != nil {
			return err
		}
		if _, err := selector.ParseDirection(dir); err != nil {
			return err
		}
		get(args).dir = dir
		return nil
	}
}

type policyArgs struct {
	sel    selectorArgs
	action spd.PolicyAction
}

type policyParser struct {
	config      *Config
	parserFuncs map[string]keywordFunc[*policyArgs]
}

func newPolicyParser(config *Config) *policyParser {
	p := &policyParser{
		config:      config,
		parserFuncs: map[string]keywordFunc[*policyArgs]{},
	}
	addSelectorFuncs(p.parserFuncs, func(args *policyArgs) *selectorArgs { return &args.sel })
	p.parserFuncs["flags"] = p.parseFlags
	p.parserFuncs["tunnel"] = p.parseTunnel
	p.parserFuncs["bytes"] = p.parseBytes
	p.parserFuncs["time"] = p.parseTime
	p.parserFuncs["proposal"] = p.parseProposal
	return p
}

func (p *policyParser) parseFlags(args *policyArgs, values []string) error {
	if len(values) == 0 {
		return errors.New("Bad format")
	}
	pfp, err := spd.ParsePFP(values)
	if err != nil {
		return err
	}
	args.action.PFP |= pfp
	return nil
}

func (p *policyParser) parseTunnel(args *policyArgs, values []string) error {
	t, err := spd.ParseTunnel(values)
	if err != nil {
		return err
	}
	args.action.Tunnel = t
	return nil
}

func parseLimit(values []string) (uint64, error) {
	s, err := single(values)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil || n == 0 {
		return 0, errors.Errorf("Invalid limit: %v", s)
	}
	return n, nil
}

func (p *policyParser) parseBytes(args *policyArgs, values []string) (err error) {
	args.action.Hard.Bytes, err = parseLimit(values)
	return
}

func (p *policyParser) parseTime(args *policyArgs, values []string) (err error) {
	args.action.Hard.Time, err = parseLimit(values)
	return
}

func (p *policyParser) parseProposal(args *policyArgs, values []string) error {
	if len(values) == 0 {
		return errors.New("Bad format")
	}
	for _, name := range values {
		t, ok := p.config.Transforms[name]
		if !ok {
			return errors.Errorf("Not found transform %v", name)
		}
		args.action.Proposal = append(args.action.Proposal, t)
	}
	return nil
}

// Parse appends a policy to the SPD. A policy without proposal is a
// bypass policy.
func (p *policyParser) Parse(tokens []string) error {
	args := &policyArgs{action: spd.NewPolicyAction()}
	if err := dispatch(p.parserFuncs, args, tokens); err != nil {
		return err
	}
	if args.action.Tunnel != nil && len(args.action.Proposal) == 0 {
		return errors.New("tunnel requires a proposal")
	}
	sel, err := args.sel.selector()
	if err != nil {
		return err
	}
	item, err := p.config.Builder.Add(sel, args.action)
	if err != nil {
		return err
	}
	log.Debug(0, "policy %v", item)
	return nil
}

type transformArgs struct {
	t     *transform.Transform
	typed bool
}

type transformParser struct {
	config      *Config
	parserFuncs map[string]keywordFunc[*transformArgs]
}

func newTransformParser(config *Config) *transformParser {
	p := &transformParser{
		config:      config,
		parserFuncs: map[string]keywordFunc[*transformArgs]{},
	}
	p.parserFuncs["type"] = p.parseType
	p.parserFuncs["encr"] = p.parseAlgorithms(func(t *transform.Transform) *[]transform.Algorithm { return &t.Encr })
	p.parserFuncs["auth"] = p.parseAlgorithms(func(t *transform.Transform) *[]transform.Algorithm { return &t.Auth })
	p.parserFuncs["comp"] = p.parseAlgorithms(func(t *transform.Transform) *[]transform.Algorithm { return &t.Comp })
	return p
}

func (p *transformParser) parseType(args *transformArgs, values []string) error {
	s, err := single(values)
	if err != nil {
		return err
	}
	if args.t.Protocol, err = transform.ParseProtocol(s); err != nil {
		return err
	}
	args.typed = true
	return nil
}

func (p *transformParser) parseAlgorithms(field func(*transform.Transform) *[]transform.Algorithm) keywordFunc[*transformArgs] {
	return func(args *transformArgs, values []string) error {
		if len(values) == 0 {
			return errors.New("Bad format")
		}
		algs := field(args.t)
		for _, v := range values {
			a, err := transform.ParseAlgorithm(v)
			if err != nil {
				return err
			}
			*algs = append(*algs, a)
		}
		return nil
	}
}

// Parse defines a named transform.
func (p *transformParser) Parse(tokens []string) error {
	if len(tokens) < 3 {
		return errors.New("Bad format")
	}
	name := tokens[0]
	if _, ok := p.parserFuncs[name]; ok {
		return errors.Errorf("Invalid name: %v", name)
	}
	if _, ok := p.config.Transforms[name]; ok {
		return errors.Errorf("Already exists : %v", name)
	}
	args := &transformArgs{t: &transform.Transform{}}
	if err := dispatch(p.parserFuncs, args, tokens[1:]); err != nil {
		return err
	}
	if !args.typed {
		return errors.New("missing argument type")
	}
	p.config.Transforms[name] = args.t
	log.Debug(0, "transform %s %v", name, args.t)
	return nil
}
