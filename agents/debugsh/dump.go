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


package debugsh

import (
	"io"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/lagopus/ipsecd/ipsec/sad"
	"github.com/reiver/go-telnet"
	"github.com/reiver/go-telnet/telsh"
)

var dumper = spew.ConfigState{
	Indent:                  "  ",
	MaxDepth:                3,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	DisableMethods:          true,
	SortKeys:                true,
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	return uint32(n), err
}

// dump writes v line by line.
func dump(out io.Writer, v interface{}) {
	for _, line := range strings.Split(strings.TrimRight(dumper.Sdump(v), "\n"), "\n") {
		fprintf(out, "%s", line)
	}
}

// dumpTarget returns the object named by args:
//
//	spi SPI
//	id KM SEQ
//	policy INDEX
func (d *DebugShell) dumpTarget(args []string) (interface{}, bool) {
	if len(args) < 2 {
		return nil, false
	}
	switch args[0] {
	case "spi":
		spi, err := parseUint32(args[1])
		if err != nil {
			return nil, false
		}
		if sa := d.engine.Store().LookupBySPI(spi); sa != nil {
			return sa, true
		}
	case "id":
		if len(args) != 3 {
			return nil, false
		}
		km, err1 := parseUint32(args[1])
		seq, err2 := parseUint32(args[2])
		if err1 != nil || err2 != nil {
			return nil, false
		}
		if sa := d.engine.Store().LookupByID(sad.KMSeq{KM: km, Seq: seq}); sa != nil {
			return sa, true
		}
	case "policy":
		i, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, false
		}
		if p := d.engine.DB().Item(i); p != nil {
			return p, true
		}
	}
	return nil, false
}

func (d *DebugShell) dumpHandler(stdin io.ReadCloser, stdout io.WriteCloser, stderr io.WriteCloser, args ...string) error {
	logger.Info("dump: %v", args)

	v, ok := d.dumpTarget(args)
	if !ok {
		outputErr(stdout, "not found: %v (usage: dump spi SPI | id KM SEQ | policy INDEX)", strings.Join(args, " "))
		return nil
	}
	dump(stdout, v)
	return nil
}

func (d *DebugShell) dumpProducer(ctx telnet.Context, name string, args ...string) telsh.Handler {
	return telsh.PromoteHandlerFunc(d.dumpHandler, args...)
}
