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
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lagopus/ipsecd/ipsec/km"
	"github.com/lagopus/ipsecd/ipsec/sad"
	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/transform"
	"github.com/reiver/go-oi"
	"github.com/reiver/go-telnet"
	"github.com/reiver/go-telnet/telsh"
)

// msg conforms to JSend.
// See https://labs.omniti.com/labs/jsend for more details.
type msg struct {
	Status  Status      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

type Status int

const (
	Success Status = iota
	Fail
	Error
)

func (s Status) MarshalJSON() ([]byte, error) {
	var b []byte
	switch s {
	case Success:
		b = []byte(`"success"`)
	case Fail:
		b = []byte(`"fail"`)
	case Error:
		b = []byte(`"error"`)
	}
	return b, nil
}

var internalErrMsg = []byte(`{
	"status": "error",
	"message": "Internal Error"
}`)

func outputResult(out io.Writer, data interface{}) {
	outputJSON(out, &msg{Status: Success, Data: data})
}

func outputErr(out io.Writer, f string, args ...interface{}) {
	outputJSON(out, &msg{Status: Error, Message: fmt.Sprintf(f, args...)})
}

func outputJSON(out io.Writer, msg *msg) {
	b, err := json.MarshalIndent(msg, "", "\t")
	if err != nil {
		logger.Err("json.MarshalIndent failed: %v", err)
		b = internalErrMsg
	}
	b = append(b, '\r', '\n')
	if n, err := oi.LongWrite(out, b); err != nil {
		logger.Err("Write failed after writing %d/%d: %v", n, len(b), err)
	}
}

//
// show for the SPD
//
func (d *DebugShell) showSPD(out io.Writer, args ...string) {
	type status struct {
		Index    int    `json:"index"`
		Selector string `json:"selector"`
		Action   string `json:"action"`
	}

	output := []status{}
	for _, p := range d.engine.DB().Items() {
		output = append(output, status{
			Index:    p.Index(),
			Selector: p.Selector.String(),
			Action:   p.Action.String(),
		})
	}

	outputResult(out, output)
}

type saStatus struct {
	ID        string             `json:"id"`
	Direction string             `json:"direction"`
	Policy    int                `json:"policy"`
	Src       string             `json:"src"`
	Dst       string             `json:"dst"`
	SPI       uint32             `json:"spi"`
	State     string             `json:"state"`
	Pipeline  int                `json:"pipeline"`
	Soft      transform.Lifetime `json:"soft"`
	Narrowed  string             `json:"narrowed,omitempty"`
}

func newSAStatus(sa *sad.Association) saStatus {
	s := saStatus{
		ID:        sa.ID.String(),
		Direction: sa.Direction.String(),
		Policy:    sa.PolicyIndex(),
		Src:       sa.Src.String(),
		Dst:       sa.Dst.String(),
		SPI:       sa.SPI(),
		State:     sa.State().String(),
		Pipeline:  sa.Pipeline(),
		Soft:      sa.Soft(),
	}
	if n := sa.Narrowed(); n != nil {
		s.Narrowed = n.String()
	}
	return s
}

//
// show for the SAD
//
func (d *DebugShell) showSAD(out io.Writer, args ...string) {
	walkIn, walkOut := true, true
	if len(args) > 0 {
		switch args[0] {
		case "in":
			walkOut = false
		case "out":
			walkIn = false
		default:
			outputErr(out, "unknown direction: %s", args[0])
			return
		}
	}

	output := []saStatus{}
	add := func(sa *sad.Association) bool {
		output = append(output, newSAStatus(sa))
		return true
	}
	store := d.engine.Store()
	if walkOut {
		store.WalkOutbound(add)
	}
	if walkIn {
		store.WalkInbound(add)
	}

	outputResult(out, output)
}

//
// show for key managers
//
func (d *DebugShell) showKM(out io.Writer, args ...string) {
	type status struct {
		ID   uint32 `json:"id"`
		Type string `json:"type"`
	}

	output := []status{}
	d.engine.KeyManagers().Each(func(id uint32, k km.KeyManager) {
		output = append(output, status{id, fmt.Sprintf("%T", k)})
	})

	outputResult(out, output)
}

//
// show for pipelines
//
func (d *DebugShell) showPipelines(out io.Writer, args ...string) {
	type status struct {
		Direction  string `json:"direction"`
		Index      int    `json:"index"`
		Name       string `json:"name"`
		Capability string `json:"capability"`
	}

	output := []status{}
	for _, dir := range []selector.Direction{selector.Inbound, selector.Outbound} {
		for i, p := range d.engine.Pipelines(dir) {
			output = append(output, status{dir.String(), i, p.Name(), p.Capability().String()})
		}
	}

	outputResult(out, output)
}

//
// show for the notifier
//
func (d *DebugShell) showNotifier(out io.Writer, args ...string) {
	n := d.engine.Notifier()
	outputResult(out, struct {
		Listeners int    `json:"listeners"`
		Dropped   uint64 `json:"dropped"`
	}{n.Listeners(), n.Dropped()})
}

//
// show command
//
type showFunc func(out io.Writer, args ...string)

func (d *DebugShell) showCmds() map[string]showFunc {
	return map[string]showFunc{
		"spd":       d.showSPD,
		"sad":       d.showSAD,
		"km":        d.showKM,
		"pipelines": d.showPipelines,
		"notifier":  d.showNotifier,
	}
}

func (d *DebugShell) showHandler(stdin io.ReadCloser, stdout io.WriteCloser, stderr io.WriteCloser, args ...string) error {
	logger.Info("show: %v", args)

	cmds := d.showCmds()
	if len(args) == 0 {
		var types []string
		for t := range cmds {
			types = append(types, t)
		}
		sort.Strings(types)
		outputErr(stdout, "valid types are: %v", strings.Join(types, ", "))
		return nil
	}

	if showFn, ok := cmds[args[0]]; ok {
		showFn(stdout, args[1:]...)
	} else {
		outputErr(stdout, "unknown type: %s", args[0])
	}

	return nil
}

func (d *DebugShell) showProducer(ctx telnet.Context, name string, args ...string) telsh.Handler {
	return telsh.PromoteHandlerFunc(d.showHandler, args...)
}
