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


// Package debugsh is a telnet shell showing the state of the engine.
package debugsh

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/lagopus/ipsecd/ipsec"
	"github.com/lagopus/ipsecd/log"
	"github.com/pkg/errors"
	"github.com/reiver/go-oi"
	"github.com/reiver/go-telnet"
	"github.com/reiver/go-telnet/telsh"
)

const AgentName = "debugsh"

// DefaultAddr is the address the shell listens on by default.
const DefaultAddr = ":5555"

var logger = log.DefaultLogger()

// telnetLogger routes go-telnet's logging to the module logger.
// Trace goes to debug level 1.
type telnetLogger struct {
	l *log.Logger
}

func (t telnetLogger) Debug(v ...interface{}) { t.l.Debug(0, "%s", fmt.Sprint(v...)) }
func (t telnetLogger) Debugf(f string, v ...interface{}) { t.l.Debug(0, f, v...) }
func (t telnetLogger) Error(v ...interface{}) { t.l.Err("%s", fmt.Sprint(v...)) }
func (t telnetLogger) Errorf(f string, v ...interface{}) { t.l.Err(f, v...) }
func (t telnetLogger) Trace(v ...interface{}) { t.l.Debug(1, "%s", fmt.Sprint(v...)) }
func (t telnetLogger) Tracef(f string, v ...interface{}) { t.l.Debug(1, f, v...) }
func (t telnetLogger) Warn(v ...interface{}) { t.l.Warning("%s", fmt.Sprint(v...)) }
func (t telnetLogger) Warnf(f string, v ...interface{}) { t.l.Warning(f, v...) }

func fprintf(w io.Writer, f string, args ...interface{}) {
	oi.LongWriteString(w, fmt.Sprintf(f+"\r\n", args...))
}

// DebugShell serves the shell over telnet.
type DebugShell struct {
	addr    string
	engine  *ipsec.Engine
	helps   []help
	modules map[string]ModuleFunc

	lock     sync.Mutex
	listener net.Listener
	done     chan struct{}
}

type debugShellCommand struct {
	name     string
	producer telsh.ProducerFunc
	help     string
}

func (dsc debugShellCommand) String() string {
	return dsc.name + "\t" + dsc.help
}

// New returns a shell for e listening on addr once enabled.
func New(addr string, e *ipsec.Engine) *DebugShell {
	if addr == "" {
		addr = DefaultAddr
	}
	return &DebugShell{
		addr:    addr,
		engine:  e,
		modules: make(map[string]ModuleFunc),
	}
}

func (d *DebugShell) commands() []debugShellCommand {
	return []debugShellCommand{
		{"help", d.helpProducer, "Help."},
		{"show", d.showProducer, "Show engine status."},
		{"dump", d.dumpProducer, "Dump an SA."},
		{"module", d.moduleProducer, "Debug module."},
		{"log", d.logProducer, "Show or change logging."},
	}
}

func (d *DebugShell) handler() *telsh.ShellHandler {
	handler := telsh.NewShellHandler()
	d.helps = nil
	for _, cmd := range d.commands() {
		handler.Register(cmd.name, cmd.producer)
		d.registerHelp(cmd.name, cmd.help)
	}
	return handler
}

// Enable starts listening.
func (d *DebugShell) Enable() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.listener != nil {
		return nil
	}
	logger.Debug(0, "Enabling")

	l, err := net.Listen("tcp", d.addr)
	if err != nil {
		return errors.Wrap(err, "Can't launch telnet service")
	}
	d.listener = l
	d.done = make(chan struct{})

	server := &telnet.Server{Handler: d.handler(), Logger: telnetLogger{logger}}
	go func(done chan struct{}) {
		defer close(done)
		logger.Debug(0, "Launching telnet on %v.", l.Addr())
		if err := server.Serve(l); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Err("telnet service stopped: %v", err)
		}
	}(d.done)

	logger.Info("Enabled on %v", l.Addr())
	return nil
}

// Disable stops listening. Open sessions run until the client leaves.
func (d *DebugShell) Disable() {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.listener == nil {
		return
	}
	d.listener.Close()
	<-d.done
	d.listener = nil
	logger.Info("Disabled")
}

// Addr returns the address listened on, or nil if disabled.
func (d *DebugShell) Addr() net.Addr {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

func (d *DebugShell) String() string {
	return AgentName
}

func init() {
	if l, err := log.New(AgentName); err == nil {
		logger = l
	} else {
		logger.Fatalf("Can't create logger for %s: %v", AgentName, err)
	}
}
