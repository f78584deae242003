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
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/reiver/go-telnet"
	"github.com/reiver/go-telnet/telsh"
)

// ModuleFunc is implemented by components with their own show
// command.
type ModuleFunc interface {
	ModuleShow(args ...string) (interface{}, error)
}

// RegisterModuleFunc registers a module with the given name
// to the shell.
func (d *DebugShell) RegisterModuleFunc(name string, mf ModuleFunc) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if _, exists := d.modules[name]; exists {
		return errors.Errorf("Module %s already registered.", name)
	}
	d.modules[name] = mf
	return nil
}

func (d *DebugShell) validModules() string {
	var names []string
	for name := range d.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func (d *DebugShell) moduleHandler(stdin io.ReadCloser, stdout io.WriteCloser, stderr io.WriteCloser, args ...string) error {
	logger.Info("module: %v", args)

	d.lock.Lock()
	defer d.lock.Unlock()

	if len(args) == 0 {
		outputErr(stdout, "valid modules are: %v", d.validModules())
		return nil
	}

	if m, ok := d.modules[args[0]]; ok {
		result, err := m.ModuleShow(args[1:]...)

		if err == nil {
			outputResult(stdout, result)
		} else {
			outputErr(stdout, "%v", err)
		}
	} else {
		outputErr(stdout, "unknown module: %s", args[0])
	}

	return nil
}

func (d *DebugShell) moduleProducer(ctx telnet.Context, name string, args ...string) telsh.Handler {
	return telsh.PromoteHandlerFunc(d.moduleHandler, args...)
}
