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

	"github.com/lagopus/ipsecd/log"
	"github.com/reiver/go-telnet"
	"github.com/reiver/go-telnet/telsh"
)

type logStatus struct {
	Level   string          `json:"level"`
	Modules map[string]bool `json:"modules"` // debug enabled
}

func currentLog() logStatus {
	return logStatus{log.LogLevel().String(), log.Modules()}
}

func setDebug(module, onoff string) bool {
	var on bool
	switch onoff {
	case "on":
		on = true
	case "off":
	default:
		return false
	}

	switch {
	case module == "all" && on:
		log.DebugAll()
	case module == "all":
		log.DebugNone()
	case on:
		log.EnableDebugLog(module)
	default:
		log.DisableDebugLog(module)
	}
	return true
}

// log
// log level LEVEL
// log debug MODULE|all on|off
// log debuglevel N
func (d *DebugShell) logHandler(stdin io.ReadCloser, stdout io.WriteCloser, stderr io.WriteCloser, args ...string) error {
	logger.Info("log: %v", args)

	if len(args) == 0 {
		outputResult(stdout, currentLog())
		return nil
	}

	switch {
	case args[0] == "level" && len(args) == 2:
		level, err := log.ParseLevel(args[1])
		if err != nil {
			outputErr(stdout, "%v", err)
			return nil
		}
		log.SetLogLevel(level)

	case args[0] == "debug" && len(args) == 3:
		if _, ok := log.Modules()[args[1]]; !ok && args[1] != "all" {
			outputErr(stdout, "unknown module: %s", args[1])
			return nil
		}
		if !setDebug(args[1], args[2]) {
			outputErr(stdout, "expected on or off: %s", args[2])
			return nil
		}

	case args[0] == "debuglevel" && len(args) == 2:
		n, err := strconv.ParseUint(args[1], 0, 8)
		if err != nil {
			outputErr(stdout, "bad debug level: %s", args[1])
			return nil
		}
		log.SetDebugLevel(uint8(n))

	default:
		outputErr(stdout, "usage: log [level LEVEL | debug MODULE|all on|off | debuglevel N]")
		return nil
	}

	outputResult(stdout, currentLog())
	return nil
}

func (d *DebugShell) logProducer(ctx telnet.Context, name string, args ...string) telsh.Handler {
	return telsh.PromoteHandlerFunc(d.logHandler, args...)
}
