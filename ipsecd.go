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
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/lagopus/ipsecd/agents/debugsh"
	"github.com/lagopus/ipsecd/ipsec"
	"github.com/lagopus/ipsecd/ipsec/config"
	"github.com/lagopus/ipsecd/ipsec/km/manual"
	"github.com/lagopus/ipsecd/ipsec/metrics"
	"github.com/lagopus/ipsecd/ipsec/pfkey"
	"github.com/lagopus/ipsecd/ipsec/transform"
	"github.com/lagopus/ipsecd/ipsec/transform/adapter"
	"github.com/lagopus/ipsecd/ipsec/transform/xfrm"
	vlog "github.com/lagopus/ipsecd/log"
	"github.com/lagopus/ipsecd/utils/notifier"
)

const moduleName = "ipsecd"

var log = vlog.DefaultLogger()

var quit = make(chan int)

func initSignalHandling() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-c
		log.Info("signal: %v", sig)
		close(quit)
	}()
}

// newPipelines returns one pipeline set per transform of the policy
// file, sorted by name. Kernel pipelines come first when enabled,
// the tunnel adapter takes what the kernel doesn't.
func newPipelines(transforms map[string]*transform.Transform, useXfrm bool, keySize int) transform.Set {
	names := make([]string, 0, len(transforms))
	for name := range transforms {
		names = append(names, name)
	}
	sort.Strings(names)

	var set transform.Set
	if useXfrm {
		for _, name := range names {
			set = append(set, xfrm.New("xfrm-"+name, transforms[name], nil))
		}
	}
	for _, name := range names {
		set = append(set, adapter.New("adapter-"+name, transforms[name], keySize))
	}
	return set
}

func logNotifications(ch chan notifier.Notification) {
	for n := range ch {
		switch n.Type {
		case notifier.Reject:
			log.Warning("%v", n)
		default:
			log.Debug(0, "%v", n)
		}
	}
}

type daemon struct {
	engine  *ipsec.Engine
	manual  *manual.KeyManager
	pfkey   *pfkey.Server
	debugsh *debugsh.DebugShell
	metrics *http.Server
	events  chan notifier.Notification
}

func start(dc *daemonConfig) (*daemon, error) {
	pc, err := config.Load(dc.IPsec.PolicyFile)
	if err != nil {
		return nil, err
	}

	pipelines := newPipelines(pc.Transforms, dc.IPsec.Xfrm, dc.IPsec.AdapterKeySize)
	noti := notifier.NewNotifier(64)

	d := &daemon{}
	d.engine = ipsec.NewEngine(pc.Builder.Freeze(), ipsec.Config{
		Buckets:        dc.IPsec.InboundBuckets,
		MaxKeyManagers: dc.IPsec.MaxKeyManagers,
		Inbound:        pipelines,
		Outbound:       pipelines,
		Metrics:        metrics.New(),
		Notifier:       noti,
	})
	d.events = noti.Listen()
	go logNotifications(d.events)

	d.manual = manual.New(d.engine, pc.Entries, pc.Trigger)
	if err := d.manual.Attach(d.engine); err != nil {
		d.stop()
		return nil, err
	}

	var pk *pfkey.KeyManager
	if dc.IPsec.PFKeySocket != "" {
		pk = pfkey.New(d.engine)
		if err := pk.Attach(d.engine); err != nil {
			d.stop()
			return nil, err
		}
		d.pfkey = pfkey.NewServer(pk, dc.IPsec.PFKeySocket)
		if err := d.pfkey.Start(); err != nil {
			d.pfkey = nil
			d.stop()
			return nil, err
		}
	}

	if dc.Debugsh.Enable {
		d.debugsh = debugsh.New(dc.Debugsh.Addr, d.engine)
		d.debugsh.RegisterModuleFunc("manual", d.manual)
		if pk != nil {
			d.debugsh.RegisterModuleFunc("pfkey", pk)
		}
		if err := d.debugsh.Enable(); err != nil {
			d.debugsh = nil
			d.stop()
			return nil, err
		}
	}

	if dc.Metrics.Enable {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.engine.Metrics().Handler())
		d.metrics = &http.Server{Addr: dc.Metrics.Addr, Handler: mux}
		go func(s *http.Server) {
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Err("metrics: %v", err)
			}
		}(d.metrics)
		log.Info("Start metrics server: %v", dc.Metrics.Addr)
	}

	if err := d.manual.Trigger(); err != nil {
		log.Warning("Trigger failed: %v", err)
	}
	return d, nil
}

func (d *daemon) stop() {
	if d.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		d.metrics.Shutdown(ctx)
		cancel()
	}
	if d.debugsh != nil {
		d.debugsh.Disable()
	}
	if d.pfkey != nil {
		d.pfkey.Stop()
	}
	if d.events != nil {
		d.engine.Notifier().Close(d.events)
	}
	d.engine.Close()
}

func main() {
	flag.Parse()

	dc, unknown, err := loadConfig(newConfig(configFile))
	if err != nil {
		log.Fatalf("%v", err)
	}
	if verbose {
		dc.Logging.Level = "debug"
		dc.Logging.Debugs = []string{"*"}
	}
	if err := vlog.Init(&dc.Logging); err != nil {
		log.Fatalf("Can't initialize logging: %v", err)
	}
	for _, k := range unknown {
		log.Warning("%s: unknown key %s", configFile, k)
	}

	initSignalHandling()

	d, err := start(dc)
	if err != nil {
		log.Fatalf("Can't start: %v", err)
	}
	log.Info("Ready: %d policies, %d key managers",
		d.engine.DB().Len(), d.engine.KeyManagers().Len())

	<-quit

	d.stop()
	log.Info("Stopped")
}

var configFile string
var verbose bool

func init() {
	flag.StringVar(&configFile, "f", DefaultConfigFile, "configuration file")
	flag.BoolVar(&verbose, "v", false, "verbose mode")

	if l, err := vlog.New(moduleName); err == nil {
		log = l
	} else {
		log.Fatalf("Can't create logger: %s", moduleName)
	}
}
