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


// Package ipsec is the decision core of an IPsec implementation. The
// Engine classifies packets against the SPD, finds or starts the
// negotiation of the SAs protecting them, and coordinates the key
// managers completing those negotiations.
package ipsec

import (
	"sync/atomic"

	"github.com/lagopus/ipsecd/ipsec/km"
	"github.com/lagopus/ipsecd/ipsec/metrics"
	"github.com/lagopus/ipsecd/ipsec/sad"
	"github.com/lagopus/ipsecd/ipsec/selector"
	"github.com/lagopus/ipsecd/ipsec/spd"
	"github.com/lagopus/ipsecd/ipsec/transform"
	vlog "github.com/lagopus/ipsecd/log"
	"github.com/lagopus/ipsecd/utils/notifier"
	"github.com/pkg/errors"
)

const moduleName = "ipsec"

var log = vlog.DefaultLogger()

// Errors.
var (
	ErrInvalidArgs   = errors.New("Invalid args")
	ErrNoPolicy      = errors.New("No policy matches")
	ErrNoAssociation = sad.ErrNotFound
	ErrNotLarval     = errors.New("SA is not larval")
	ErrIDMismatch    = errors.New("Negotiation id mismatch")
	ErrNoPipeline    = transform.ErrNoPipeline
	ErrNotSubset     = errors.New("Selector is not a subset of the policy")
)

// Config is the configuration of an Engine.
type Config struct {
	Buckets        int           // inbound SA table size
	MaxKeyManagers int           // 0 for km.DefaultMaxManagers
	Inbound        transform.Set // pipelines of inbound SAs
	Outbound       transform.Set // pipelines of outbound SAs
	Metrics        *metrics.Metrics
	Notifier       *notifier.Notifier
}

// Engine is the SPD/SAD decision core.
type Engine struct {
	db       *spd.DB
	store    *sad.Store
	kms      *km.Registry
	inbound  transform.Set
	outbound transform.Set
	metrics  *metrics.Metrics
	notifier *notifier.Notifier
	seq      atomic.Uint32
}

// NewEngine returns an engine for the frozen SPD db.
func NewEngine(db *spd.DB, cfg Config) *Engine {
	e := &Engine{
		db:       db,
		store:    sad.NewStore(db, cfg.Buckets),
		kms:      km.NewRegistry(cfg.MaxKeyManagers),
		inbound:  cfg.Inbound,
		outbound: cfg.Outbound,
		metrics:  cfg.Metrics,
		notifier: cfg.Notifier,
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	if e.notifier == nil {
		e.notifier = notifier.NewNotifier(0)
	}
	log.Info("engine: %d policies, %d inbound buckets, %d/%d pipelines",
		db.Len(), e.store.Buckets(), len(e.inbound), len(e.outbound))
	return e
}

// DB returns the SPD.
func (e *Engine) DB() *spd.DB {
	return e.db
}

// Store returns the SAD.
func (e *Engine) Store() *sad.Store {
	return e.store
}

// Metrics returns the metrics of the engine.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Notifier returns the notifier of SA events.
func (e *Engine) Notifier() *notifier.Notifier {
	return e.notifier
}

// Pipelines returns the pipeline set of a direction.
func (e *Engine) Pipelines(dir selector.Direction) transform.Set {
	if dir == selector.Inbound {
		return e.inbound
	}
	return e.outbound
}

// Attach attaches a key manager and returns its id.
func (e *Engine) Attach(k km.KeyManager) (uint32, error) {
	id, err := e.kms.Attach(k)
	if err != nil {
		return 0, err
	}
	e.metrics.KeyManagers(e.kms.Len())
	return id, nil
}

// KeyManagers returns the key manager registry.
func (e *Engine) KeyManagers() *km.Registry {
	return e.kms
}

// Close releases the transform contexts of every Mature SA. The
// engine must not be used afterwards.
func (e *Engine) Close() {
	n := e.store.Close()
	log.Info("engine: released %d associations", n)
}

func init() {
	if l, err := vlog.New(moduleName); err == nil {
		log = l
	} else {
		log.Fatalf("Can't create logger: %s", moduleName)
	}
}
