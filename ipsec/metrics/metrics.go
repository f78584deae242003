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


// Package metrics holds the prometheus counters of the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace of every metric.
const Namespace = "ipsecd"

// Metrics is the set of engine metrics.
type Metrics struct {
	Registry *prometheus.Registry

	verdicts     *prometheus.CounterVec
	discards     *prometheus.CounterVec
	negotiations *prometheus.CounterVec
	associations *prometheus.CounterVec
	keyManagers  prometheus.Gauge
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New returns metrics registered in a new registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		verdicts: newCounterVec("verdicts_total",
			"Number of packet verdicts.", "direction", "verdict"),
		discards: newCounterVec("discards_total",
			"Number of discarded packets.", "reason"),
		negotiations: newCounterVec("negotiations_total",
			"Number of negotiation requests.", "operation", "result"),
		associations: newCounterVec("associations_total",
			"Number of SAs created.", "direction"),
		keyManagers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "engine",
			Name:      "key_managers",
			Help:      "Number of attached key managers.",
		}),
	}
	m.Registry.MustRegister(m.verdicts, m.discards, m.negotiations,
		m.associations, m.keyManagers)
	return m
}

// Verdict counts a packet verdict.
func (m *Metrics) Verdict(direction, verdict string) {
	m.verdicts.WithLabelValues(direction, verdict).Inc()
}

// Discard counts a discarded packet.
func (m *Metrics) Discard(reason string) {
	m.discards.WithLabelValues(reason).Inc()
}

// Negotiation counts a negotiation request and its result.
func (m *Metrics) Negotiation(operation, result string) {
	m.negotiations.WithLabelValues(operation, result).Inc()
}

// Association counts a created SA.
func (m *Metrics) Association(direction string) {
	m.associations.WithLabelValues(direction).Inc()
}

// KeyManagers sets the number of attached key managers.
func (m *Metrics) KeyManagers(n int) {
	m.keyManagers.Set(float64(n))
}

// Handler returns the HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
