// Copyright 2024, Chef.  All rights reserved.
// https://github.com/q191201771/lalgb
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package gb28181

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	sessionKindCatalog = "catalog"
	sessionKindRecord  = "record"
	sessionKindPreset  = "preset"
	sessionKindInvite  = "invite"
)

// Metrics 信令引擎的统计，所有方法对nil接收者安全
type Metrics struct {
	domains    prometheus.Gauge
	sessions   *prometheus.GaugeVec
	sipIn      *prometheus.CounterVec
	sipOut     *prometheus.CounterVec
	sipDropped prometheus.Counter
	timeouts   *prometheus.CounterVec
}

// NewMetrics 注册到 reg，reg 为nil时使用 prometheus.DefaultRegisterer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		domains: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lalgb",
			Subsystem: "gb28181",
			Name:      "registered_domains",
			Help:      "Number of registered sub domains",
		}),
		sessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lalgb",
			Subsystem: "gb28181",
			Name:      "live_sessions",
			Help:      "Number of pending sessions by kind",
		}, []string{"kind"}),
		sipIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lalgb",
			Subsystem: "gb28181",
			Name:      "sip_in_total",
			Help:      "Total number of sip messages received",
		}, []string{"method"}),
		sipOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lalgb",
			Subsystem: "gb28181",
			Name:      "sip_out_total",
			Help:      "Total number of sip messages sent",
		}, []string{"method"}),
		sipDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lalgb",
			Subsystem: "gb28181",
			Name:      "sip_dropped_total",
			Help:      "Total number of malformed sip messages dropped",
		}),
		timeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lalgb",
			Subsystem: "gb28181",
			Name:      "session_timeouts_total",
			Help:      "Total number of sessions ended by timer",
		}, []string{"kind"}),
	}
}

func (m *Metrics) setDomains(n int) {
	if m == nil {
		return
	}
	m.domains.Set(float64(n))
}

func (m *Metrics) setSessions(kind string, n int) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) incIn(method string) {
	if m == nil {
		return
	}
	m.sipIn.WithLabelValues(method).Inc()
}

func (m *Metrics) incOut(method string) {
	if m == nil {
		return
	}
	m.sipOut.WithLabelValues(method).Inc()
}

func (m *Metrics) incDropped() {
	if m == nil {
		return
	}
	m.sipDropped.Inc()
}

func (m *Metrics) incTimeout(kind string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(kind).Inc()
}
