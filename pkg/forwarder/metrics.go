/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of ipset-dns.
 *
 * ipset-dns is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * ipset-dns is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package forwarder

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	QueryTotal      prometheus.Counter
	ErrTotal        prometheus.Counter
	PublishTotal    prometheus.Counter
	PublishErrTotal prometheus.Counter
	ResponseLatency prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		QueryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "query_total",
			Help: "The total number of queries received",
		}),
		ErrTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "err_total",
			Help: "The total number of aborted request cycles",
		}),
		PublishTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publish_total",
			Help: "The total number of set updates sent",
		}),
		PublishErrTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publish_err_total",
			Help: "The total number of set updates that failed to send",
		}),
		ResponseLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "response_latency_millisecond",
			Help:    "The response latency in millisecond",
			Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
		}),
	}
}

// MustRegister registers all metrics to r.
func (m *Metrics) MustRegister(r prometheus.Registerer) {
	r.MustRegister(m.QueryTotal, m.ErrTotal, m.PublishTotal, m.PublishErrTotal, m.ResponseLatency)
}
