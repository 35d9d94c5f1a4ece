/*
 * Copyright 2024 The Sofa Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics provides a Prometheus exporter for client operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sofa-team/sofa/internal/version"
)

const (
	namespace    = "sofa"
	methodLabel  = "method"
	resultLabel  = "result"
	versionLabel = "version"
)

// Metrics manages the metric information the client measures.
type Metrics struct {
	registry *prometheus.Registry

	clientVersion *prometheus.GaugeVec

	operationsTotal          *prometheus.CounterVec
	operationDurationSeconds *prometheus.HistogramVec

	bulkDocsPerRequest prometheus.Histogram
	feedRetriesTotal   prometheus.Counter
}

// NewMetrics creates a new instance of Metrics.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	metrics := &Metrics{
		registry: reg,
		clientVersion: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "version",
			Help:      "Version of the client.",
		}, []string{versionLabel}),
		operationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "operations_total",
			Help:      "The total count of operations by method and result.",
		}, []string{methodLabel, resultLabel}),
		operationDurationSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "operation_duration_seconds",
			Help:      "The duration of operations by method.",
		}, []string{methodLabel}),
		bulkDocsPerRequest: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "bulk_docs_per_request",
			Help:      "The number of documents submitted per bulk request.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		feedRetriesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "feed_retries_total",
			Help:      "The total count of change feed reconnect attempts.",
		}),
	}

	metrics.clientVersion.With(prometheus.Labels{
		versionLabel: version.Version,
	}).Set(1)

	return metrics, nil
}

// Registry returns the registry of this metrics, for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOperation records one finished operation.
func (m *Metrics) ObserveOperation(method, result string, seconds float64) {
	m.operationsTotal.With(prometheus.Labels{
		methodLabel: method,
		resultLabel: result,
	}).Inc()
	m.operationDurationSeconds.With(prometheus.Labels{
		methodLabel: method,
	}).Observe(seconds)
}

// ObserveBulkSize records the size of one bulk request.
func (m *Metrics) ObserveBulkSize(docs int) {
	m.bulkDocsPerRequest.Observe(float64(docs))
}

// AddFeedRetry counts one change feed reconnect attempt.
func (m *Metrics) AddFeedRetry() {
	m.feedRetriesTotal.Inc()
}
