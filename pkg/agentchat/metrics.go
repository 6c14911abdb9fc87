// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agentchat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/docqa/pkg/conversation"
	"github.com/AleutianAI/docqa/pkg/stream"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "docqa"
	chatSubsystem    = "chat"
)

// Metrics holds the Prometheus collectors for chat exchanges.
//
// # Fields
//
//   - ExchangesTotal: closed exchanges by close reason
//   - EventsTotal: applied events by type
//   - MalformedLinesTotal: skipped lines by parse failure reason
//   - TimeToFirstEventSeconds: latency from request to first applied event
//   - ExchangeDurationSeconds: total exchange duration by close reason
//   - BytesReceivedTotal: response bytes read
//   - ActiveExchanges: 1 while an exchange is open
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ExchangesTotal          *prometheus.CounterVec
	EventsTotal             *prometheus.CounterVec
	MalformedLinesTotal     *prometheus.CounterVec
	TimeToFirstEventSeconds prometheus.Histogram
	ExchangeDurationSeconds *prometheus.HistogramVec
	BytesReceivedTotal      prometheus.Counter
	ActiveExchanges         prometheus.Gauge
}

// NewMetrics creates and registers the collectors on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if the collectors are already registered on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ExchangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "exchanges_total",
				Help:      "Closed chat exchanges by close reason",
			},
			[]string{"reason"},
		),
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "events_total",
				Help:      "Stream events applied to assistant turns by type",
			},
			[]string{"type"},
		),
		MalformedLinesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "malformed_lines_total",
				Help:      "Stream lines skipped because they could not be decoded",
			},
			[]string{"reason"},
		),
		TimeToFirstEventSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "time_to_first_event_seconds",
				Help:      "Time from sending a message to the first applied event",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		ExchangeDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "exchange_duration_seconds",
				Help:      "Total exchange duration by close reason",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"reason"},
		),
		BytesReceivedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "bytes_received_total",
				Help:      "Bytes read from agent response streams",
			},
		),
		ActiveExchanges: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_exchanges",
				Help:      "Exchanges currently streaming",
			},
		),
	}
}

// =============================================================================
// Recording Helpers
// =============================================================================

func (m *Metrics) exchangeStarted() {
	if m == nil {
		return
	}
	m.ActiveExchanges.Inc()
}

func (m *Metrics) exchangeClosed(reason conversation.CloseReason, d time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.ActiveExchanges.Dec()
	m.ExchangesTotal.WithLabelValues(string(reason)).Inc()
	m.ExchangeDurationSeconds.WithLabelValues(string(reason)).Observe(d.Seconds())
	m.BytesReceivedTotal.Add(float64(bytes))
}

func (m *Metrics) eventApplied(t stream.EventType) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) firstEvent(d time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstEventSeconds.Observe(d.Seconds())
}

func (m *Metrics) malformedLine(reason string) {
	if m == nil {
		return
	}
	m.MalformedLinesTotal.WithLabelValues(reason).Inc()
}
