// Package metrics exposes the payment engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder groups the engine's collectors. A nil *Recorder records nothing.
type Recorder struct {
	paymentsCreated *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		paymentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_created_total",
			Help: "Payments created, by gateway result (gateway or fallback).",
		}, []string{"result"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Gateway callbacks handled, by acknowledgment message.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_status_transitions_total",
			Help: "Terminal status transitions applied, by status and source.",
		}, []string{"status", "source"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Latency of requests to the payment gateway.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
	}

	reg.MustRegister(r.paymentsCreated, r.callbacks, r.transitions, r.gatewayDuration)

	return r
}

// PaymentCreated counts a create by result (gateway or fallback).
func (r *Recorder) PaymentCreated(result string) {
	if r == nil {
		return
	}
	r.paymentsCreated.WithLabelValues(result).Inc()
}

// Callback counts a callback by its ack message.
func (r *Recorder) Callback(result string) {
	if r == nil {
		return
	}
	r.callbacks.WithLabelValues(result).Inc()
}

// Transition counts a terminal transition by status and source.
func (r *Recorder) Transition(status, source string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(status, source).Inc()
}

// ObserveGateway records one gateway round trip started at start.
func (r *Recorder) ObserveGateway(operation string, start time.Time, err error) {
	if r == nil {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.gatewayDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
