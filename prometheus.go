package main

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Decode metrics
	charactersDecoded prometheus.Gauge // characters summed over the active sessions
	framingErrors     prometheus.Gauge // framing errors summed over the active sessions
	parityErrors      prometheus.Gauge // parity errors summed over the active sessions

	// Session metrics
	activeSessions prometheus.Gauge
	sessionsTotal  prometheus.Counter

	// IQ input metrics
	iqPacketsTotal prometheus.Counter
	iqBytesTotal   prometheus.Counter
	iqDropsTotal   prometheus.Counter

	// WebSocket metrics
	wsConnectionsTotal prometheus.Counter
	wsMessagesSent     prometheus.Counter

	// System metrics
	cpuPercent    prometheus.Gauge
	memoryPercent prometheus.Gauge
	uptimeSeconds prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all metric collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		charactersDecoded: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtty_characters_decoded_total",
			Help: "Characters decoded, summed over the currently active sessions",
		}),
		framingErrors: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtty_framing_errors_total",
			Help: "Frames dropped on a bad stop bit, summed over the currently active sessions",
		}),
		parityErrors: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtty_parity_errors_total",
			Help: "Frames dropped on a parity mismatch, summed over the currently active sessions",
		}),
		activeSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtty_active_sessions",
			Help: "Currently active decode sessions",
		}),
		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtty_sessions_created_total",
			Help: "Total decode sessions created",
		}),
		iqPacketsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtty_iq_packets_total",
			Help: "RTP packets received on the IQ multicast group",
		}),
		iqBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtty_iq_bytes_total",
			Help: "Payload bytes received on the IQ multicast group",
		}),
		iqDropsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtty_iq_drops_total",
			Help: "IQ blocks dropped because a session lagged",
		}),
		wsConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtty_ws_connections_total",
			Help: "WebSocket connections accepted",
		}),
		wsMessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtty_ws_messages_sent_total",
			Help: "WebSocket messages sent to clients",
		}),
		cpuPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtty_cpu_percent",
			Help: "Process host CPU utilization percent",
		}),
		memoryPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtty_memory_percent",
			Help: "Host memory utilization percent",
		}),
		uptimeSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtty_uptime_seconds",
			Help: "Seconds since process start",
		}),
	}
}

// StartUpdater periodically refreshes the gauges that mirror session and
// system state
func (pm *PrometheusMetrics) StartUpdater(ctx context.Context, sm *SessionManager, startTime time.Time) {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				chars, framing, parity := sm.Totals()
				pm.charactersDecoded.Set(float64(chars))
				pm.framingErrors.Set(float64(framing))
				pm.parityErrors.Set(float64(parity))
				pm.uptimeSeconds.Set(time.Since(startTime).Seconds())
				pm.updateSystemMetrics()
			}
		}
	}()
}

// updateSystemMetrics samples host CPU and memory usage via gopsutil
func (pm *PrometheusMetrics) updateSystemMetrics() {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		pm.cpuPercent.Set(percents[0])
	} else if err != nil {
		log.Printf("Metrics: cpu sample failed: %v", err)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		pm.memoryPercent.Set(vm.UsedPercent)
	}
}
