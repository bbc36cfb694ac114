package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Global debug flag
var DebugMode bool

// Global start time for process uptime tracking
var StartTime time.Time

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&DebugMode, "debug", false, "Enable debug logging")
	flag.Parse()

	StartTime = time.Now()

	config, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics := NewPrometheusMetrics()

	sessions := NewSessionManager(config.Input.SampleRate, config.Server.MaxSessions, metrics)
	metrics.StartUpdater(ctx, sessions, StartTime)

	var mqttPublisher *MQTTPublisher
	if config.MQTT.Enabled {
		mqttPublisher, err = NewMQTTPublisher(&config.MQTT)
		if err != nil {
			log.Printf("MQTT: disabled: %v", err)
		} else {
			mqttPublisher.StartMetricsPublisher(ctx)
		}
	}

	receiver, err := NewIQReceiver(config.Input, sessions, metrics)
	if err != nil {
		log.Fatalf("Failed to start IQ receiver: %v", err)
	}
	receiver.Start()

	wsHandler, err := NewRTTYWebSocketHandler(sessions, mqttPublisher, metrics, config.RTTY, config.Server.EnableCORS)
	if err != nil {
		log.Fatalf("Failed to create websocket handler: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.HandleWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/status", statusHandler(config, sessions))

	server := &http.Server{
		Addr:    config.Server.Listen,
		Handler: mux,
	}

	go func() {
		log.Printf("Listening on %s", config.Server.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}

	receiver.Stop()
	sessions.StopAll()
	log.Println("Shutdown complete")
}

// statusHandler serves a JSON snapshot of server and host state
func statusHandler(config *Config, sessions *SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chars, framingErrors, parityErrors := sessions.Totals()

		status := map[string]interface{}{
			"uptime_seconds":  time.Since(StartTime).Seconds(),
			"active_sessions": sessions.Count(),
			"sample_rate":     config.Input.SampleRate,
			"chars_decoded":   chars,
			"framing_errors":  framingErrors,
			"parity_errors":   parityErrors,
		}
		if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
			status["cpu_percent"] = percents[0]
		}
		if vm, err := mem.VirtualMemory(); err == nil {
			status["memory_percent"] = vm.UsedPercent
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}
