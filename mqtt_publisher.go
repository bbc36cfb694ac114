package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MQTTPublisher publishes decoded text and metric snapshots
type MQTTPublisher struct {
	client mqtt.Client
	config *MQTTConfig
}

// TextPayload is the decoded-text message shape
type TextPayload struct {
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// MetricPayload is the periodic metric snapshot shape
type MetricPayload struct {
	Timestamp int64              `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// generateClientID creates a random client ID for the MQTT connection
func generateClientID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "rtty_rx_" + hex.EncodeToString(bytes)
}

// loadTLSConfig loads TLS configuration from files
func loadTLSConfig(tlsConfig MQTTTLSConfig) (*tls.Config, error) {
	if !tlsConfig.Enabled {
		return nil, nil
	}

	config := &tls.Config{}
	if tlsConfig.CACert != "" {
		caCert, err := os.ReadFile(tlsConfig.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		config.RootCAs = caCertPool
	}
	if tlsConfig.ClientCert != "" && tlsConfig.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.ClientCert, tlsConfig.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}
	return config, nil
}

// NewMQTTPublisher connects to the broker
func NewMQTTPublisher(config *MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if config.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Printf("MQTT: Connected to broker %s", config.Broker)
	return &MQTTPublisher{client: client, config: config}, nil
}

// PublishText publishes one decoded text batch. Drops silently while the
// broker is unreachable; the decode path never waits on the network.
func (mp *MQTTPublisher) PublishText(sessionID, text string) {
	if !mp.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(TextPayload{
		Timestamp: time.Now().Unix(),
		SessionID: sessionID,
		Text:      text,
	})
	if err != nil {
		return
	}
	mp.client.Publish(mp.config.TopicPrefix+"/text", 0, false, payload)
}

// StartMetricsPublisher periodically publishes a metric snapshot
// gathered from the Prometheus registry
func (mp *MQTTPublisher) StartMetricsPublisher(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Duration(mp.config.PublishInterval) * time.Second)
		defer ticker.Stop()

		mp.publishMetrics()
		for {
			select {
			case <-ctx.Done():
				log.Println("MQTT: Metrics publisher stopped")
				mp.client.Disconnect(250)
				return
			case <-ticker.C:
				mp.publishMetrics()
			}
		}
	}()
}

// publishMetrics gathers the default registry and publishes one snapshot
func (mp *MQTTPublisher) publishMetrics() {
	if !mp.client.IsConnected() {
		return
	}

	metricFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		log.Printf("MQTT: failed to gather metrics: %v", err)
		return
	}

	snapshot := make(map[string]float64)
	for _, mf := range metricFamilies {
		for _, m := range mf.GetMetric() {
			value, ok := extractMetricValue(mf.GetType(), m)
			if !ok {
				continue
			}
			snapshot[mf.GetName()] = value
		}
	}

	payload, err := json.Marshal(MetricPayload{
		Timestamp: time.Now().Unix(),
		Metrics:   snapshot,
	})
	if err != nil {
		return
	}
	mp.client.Publish(mp.config.TopicPrefix+"/metrics", 0, false, payload)
}

// extractMetricValue pulls the numeric value out of a dto.Metric
func extractMetricValue(metricType dto.MetricType, m *dto.Metric) (float64, bool) {
	switch metricType {
	case dto.MetricType_GAUGE:
		if m.GetGauge() != nil {
			return m.GetGauge().GetValue(), true
		}
	case dto.MetricType_COUNTER:
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue(), true
		}
	case dto.MetricType_UNTYPED:
		if m.GetUntyped() != nil {
			return m.GetUntyped().GetValue(), true
		}
	}
	return 0, false
}
