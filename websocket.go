package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"github.com/cwsl/rtty_rx/rtty"
)

// Binary frame types pushed to websocket clients
const (
	wsFrameSpectrum = 0x10 // [type:1][bins:4][float32 power...] zstd-compressed
)

// RTTYWebSocketHandler serves the decode websocket endpoint
type RTTYWebSocketHandler struct {
	sessions    *SessionManager
	mqtt        *MQTTPublisher
	metrics     *PrometheusMetrics
	defaultConf rtty.Config

	upgrader    websocket.Upgrader
	zstdEncoder *zstd.Encoder
}

// NewRTTYWebSocketHandler creates the websocket handler
func NewRTTYWebSocketHandler(sessions *SessionManager, mqtt *MQTTPublisher, metrics *PrometheusMetrics, defaultConf rtty.Config, enableCORS bool) (*RTTYWebSocketHandler, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	h := &RTTYWebSocketHandler{
		sessions:    sessions,
		mqtt:        mqtt,
		metrics:     metrics,
		defaultConf: defaultConf,
		zstdEncoder: encoder,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if enableCORS {
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return h, nil
}

// wsClient is one connected websocket client and its decode session
type wsClient struct {
	conn    *websocket.Conn
	connMu  sync.Mutex
	session *Session
}

// writeJSON sends a JSON message, serialized against the spectrum pusher
func (c *wsClient) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn.WriteJSON(v)
}

// writeBinary sends a binary frame, serialized against the text pusher
func (c *wsClient) writeBinary(data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// HandleWS upgrades the connection and runs the session until the client
// disconnects
func (h *RTTYWebSocketHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.wsConnectionsTotal.Inc()
	}

	session, err := h.sessions.Create(h.defaultConf)
	if err != nil {
		conn.WriteJSON(map[string]interface{}{"type": "error", "error": err.Error()})
		return
	}
	defer h.sessions.Remove(session.ID)

	client := &wsClient{conn: conn, session: session}
	client.writeJSON(map[string]interface{}{
		"type":       "rtty_ready",
		"session_id": session.ID,
		"config":     session.Config,
	})

	stopChan := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go h.pushResults(client, stopChan, &wg)
	go h.pushSpectrum(client, stopChan, &wg)

	// Reader loop: JSON control messages until the client goes away
	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if err := h.handleControlMessage(client, msg); err != nil {
			client.writeJSON(map[string]interface{}{"type": "error", "error": err.Error()})
		}
	}

	close(stopChan)
	wg.Wait()
}

// pushResults forwards decoded text messages to the client
func (h *RTTYWebSocketHandler) pushResults(client *wsClient, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-stopChan:
			return
		case msg := <-client.session.ResultChan:
			if len(msg) < 13 || msg[0] != rtty.MsgTypeText {
				continue
			}
			text := string(msg[13:])
			event := map[string]interface{}{
				"type":      "rtty_text",
				"text":      text,
				"timestamp": int64(binary.BigEndian.Uint64(msg[1:9])),
			}
			if err := client.writeJSON(event); err != nil {
				return
			}
			if h.metrics != nil {
				h.metrics.wsMessagesSent.Inc()
			}
			if h.mqtt != nil {
				h.mqtt.PublishText(client.session.ID, text)
			}
		}
	}
}

// pushSpectrum periodically sends a compressed tuning-probe frame
func (h *RTTYWebSocketHandler) pushSpectrum(client *wsClient, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			demod := client.session.Decoder.Pipeline().Demod()
			res, ok := client.session.Probe.Measure(h.sessions.SampleRate(), demod.MarkFreq(), demod.SpaceFreq())
			if !ok {
				continue
			}
			frame := h.encodeSpectrumFrame(res.Spectrum)
			if err := client.writeBinary(frame); err != nil {
				return
			}
			if h.metrics != nil {
				h.metrics.wsMessagesSent.Inc()
			}
		}
	}
}

// encodeSpectrumFrame packs bin powers as little-endian float32 behind a
// small header and compresses the whole frame with zstd
func (h *RTTYWebSocketHandler) encodeSpectrumFrame(spectrum []float32) []byte {
	raw := make([]byte, 5+4*len(spectrum))
	raw[0] = wsFrameSpectrum
	binary.BigEndian.PutUint32(raw[1:5], uint32(len(spectrum)))
	for i, v := range spectrum {
		binary.LittleEndian.PutUint32(raw[5+4*i:], math.Float32bits(v))
	}
	return h.zstdEncoder.EncodeAll(raw, nil)
}

// handleControlMessage dispatches one client control message
func (h *RTTYWebSocketHandler) handleControlMessage(client *wsClient, msg map[string]interface{}) error {
	msgType, ok := msg["type"].(string)
	if !ok {
		return fmt.Errorf("invalid message type")
	}

	switch msgType {
	case "rtty_set":
		return h.applySettings(client.session, msg)

	case "rtty_reset":
		client.session.Decoder.Pipeline().Framer().Reset()
		return client.writeJSON(map[string]interface{}{"type": "rtty_reset_ok"})

	case "rtty_status":
		chars := client.session.Decoder.CharsDecoded()
		return client.writeJSON(map[string]interface{}{
			"type":           "rtty_status",
			"session_id":     client.session.ID,
			"chars_decoded":  chars,
			"framing_errors": client.session.Decoder.FramingErrors(),
			"parity_errors":  client.session.Decoder.ParityErrors(),
			"uptime_seconds": time.Since(client.session.CreatedAt).Seconds(),
		})

	default:
		return fmt.Errorf("unknown message type: %s", msgType)
	}
}

// applySettings forwards runtime parameter changes to the decode blocks.
// A rejected value leaves the prior setting in effect.
func (h *RTTYWebSocketHandler) applySettings(session *Session, msg map[string]interface{}) error {
	demod := session.Decoder.Pipeline().Demod()
	framer := session.Decoder.Pipeline().Framer()
	store := session.Decoder.Pipeline().Store()

	if v, ok := msg["mark_freq"].(float64); ok {
		demod.SetMarkFreq(v)
	}
	if v, ok := msg["space_freq"].(float64); ok {
		demod.SetSpaceFreq(v)
	}
	if v, ok := msg["baud_rate"].(float64); ok {
		if err := framer.SetBitRate(v); err != nil {
			return err
		}
	}
	if v, ok := msg["word_len"].(float64); ok {
		if err := framer.SetWordLen(int(v)); err != nil {
			return err
		}
	}
	if v, ok := msg["parity"].(string); ok {
		parity, err := rtty.ParseParity(v)
		if err != nil {
			return err
		}
		framer.SetParity(parity)
	}
	if v, ok := msg["baudot"].(bool); ok {
		store.SetBaudot(v)
	}
	return nil
}
