package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"net"
	"syscall"

	"github.com/pion/rtp"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// IQReceiver receives complex baseband samples from an RTP multicast
// stream, radiod-style: interleaved little-endian float32 I/Q pairs.
type IQReceiver struct {
	dataAddr *net.UDPAddr
	iface    *net.Interface
	ssrc     uint32
	conn     *net.UDPConn
	sessions *SessionManager
	metrics  *PrometheusMetrics

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewIQReceiver resolves the multicast group and opens the data socket
func NewIQReceiver(config InputConfig, sessions *SessionManager, metrics *PrometheusMetrics) (*IQReceiver, error) {
	dataAddr, err := net.ResolveUDPAddr("udp", config.DataGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data group %s: %w", config.DataGroup, err)
	}

	var iface *net.Interface
	if config.Interface != "" {
		iface, err = net.InterfaceByName(config.Interface)
		if err != nil {
			return nil, fmt.Errorf("failed to get interface %s: %w", config.Interface, err)
		}
	}

	conn, err := setupDataSocket(dataAddr, iface)
	if err != nil {
		return nil, fmt.Errorf("failed to setup data socket: %w", err)
	}

	log.Printf("IQ: listening on %s (iface: %v, ssrc: %d)", dataAddr, iface, config.SSRC)
	return &IQReceiver{
		dataAddr: dataAddr,
		iface:    iface,
		ssrc:     config.SSRC,
		conn:     conn,
		sessions: sessions,
		metrics:  metrics,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// setupDataSocket creates a UDP socket joined to the multicast group,
// with SO_REUSEADDR/SO_REUSEPORT so several receivers can share it
func setupDataSocket(addr *net.UDPAddr, iface *net.Interface) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_REUSEPORT: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	packetConn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", addr.Port))
	if err != nil {
		return nil, err
	}
	conn := packetConn.(*net.UDPConn)

	if addr.IP.IsMulticast() {
		p := ipv4.NewPacketConn(conn)
		if err := p.JoinGroup(iface, &net.UDPAddr{IP: addr.IP}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to join multicast group %s: %w", addr.IP, err)
		}
	}
	return conn, nil
}

// Start begins the receive loop
func (r *IQReceiver) Start() {
	go r.receiveLoop()
}

// Stop closes the socket and waits for the receive loop to exit
func (r *IQReceiver) Stop() {
	close(r.stopChan)
	r.conn.Close()
	<-r.doneChan
}

// receiveLoop reads RTP packets and fans the decoded samples out
func (r *IQReceiver) receiveLoop() {
	defer close(r.doneChan)

	buf := make([]byte, 9000)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.stopChan:
				return
			default:
				log.Printf("IQ: read error: %v", err)
				continue
			}
		}

		var packet rtp.Packet
		if err := packet.Unmarshal(buf[:n]); err != nil {
			log.Printf("IQ: RTP unmarshal error: %v", err)
			continue
		}
		if r.ssrc != 0 && packet.SSRC != r.ssrc {
			continue
		}

		samples := decodeIQPayload(packet.Payload)
		if samples == nil {
			continue
		}
		if r.metrics != nil {
			r.metrics.iqPacketsTotal.Inc()
			r.metrics.iqBytesTotal.Add(float64(len(packet.Payload)))
		}
		r.sessions.FeedIQ(samples)
	}
}

// decodeIQPayload converts interleaved little-endian float32 I/Q pairs
// to complex samples. Returns nil when the payload is not a whole number
// of pairs.
func decodeIQPayload(payload []byte) []complex64 {
	if len(payload) == 0 || len(payload)%8 != 0 {
		return nil
	}
	samples := make([]complex64, len(payload)/8)
	for i := range samples {
		re := math.Float32frombits(binary.LittleEndian.Uint32(payload[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(payload[i*8+4:]))
		samples[i] = complex(re, im)
	}
	return samples
}
