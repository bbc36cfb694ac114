package rtty

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Result message types on the decoder's binary output protocol.
const (
	MsgTypeText  = 0x01 // [type:1][timestamp:8][text_length:4][text:length]
	MsgTypeStats = 0x02 // [type:1][chars:8][framing_errors:8][parity_errors:8]
)

// Config contains the RTTY receive-chain parameters.
type Config struct {
	MarkFreq      float64 `json:"mark_freq" yaml:"mark_freq"`           // Hz, may be negative
	SpaceFreq     float64 `json:"space_freq" yaml:"space_freq"`         // Hz, may be negative
	BaudRate      float64 `json:"baud_rate" yaml:"baud_rate"`           // symbols per second
	WordLen       int     `json:"word_len" yaml:"word_len"`             // data bits, 1..8
	Parity        string  `json:"parity" yaml:"parity"`                 // none/odd/even/mark/space/dontcare
	Baudot        bool    `json:"baudot" yaml:"baudot"`                 // ITA2 translation in the sink
	Decimation    int     `json:"decimation" yaml:"decimation"`         // demod input samples per output
	StoreCapacity int     `json:"store_capacity" yaml:"store_capacity"` // bounded FIFO size
}

// HamConfig returns the amateur RTTY configuration: 45.45 baud, 170 Hz
// shift, tones at +/-85 Hz around the channel center, Baudot.
func HamConfig() Config {
	return Config{
		MarkFreq:      85.0,
		SpaceFreq:     -85.0,
		BaudRate:      45.45,
		WordLen:       5,
		Parity:        "none",
		Baudot:        true,
		Decimation:    16,
		StoreCapacity: 256,
	}
}

// WeatherConfig returns the DWD-style weather broadcast configuration:
// 50 baud, 450 Hz shift, Baudot.
func WeatherConfig() Config {
	return Config{
		MarkFreq:      -225.0,
		SpaceFreq:     225.0,
		BaudRate:      50.0,
		WordLen:       5,
		Parity:        "none",
		Baudot:        true,
		Decimation:    16,
		StoreCapacity: 256,
	}
}

// DefaultConfig returns the default receive configuration.
func DefaultConfig() Config {
	return HamConfig()
}

// Decoder drives a Pipeline from a channel of baseband sample blocks and
// publishes decoded text on a binary result channel. It is the process
// shell around the streaming core: the blocks do the work, the decoder
// owns the goroutine, the tickers and the output protocol.
type Decoder struct {
	sampleRate float64
	baudot     bool

	pipeline *Pipeline

	running  bool
	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup

	charsDecoded atomic.Uint64
}

// NewDecoder builds the three-block receive chain for the given input
// sample rate.
func NewDecoder(sampleRate float64, config Config) (*Decoder, error) {
	parity, err := ParseParity(config.Parity)
	if err != nil {
		return nil, err
	}
	demod, err := NewFSKDemod(sampleRate, config.Decimation, config.MarkFreq, config.SpaceFreq)
	if err != nil {
		return nil, fmt.Errorf("fsk demod: %w", err)
	}
	// The framer sees the demodulator's decimated rate.
	rx, err := NewAsyncRx(sampleRate/float64(config.Decimation), config.BaudRate, config.WordLen, parity)
	if err != nil {
		return nil, fmt.Errorf("async framer: %w", err)
	}
	sink := NewCharStore(config.StoreCapacity, config.Baudot)

	d := &Decoder{
		sampleRate: sampleRate,
		baudot:     config.Baudot,
		pipeline:   NewPipeline(demod, rx, sink),
		stopChan:   make(chan struct{}),
	}

	log.Printf("[RTTY] Initialized: SR=%.0f, Mark=%.1f Hz, Space=%.1f Hz, Baud=%.2f, Word=%d, Parity=%s, Baudot=%v",
		sampleRate, config.MarkFreq, config.SpaceFreq, config.BaudRate, config.WordLen, parity, config.Baudot)

	return d, nil
}

// Pipeline returns the underlying block chain, for parameter access.
func (d *Decoder) Pipeline() *Pipeline { return d.pipeline }

// CharsDecoded returns the total number of characters drained from the
// sink, including those whose text message was dropped because the
// result channel was full.
func (d *Decoder) CharsDecoded() uint64 { return d.charsDecoded.Load() }

// FramingErrors returns the framer's dropped-frame count.
func (d *Decoder) FramingErrors() uint64 { return d.pipeline.Framer().FramingErrors() }

// ParityErrors returns the framer's parity-failure count.
func (d *Decoder) ParityErrors() uint64 { return d.pipeline.Framer().ParityErrors() }

// Start begins consuming baseband samples. Decoded text is framed on
// resultChan using the binary message protocol.
func (d *Decoder) Start(iqChan <-chan []complex64, resultChan chan<- []byte) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("decoder already running")
	}
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.processLoop(iqChan, resultChan)
	return nil
}

// Stop stops the decoder and waits for the processing goroutine.
func (d *Decoder) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	close(d.stopChan)
	d.wg.Wait()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return nil
}

// processLoop is the decoder goroutine: feed the pipeline, periodically
// drain the sink.
func (d *Decoder) processLoop(iqChan <-chan []complex64, resultChan chan<- []byte) {
	defer d.wg.Done()

	flushTicker := time.NewTicker(100 * time.Millisecond)
	defer flushTicker.Stop()

	for {
		select {
		case <-d.stopChan:
			// Drain whatever the producer already queued before
			// flushing, so a stop does not drop buffered samples.
			for {
				select {
				case samples, ok := <-iqChan:
					if !ok {
						d.flush(resultChan)
						return
					}
					d.pipeline.Process(samples)
					continue
				default:
				}
				break
			}
			d.flush(resultChan)
			return

		case samples, ok := <-iqChan:
			if !ok {
				d.flush(resultChan)
				return
			}
			d.pipeline.Process(samples)

		case <-flushTicker.C:
			d.flush(resultChan)
		}
	}
}

// flush drains every queued string from the sink into text messages.
func (d *Decoder) flush(resultChan chan<- []byte) {
	for {
		text, remaining := d.pipeline.Store().GetData()
		if remaining < 0 {
			return
		}
		if text == "" {
			continue
		}
		d.charsDecoded.Add(uint64(len(text)))
		d.sendText(resultChan, text)
	}
}

// sendText frames one text message. The channel is never blocked on: a
// slow consumer drops messages rather than stalling the sample path.
func (d *Decoder) sendText(resultChan chan<- []byte, text string) {
	payload := []byte(text)
	msg := make([]byte, 1+8+4+len(payload))
	msg[0] = MsgTypeText
	binary.BigEndian.PutUint64(msg[1:9], uint64(time.Now().Unix()))
	binary.BigEndian.PutUint32(msg[9:13], uint32(len(payload)))
	copy(msg[13:], payload)

	select {
	case resultChan <- msg:
	default:
	}
}

// SendStats frames a statistics message on resultChan.
func (d *Decoder) SendStats(resultChan chan<- []byte) {
	msg := make([]byte, 1+8+8+8)
	msg[0] = MsgTypeStats
	binary.BigEndian.PutUint64(msg[1:9], d.CharsDecoded())
	binary.BigEndian.PutUint64(msg[9:17], d.FramingErrors())
	binary.BigEndian.PutUint64(msg[17:25], d.ParityErrors())

	select {
	case resultChan <- msg:
	default:
	}
}
