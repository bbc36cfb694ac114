package rtty

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// Parity selects the parity bit handling of the async framer. The
// numeric values are stable for external serialization.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
	ParityDontcare
)

// String returns the config-surface name of the parity mode.
func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	case ParityDontcare:
		return "dontcare"
	}
	return fmt.Sprintf("parity(%d)", int(p))
}

// ParseParity maps a config-surface name to a Parity value.
func ParseParity(s string) (Parity, error) {
	switch s {
	case "none", "":
		return ParityNone, nil
	case "odd":
		return ParityOdd, nil
	case "even":
		return ParityEven, nil
	case "mark":
		return ParityMark, nil
	case "space":
		return ParitySpace, nil
	case "dontcare":
		return ParityDontcare, nil
	}
	return ParityNone, fmt.Errorf("unknown parity: %q", s)
}

// rxState is the framer acquisition state.
type rxState int

const (
	rxWaitIdle rxState = iota // wait for a space to mark transition
	rxCheckIdle
	rxIdle // wait for a mark to space transition
	rxCheckStart
	rxGetBit
	rxCheckParity
	rxCheckStop
)

// AsyncRx recovers asynchronous start/stop character frames from the
// demodulator's sign-carrying samples. Each bit decision integrates one
// bit cell; the input cursor advances by fractional bit lengths and is
// rounded only for indexing, so non-integral sample-per-bit ratios do
// not drift.
type AsyncRx struct {
	mu sync.Mutex

	sampleRate float64
	bitRate    float64
	bitLen     float64
	wordLen    int
	parity     Parity

	state    rxState
	word     byte
	bitPos   int
	bitCount int

	// resume is the cursor position within the caller's retained input
	// at the next Work call. Work under-reports consumption by a full
	// bit so the half-bit rewinds of the check states always land on
	// samples that are still resident.
	resume float64

	framingErrors atomic.Uint64
	parityErrors  atomic.Uint64

	bitObs func(bool)
}

// NewAsyncRx creates a framer. wordLen is the number of data bits (1..8).
func NewAsyncRx(sampleRate, bitRate float64, wordLen int, parity Parity) (*AsyncRx, error) {
	a := &AsyncRx{state: rxWaitIdle, parity: parity}
	if err := a.SetWordLen(wordLen); err != nil {
		return nil, err
	}
	a.sampleRate = sampleRate
	if err := a.SetBitRate(bitRate); err != nil {
		return nil, err
	}
	return a, nil
}

// SetSampleRate changes the input sample rate and rederives the bit length.
func (a *AsyncRx) SetSampleRate(sampleRate float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := checkBitLen(sampleRate, a.bitRate); err != nil {
		return err
	}
	a.sampleRate = sampleRate
	a.bitLen = sampleRate / a.bitRate
	return nil
}

// SampleRate returns the configured sample rate.
func (a *AsyncRx) SampleRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sampleRate
}

// SetBitRate changes the symbol rate and rederives the bit length.
func (a *AsyncRx) SetBitRate(bitRate float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := checkBitLen(a.sampleRate, bitRate); err != nil {
		return err
	}
	a.bitRate = bitRate
	a.bitLen = a.sampleRate / bitRate
	return nil
}

// BitRate returns the symbol rate.
func (a *AsyncRx) BitRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bitRate
}

// checkBitLen rejects rates that do not leave more than one sample per bit.
func checkBitLen(sampleRate, bitRate float64) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %f", sampleRate)
	}
	if bitRate <= 0 {
		return fmt.Errorf("invalid bit rate: %f", bitRate)
	}
	if sampleRate/bitRate <= 1 {
		return fmt.Errorf("bit length %f too short (sample rate %f, bit rate %f)",
			sampleRate/bitRate, sampleRate, bitRate)
	}
	return nil
}

// SetWordLen sets the number of data bits per frame. Values outside 1..8
// are rejected and the prior setting is kept.
func (a *AsyncRx) SetWordLen(wordLen int) error {
	if wordLen < 1 || wordLen > 8 {
		return fmt.Errorf("invalid word length: %d", wordLen)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wordLen = wordLen
	return nil
}

// WordLen returns the number of data bits per frame.
func (a *AsyncRx) WordLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wordLen
}

// SetParity selects the parity mode.
func (a *AsyncRx) SetParity(parity Parity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.parity = parity
}

// Parity returns the parity mode.
func (a *AsyncRx) Parity() Parity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.parity
}

// SetBitObserver installs a per-bit diagnostic callback, invoked with
// each examined bit decision. Pass nil to remove it. Intended for debug
// surfaces; the decode path never logs on its own.
func (a *AsyncRx) SetBitObserver(obs func(bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bitObs = obs
}

// Reset returns the framer to its initial idle-acquisition state.
func (a *AsyncRx) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = rxWaitIdle
	a.resume = 0
}

// FramingErrors returns the number of frames dropped on a bad stop bit.
func (a *AsyncRx) FramingErrors() uint64 {
	return a.framingErrors.Load()
}

// ParityErrors returns the number of frames dropped on a parity mismatch.
func (a *AsyncRx) ParityErrors() uint64 {
	return a.parityErrors.Load()
}

// Forecast returns the number of input samples required to produce nOut
// characters: one full frame of bits per character.
func (a *AsyncRx) Forecast(nOut int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	frameBits := a.wordLen + 2
	if a.parity != ParityNone {
		frameBits++
	}
	return int(float64(nOut) * float64(frameBits) * a.bitLen)
}

// Work runs the framer over in, emitting up to nOut decoded characters
// into out. Returns characters produced and input samples consumed.
// Consumption trails the live cursor by one bit length: the caller must
// keep the unconsumed tail resident, and the framer resumes inside it on
// the next call. The check states rewind half a bit into that tail when
// a transition turns out to be noise.
func (a *AsyncRx) Work(nOut int, in []float32, out []byte) (produced, consumed int) {
	a.mu.Lock()
	bitLen := a.bitLen
	wordLen := a.wordLen
	parity := a.parity
	bitObs := a.bitObs
	a.mu.Unlock()

	if nOut > len(out) {
		nOut = len(out)
	}
	observe := func(bit bool) {
		if bitObs != nil {
			bitObs(bit)
		}
	}

	sumLen := int(bitLen)
	keep := sumLen + 1 // rewind margin retained past the consume point
	inCount := a.resume
	outCount := 0

	for outCount < nOut {
		pos := int(math.Round(inCount))
		if pos < 0 {
			// A rewind cannot run past the retained tail; clamp in
			// case the caller kept less than it consumed.
			pos = 0
			inCount = 0
		}
		if pos >= len(in)-sumLen {
			break
		}
		var acc float32
		for _, s := range in[pos : pos+sumLen] {
			acc += s
		}

		switch a.state {
		case rxWaitIdle: // wait for a space to mark transition
			if acc > 0 {
				inCount += bitLen/2 + 1
				a.state = rxCheckIdle
			} else {
				inCount++
			}

		case rxCheckIdle: // confirm one full bit of mark
			if acc > 0 {
				observe(true)
				inCount += bitLen
				a.state = rxIdle
				a.bitPos = 0
				a.bitCount = 0
				a.word = 0
			} else {
				inCount -= bitLen / 2
				a.state = rxWaitIdle
			}

		case rxIdle: // wait for a mark to space transition
			if acc <= 0 {
				inCount += bitLen/2 + 1
				a.state = rxCheckStart
			} else {
				inCount++
			}

		case rxCheckStart: // confirm the start bit
			if acc <= 0 {
				observe(false)
				inCount += bitLen
				a.state = rxGetBit
				a.bitPos = 0
				a.bitCount = 0
				a.word = 0
			} else {
				inCount -= bitLen / 2
				a.state = rxIdle
			}

		case rxGetBit:
			if acc > 0 {
				observe(true)
				a.word |= 1 << a.bitPos
				a.bitCount++
			} else {
				observe(false)
			}
			inCount += bitLen
			a.bitPos++
			if a.bitPos == wordLen {
				if parity == ParityNone {
					a.state = rxCheckStop
				} else {
					a.state = rxCheckParity
				}
			}

		case rxCheckParity:
			onesOdd := a.bitCount&1 == 1
			switch parity {
			default:
				a.state = rxCheckStop
			case ParityOdd:
				if (acc <= 0 && onesOdd) || (acc > 0 && !onesOdd) {
					inCount += bitLen
					a.state = rxCheckStop
				} else {
					a.parityErrors.Add(1)
					if acc >= 0 {
						a.state = rxIdle
					} else {
						a.state = rxWaitIdle
					}
					inCount++
				}
			case ParityEven:
				if (acc <= 0 && !onesOdd) || (acc > 0 && onesOdd) {
					inCount += bitLen
					a.state = rxCheckStop
				} else {
					a.parityErrors.Add(1)
					if acc >= 0 {
						a.state = rxIdle
					} else {
						a.state = rxWaitIdle
					}
					inCount++
				}
			case ParityMark:
				if acc > 0 {
					inCount += bitLen
					a.state = rxCheckStop
				} else {
					a.parityErrors.Add(1)
					a.state = rxWaitIdle
					inCount++
				}
			case ParitySpace:
				if acc <= 0 {
					inCount += bitLen
					a.state = rxCheckStop
				} else {
					a.parityErrors.Add(1)
					a.state = rxIdle
					inCount++
				}
			case ParityDontcare:
				inCount += bitLen
				a.state = rxCheckStop
			}
			observe(acc > 0)

		case rxCheckStop:
			if acc > 0 { // stop bit verified
				observe(true)
				out[outCount] = a.word
				outCount++
				a.state = rxIdle
			} else { // framing error
				observe(false)
				a.framingErrors.Add(1)
				a.state = rxWaitIdle
			}
			inCount += bitLen
		}
	}

	consumed = int(math.Round(inCount)) - keep
	if consumed < 0 {
		consumed = 0
	}
	a.resume = inCount - float64(consumed)
	return outCount, consumed
}
