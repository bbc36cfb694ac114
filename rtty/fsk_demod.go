package rtty

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"
)

// FSKDemod is a streaming FSK demodulator. It correlates the complex
// baseband input against one full cycle of each tone and emits one real
// sample per decimation window: the signed count of per-sub-sample
// mark-vs-space decisions. Sign carries the symbol (positive = mark),
// magnitude carries confidence.
type FSKDemod struct {
	mu sync.Mutex

	sampleRate float64
	markFreq   float64
	spaceFreq  float64
	decimation int

	markDiv  int
	spaceDiv int

	corrMark  []complex64
	corrSpace []complex64
}

// NewFSKDemod creates a demodulator for the given tone pair.
func NewFSKDemod(sampleRate float64, decimation int, markFreq, spaceFreq float64) (*FSKDemod, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %f", sampleRate)
	}
	d := &FSKDemod{
		sampleRate: sampleRate,
		markFreq:   markFreq,
		spaceFreq:  spaceFreq,
		decimation: 1,
	}
	d.mu.Lock()
	d.updateMark()
	d.updateSpace()
	d.mu.Unlock()
	if err := d.SetDecimation(decimation); err != nil {
		return nil, err
	}
	return d, nil
}

// toneDiv returns the correlation template length for a tone: the number
// of samples in one integer cycle, never less than one.
func (d *FSKDemod) toneDiv(freq float64) int {
	if freq == 0 {
		return 1
	}
	div := int(math.Round(d.sampleRate / math.Abs(freq)))
	if div < 1 {
		div = 1
	}
	return div
}

// updateMark recomputes the mark correlation template. Caller holds d.mu.
func (d *FSKDemod) updateMark() {
	div := d.toneDiv(d.markFreq)
	d.markDiv = div
	d.corrMark = make([]complex64, div)
	for n := div; n > 0; n-- {
		d.corrMark[div-n] = complex64(cmplx.Rect(1, 2*math.Pi*float64(n)*d.markFreq/d.sampleRate))
	}
}

// updateSpace recomputes the space correlation template. Caller holds d.mu.
func (d *FSKDemod) updateSpace() {
	div := d.toneDiv(d.spaceFreq)
	d.spaceDiv = div
	d.corrSpace = make([]complex64, div)
	for n := div; n > 0; n-- {
		d.corrSpace[div-n] = complex64(cmplx.Rect(1, 2*math.Pi*float64(n)*d.spaceFreq/d.sampleRate))
	}
}

// SetSampleRate changes the input sample rate. Both templates depend on it.
func (d *FSKDemod) SetSampleRate(sampleRate float64) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %f", sampleRate)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sampleRate = sampleRate
	d.updateMark()
	d.updateSpace()
	return nil
}

// SampleRate returns the configured sample rate.
func (d *FSKDemod) SampleRate() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sampleRate
}

// SetMarkFreq changes the mark tone frequency. Negative frequencies are
// allowed; only the magnitude governs the template length.
func (d *FSKDemod) SetMarkFreq(freq float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markFreq = freq
	d.updateMark()
}

// MarkFreq returns the mark tone frequency.
func (d *FSKDemod) MarkFreq() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.markFreq
}

// SetSpaceFreq changes the space tone frequency.
func (d *FSKDemod) SetSpaceFreq(freq float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spaceFreq = freq
	d.updateSpace()
}

// SpaceFreq returns the space tone frequency.
func (d *FSKDemod) SpaceFreq() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spaceFreq
}

// SetDecimation sets the number of input samples consumed per output
// sample. Values below one are rejected and the prior setting is kept.
func (d *FSKDemod) SetDecimation(decimation int) error {
	if decimation < 1 {
		return fmt.Errorf("invalid decimation: %d", decimation)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decimation = decimation
	return nil
}

// Decimation returns the decimation factor.
func (d *FSKDemod) Decimation() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decimation
}

// HistoryLen returns the length of the longer of the two correlation
// templates. Work needs HistoryLen()-1 input samples past the consumed
// range, so the scheduler keeps that many trailing samples resident.
func (d *FSKDemod) HistoryLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.markDiv > d.spaceDiv {
		return d.markDiv
	}
	return d.spaceDiv
}

// Forecast returns the number of input samples required to produce nOut
// output samples, not counting history.
func (d *FSKDemod) Forecast(nOut int) int {
	return nOut * d.Decimation()
}

// dotProd computes the unconjugated complex dot product of equal-length
// slices, accumulating in double precision.
func dotProd(in, corr []complex64) complex128 {
	var acc complex128
	for i, c := range corr {
		acc += complex128(in[i]) * complex128(c)
	}
	return acc
}

// Work demodulates up to nOut output samples from in, writing them to
// out. The input must extend max(markDiv, spaceDiv)-1 samples past the
// consumed range so every correlation window is fully covered. Returns
// the number of samples produced and consumed.
func (d *FSKDemod) Work(nOut int, in []complex64, out []float32) (produced, consumed int) {
	d.mu.Lock()
	corrMark, corrSpace := d.corrMark, d.corrSpace
	markDiv, spaceDiv := d.markDiv, d.spaceDiv
	decimation := d.decimation
	d.mu.Unlock()

	history := markDiv
	if spaceDiv > history {
		history = spaceDiv
	}
	if nOut > len(out) {
		nOut = len(out)
	}

	nIn := 0
	for nOut > 0 {
		// One output needs windows ending at nIn+decimation-1+history.
		if nIn+decimation-1+history > len(in) {
			break
		}
		state := 0
		for nDec := 0; nDec < decimation; nDec++ {
			base := nIn + nDec
			var markPower, spacePower complex128
			// Right-align both windows so they end on the same
			// input sample.
			if markDiv > spaceDiv {
				markPower = dotProd(in[base:], corrMark)
				spacePower = dotProd(in[base+markDiv-spaceDiv:], corrSpace)
			} else {
				markPower = dotProd(in[base+spaceDiv-markDiv:], corrMark)
				spacePower = dotProd(in[base:], corrSpace)
			}
			// Normalize magnitudes by the opposite template
			// length: the tones may need unequal window sizes.
			diff := cmplx.Abs(markPower)*float64(spaceDiv) - cmplx.Abs(spacePower)*float64(markDiv)
			if diff > 0 {
				state++
			} else {
				state--
			}
		}
		nIn += decimation
		out[produced] = float32(state)
		produced++
		nOut--
	}
	return produced, nIn
}
