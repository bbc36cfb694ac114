package rtty

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// TuningProbe computes a windowed FFT over the most recent baseband
// samples and reports the power landing in the mark and space bins. It
// is a tuning aid for operators, not part of the decode path: the
// demodulator never reads it.
type TuningProbe struct {
	mu      sync.Mutex
	fftSize int
	window  []float64
	buffer  []complex128
	index   int
	filled  bool
	fft     *fourier.CmplxFFT

	coeffs   []complex128
	spectrum []float32
}

// ProbeResult is one tuning measurement.
type ProbeResult struct {
	Spectrum   []float32 `json:"-"`           // power per FFT bin, DC-centered
	MarkPower  float64   `json:"mark_power"`  // dB
	SpacePower float64   `json:"space_power"` // dB
	TotalPower float64   `json:"total_power"` // dB
}

// NewTuningProbe creates a probe with the given FFT size.
func NewTuningProbe(fftSize int) *TuningProbe {
	p := &TuningProbe{
		fftSize:  fftSize,
		window:   make([]float64, fftSize),
		buffer:   make([]complex128, fftSize),
		coeffs:   make([]complex128, fftSize),
		spectrum: make([]float32, fftSize),
		fft:      fourier.NewCmplxFFT(fftSize),
	}
	// Hann window
	for i := range p.window {
		p.window[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(fftSize-1)))
	}
	return p
}

// Feed appends baseband samples to the probe's ring buffer.
func (p *TuningProbe) Feed(iq []complex64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range iq {
		p.buffer[p.index] = complex128(s)
		p.index++
		if p.index == p.fftSize {
			p.index = 0
			p.filled = true
		}
	}
}

// Measure runs the FFT over the buffered window and reads the powers at
// the mark and space frequencies. Returns false until one full window
// has been fed.
func (p *TuningProbe) Measure(sampleRate, markFreq, spaceFreq float64) (ProbeResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.filled {
		return ProbeResult{}, false
	}

	// Unroll the ring into time order and apply the window.
	src := make([]complex128, p.fftSize)
	for i := 0; i < p.fftSize; i++ {
		s := p.buffer[(p.index+i)%p.fftSize]
		src[i] = s * complex(p.window[i], 0)
	}
	coeffs := p.fft.Coefficients(p.coeffs, src)

	var total float64
	for i, c := range coeffs {
		pw := real(c)*real(c) + imag(c)*imag(c)
		total += pw
		// DC-centered ordering for display.
		p.spectrum[(i+p.fftSize/2)%p.fftSize] = float32(pw)
	}

	res := ProbeResult{
		Spectrum:   p.spectrum,
		MarkPower:  toDB(p.binPower(coeffs, sampleRate, markFreq)),
		SpacePower: toDB(p.binPower(coeffs, sampleRate, spaceFreq)),
		TotalPower: toDB(total),
	}
	return res, true
}

// binPower sums the power in the bin nearest freq and its neighbors.
func (p *TuningProbe) binPower(coeffs []complex128, sampleRate, freq float64) float64 {
	bin := int(math.Round(freq / sampleRate * float64(p.fftSize)))
	var power float64
	for off := -1; off <= 1; off++ {
		i := ((bin+off)%p.fftSize + p.fftSize) % p.fftSize
		c := coeffs[i]
		power += real(c)*real(c) + imag(c)*imag(c)
	}
	return power
}

func toDB(power float64) float64 {
	if power < 1e-20 {
		power = 1e-20
	}
	return 10 * math.Log10(power)
}
