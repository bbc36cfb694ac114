package rtty

// Pipeline chains the three receive blocks over internal stream buffers
// in the produce-up-to-N / consume-what-you-used model: each block is
// invoked when its forecast input is available, consumed samples are
// compacted away, and the demodulator keeps its correlation history
// resident across calls. Process is not safe for concurrent use; the
// blocks' parameter setters are.
type Pipeline struct {
	demod *FSKDemod
	rx    *AsyncRx
	sink  *CharStore

	iqBuf   []complex64
	softBuf []float32

	softScratch []float32
	charScratch []byte
}

// NewPipeline assembles the receive chain from its three blocks.
func NewPipeline(demod *FSKDemod, rx *AsyncRx, sink *CharStore) *Pipeline {
	return &Pipeline{
		demod:       demod,
		rx:          rx,
		sink:        sink,
		charScratch: make([]byte, 64),
	}
}

// Demod returns the FSK demodulator block.
func (p *Pipeline) Demod() *FSKDemod { return p.demod }

// Framer returns the async framer block.
func (p *Pipeline) Framer() *AsyncRx { return p.rx }

// Store returns the character sink block.
func (p *Pipeline) Store() *CharStore { return p.sink }

// Process appends baseband samples to the pipeline input and runs every
// block until all of them starve.
func (p *Pipeline) Process(in []complex64) {
	p.iqBuf = append(p.iqBuf, in...)
	for p.runDemod() || p.runFramer() {
	}
}

// runDemod invokes the demodulator if enough input is buffered. Reports
// whether any samples moved.
func (p *Pipeline) runDemod() bool {
	decimation := p.demod.Decimation()
	history := p.demod.HistoryLen()

	nOut := (len(p.iqBuf) - (history - 1)) / decimation
	if nOut <= 0 {
		return false
	}
	if cap(p.softScratch) < nOut {
		p.softScratch = make([]float32, nOut)
	}
	produced, consumed := p.demod.Work(nOut, p.iqBuf, p.softScratch[:nOut])
	if produced == 0 && consumed == 0 {
		return false
	}
	p.softBuf = append(p.softBuf, p.softScratch[:produced]...)
	// Compact, retaining the demodulator's history tail.
	p.iqBuf = p.iqBuf[:copy(p.iqBuf, p.iqBuf[consumed:])]
	return true
}

// runFramer invokes the framer once at least one frame's worth of soft
// samples is buffered, then hands any decoded characters to the sink.
// The framer under-consumes by one bit length and resumes inside the
// retained tail, so its half-bit rewinds stay on resident samples; the
// compaction below must therefore only ever drop what Work reported.
func (p *Pipeline) runFramer() bool {
	need := p.rx.Forecast(1)
	if need < 1 {
		need = 1
	}
	if len(p.softBuf) < need {
		return false
	}
	nOut := len(p.softBuf)/need + 1
	if cap(p.charScratch) < nOut {
		p.charScratch = make([]byte, nOut)
	}
	produced, consumed := p.rx.Work(nOut, p.softBuf, p.charScratch[:nOut])
	if produced == 0 && consumed == 0 {
		return false
	}
	p.softBuf = p.softBuf[:copy(p.softBuf, p.softBuf[consumed:])]
	if produced > 0 {
		p.sink.Work(p.charScratch[:produced])
	}
	return true
}
