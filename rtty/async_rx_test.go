package rtty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// softBits expands a bit sequence into a +/-1 soft-sample stream with
// bitLen samples per bit.
func softBits(bits []int, bitLen int) []float32 {
	out := make([]float32, 0, len(bits)*bitLen)
	for _, b := range bits {
		v := float32(-1)
		if b != 0 {
			v = 1
		}
		for i := 0; i < bitLen; i++ {
			out = append(out, v)
		}
	}
	return out
}

// frameBits encodes word as an async frame: start, wordLen data bits LSB
// first, optional parity bit, stop.
func frameBits(word byte, wordLen int, parityBit int) []int {
	bits := []int{0}
	ones := 0
	for i := 0; i < wordLen; i++ {
		b := int(word>>i) & 1
		ones += b
		bits = append(bits, b)
	}
	if parityBit >= 0 {
		bits = append(bits, parityBit)
	}
	return append(bits, 1)
}

// idleBits returns n bits of mark idle.
func idleBits(n int) []int {
	bits := make([]int, n)
	for i := range bits {
		bits[i] = 1
	}
	return bits
}

func runFramer(t *testing.T, a *AsyncRx, in []float32) []byte {
	t.Helper()
	out := make([]byte, 16)
	produced, consumed := a.Work(len(out), in, out)
	require.LessOrEqual(t, consumed, len(in))
	return out[:produced]
}

func TestAsyncRxSingleCharacter(t *testing.T) {
	// Scenario from the Baudot 'A' decode: 8000 S/s at 50 baud.
	a, err := NewAsyncRx(8000, 50, 5, ParityNone)
	require.NoError(t, err)
	require.InDelta(t, 160.0, a.bitLen, 1e-9)

	var bits []int
	bits = append(bits, idleBits(3)...)
	bits = append(bits, frameBits(0x03, 5, -1)...) // 'A'
	bits = append(bits, idleBits(3)...)

	got := runFramer(t, a, softBits(bits, 160))
	assert.Equal(t, []byte{0x03}, got)
}

func TestAsyncRxMarkOnlyEmitsNothing(t *testing.T) {
	a, err := NewAsyncRx(8000, 50, 5, ParityNone)
	require.NoError(t, err)

	in := make([]float32, 1000)
	for i := range in {
		in[i] = 1.0
	}
	out := make([]byte, 4)
	produced, consumed := a.Work(len(out), in, out)
	assert.Zero(t, produced)
	assert.Positive(t, consumed)
	// The line was verified idle; the next mark-to-space edge starts a
	// frame directly.
	assert.Equal(t, rxIdle, a.state)
}

func TestAsyncRxEightBitWords(t *testing.T) {
	// word_len=8, parity none, bit_len=8: a 10-bit frame.
	a, err := NewAsyncRx(64, 8, 8, ParityNone)
	require.NoError(t, err)

	var bits []int
	bits = append(bits, idleBits(3)...)
	bits = append(bits, frameBits(0xA5, 8, -1)...)
	bits = append(bits, idleBits(2)...)
	bits = append(bits, frameBits(0x5A, 8, -1)...)
	bits = append(bits, idleBits(3)...)

	got := runFramer(t, a, softBits(bits, 8))
	assert.Equal(t, []byte{0xA5, 0x5A}, got)
}

func TestAsyncRxBitOrder(t *testing.T) {
	// Bit 0 of the output is the first data bit received.
	a, err := NewAsyncRx(64, 8, 8, ParityNone)
	require.NoError(t, err)

	var bits []int
	bits = append(bits, idleBits(3)...)
	bits = append(bits, 0) // start
	bits = append(bits, 1, 0, 0, 0, 0, 0, 0, 0)
	bits = append(bits, 1) // stop
	bits = append(bits, idleBits(3)...)

	got := runFramer(t, a, softBits(bits, 8))
	assert.Equal(t, []byte{0x01}, got)
}

func TestAsyncRxFractionalBitLength(t *testing.T) {
	// 45.45 baud at 8000 S/s: 176.02 samples per bit. The fractional
	// cursor must not drift across a frame.
	a, err := NewAsyncRx(8000, 45.45, 5, ParityNone)
	require.NoError(t, err)

	bitLen := 8000.0 / 45.45
	var in []float32
	appendBit := func(b int, count float64) {
		v := float32(-1)
		if b != 0 {
			v = 1
		}
		for len(in) < int(count) {
			in = append(in, v)
		}
	}
	var edge float64
	push := func(bits []int) {
		for _, b := range bits {
			edge += bitLen
			appendBit(b, edge)
		}
	}
	push(idleBits(3))
	push(frameBits(0x15, 5, -1)) // 'Y'
	push(idleBits(2))
	push(frameBits(0x0A, 5, -1)) // 'R'
	push(idleBits(3))

	got := runFramer(t, a, in)
	assert.Equal(t, []byte{0x15, 0x0A}, got)
}

func TestAsyncRxGlitchImmunity(t *testing.T) {
	a, err := NewAsyncRx(8000, 50, 5, ParityNone)
	require.NoError(t, err)

	var bits []int
	bits = append(bits, idleBits(3)...)
	bits = append(bits, frameBits(0x03, 5, -1)...)
	bits = append(bits, idleBits(3)...)
	in := softBits(bits, 160)

	// One inverted sample mid-way through a data bit cell must not flip
	// the integrated decision. Data bit 2 (a space) spans samples
	// (3+1+2)*160 .. (3+1+3)*160.
	in[(3+1+2)*160+80] = 1.0

	got := runFramer(t, a, in)
	assert.Equal(t, []byte{0x03}, got)
}

func TestAsyncRxFramingError(t *testing.T) {
	a, err := NewAsyncRx(8000, 50, 5, ParityNone)
	require.NoError(t, err)

	var bits []int
	bits = append(bits, idleBits(3)...)
	// Frame whose stop bit arrives as space: dropped silently.
	bits = append(bits, 0)
	bits = append(bits, 1, 1, 0, 0, 0)
	bits = append(bits, 0) // bad stop
	// Resynchronisation needs idle before the next frame.
	bits = append(bits, idleBits(3)...)
	bits = append(bits, frameBits(0x0F, 5, -1)...)
	bits = append(bits, idleBits(3)...)

	got := runFramer(t, a, softBits(bits, 160))
	assert.Equal(t, []byte{0x0F}, got)
	assert.Equal(t, uint64(1), a.FramingErrors())
}

func TestAsyncRxParity(t *testing.T) {
	tests := []struct {
		name      string
		parity    Parity
		word      byte
		parityBit int
		want      []byte
	}{
		// 0x05 has two set bits. Odd parity expects a mark parity bit.
		{"odd pass", ParityOdd, 0x05, 1, []byte{0x05}},
		{"odd fail", ParityOdd, 0x05, 0, nil},
		// 0x07 has three set bits. Odd parity expects a space parity bit.
		{"odd pass odd ones", ParityOdd, 0x07, 0, []byte{0x07}},
		{"even pass", ParityEven, 0x05, 0, []byte{0x05}},
		{"even fail", ParityEven, 0x05, 1, nil},
		{"mark pass", ParityMark, 0x11, 1, []byte{0x11}},
		{"mark fail", ParityMark, 0x11, 0, nil},
		{"space pass", ParitySpace, 0x11, 0, []byte{0x11}},
		{"space fail", ParitySpace, 0x11, 1, nil},
		{"dontcare high", ParityDontcare, 0x11, 1, []byte{0x11}},
		{"dontcare low", ParityDontcare, 0x11, 0, []byte{0x11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAsyncRx(8000, 50, 5, tt.parity)
			require.NoError(t, err)

			var bits []int
			bits = append(bits, idleBits(3)...)
			bits = append(bits, frameBits(tt.word, 5, tt.parityBit)...)
			bits = append(bits, idleBits(3)...)

			got := runFramer(t, a, softBits(bits, 160))
			assert.Equal(t, tt.want, []byte(got))
		})
	}
}

func TestAsyncRxParityFailureResync(t *testing.T) {
	a, err := NewAsyncRx(8000, 50, 5, ParityOdd)
	require.NoError(t, err)

	var bits []int
	bits = append(bits, idleBits(3)...)
	bits = append(bits, frameBits(0x05, 5, 0)...) // wrong parity, dropped
	bits = append(bits, idleBits(3)...)
	bits = append(bits, frameBits(0x05, 5, 1)...) // correct parity
	bits = append(bits, idleBits(3)...)

	got := runFramer(t, a, softBits(bits, 160))
	assert.Equal(t, []byte{0x05}, got)
	assert.Equal(t, uint64(1), a.ParityErrors())
}

func TestAsyncRxCrossCallRewind(t *testing.T) {
	a, err := NewAsyncRx(8000, 50, 5, ParityNone)
	require.NoError(t, err)
	out := make([]byte, 4)

	// First call ends right after a wait-idle transition: a 90-sample
	// mark burst trips the idle check, and the input runs out before
	// the check can look at a full bit.
	buf := make([]float32, 0, 4096)
	for i := 0; i < 90; i++ {
		buf = append(buf, 1)
	}
	for i := 0; i < 151; i++ {
		buf = append(buf, -1)
	}
	produced, consumed := a.Work(len(out), buf, out)
	require.Zero(t, produced)
	require.GreaterOrEqual(t, consumed, 0)
	buf = buf[:copy(buf, buf[consumed:])]

	// Second call: the idle check fails over the retained tail and
	// rewinds half a bit across the call boundary. Must not panic and
	// must not report negative consumption.
	for i := 0; i < 160; i++ {
		buf = append(buf, -1)
	}
	produced, consumed = a.Work(len(out), buf, out)
	require.Zero(t, produced)
	require.GreaterOrEqual(t, consumed, 0)
	require.LessOrEqual(t, consumed, len(buf))
	buf = buf[:copy(buf, buf[consumed:])]

	// The framer must come out of the aborted acquisition able to
	// decode a following frame.
	var bits []int
	bits = append(bits, idleBits(3)...)
	bits = append(bits, frameBits(0x03, 5, -1)...)
	bits = append(bits, idleBits(3)...)
	buf = append(buf, softBits(bits, 160)...)
	produced, consumed = a.Work(len(out), buf, out)
	require.GreaterOrEqual(t, consumed, 0)
	assert.Equal(t, []byte{0x03}, out[:produced])
}

func TestAsyncRxChunkedDecode(t *testing.T) {
	// Feeding the stream in ragged blocks through a compacting buffer
	// must decode the same characters as one whole-buffer call: the
	// fractional cursor and the rewind tail carry across Work calls.
	var bits []int
	bits = append(bits, idleBits(3)...)
	bits = append(bits, frameBits(0x0A, 5, -1)...)
	bits = append(bits, idleBits(2)...)
	bits = append(bits, frameBits(0x15, 5, -1)...)
	bits = append(bits, idleBits(3)...)
	stream := softBits(bits, 160)

	for _, chunk := range []int{50, 137, 333} {
		a, err := NewAsyncRx(8000, 50, 5, ParityNone)
		require.NoError(t, err)

		var got []byte
		buf := make([]float32, 0, len(stream))
		for off := 0; off < len(stream); off += chunk {
			end := off + chunk
			if end > len(stream) {
				end = len(stream)
			}
			buf = append(buf, stream[off:end]...)
			out := make([]byte, 8)
			produced, consumed := a.Work(len(out), buf, out)
			require.GreaterOrEqual(t, consumed, 0)
			require.LessOrEqual(t, consumed, len(buf))
			got = append(got, out[:produced]...)
			buf = buf[:copy(buf, buf[consumed:])]
		}
		assert.Equal(t, []byte{0x0A, 0x15}, got, "chunk size %d", chunk)
	}
}

func TestAsyncRxForecast(t *testing.T) {
	a, err := NewAsyncRx(8000, 50, 5, ParityNone)
	require.NoError(t, err)
	// start + 5 data + stop = 7 bits of 160 samples.
	assert.Equal(t, 1120, a.Forecast(1))
	assert.Equal(t, 11200, a.Forecast(10))

	a.SetParity(ParityOdd)
	assert.Equal(t, 1280, a.Forecast(1))

	require.NoError(t, a.SetWordLen(8))
	assert.Equal(t, 1760, a.Forecast(1))
}

func TestAsyncRxSetterValidation(t *testing.T) {
	a, err := NewAsyncRx(8000, 50, 5, ParityNone)
	require.NoError(t, err)

	require.Error(t, a.SetWordLen(0))
	require.Error(t, a.SetWordLen(9))
	assert.Equal(t, 5, a.WordLen())

	require.Error(t, a.SetBitRate(0))
	require.Error(t, a.SetBitRate(-50))
	require.Error(t, a.SetBitRate(8000)) // bit length would be 1
	assert.Equal(t, 50.0, a.BitRate())

	require.Error(t, a.SetSampleRate(0))
	require.NoError(t, a.SetSampleRate(16000))
	assert.InDelta(t, 320.0, a.bitLen, 1e-9)

	_, err = NewAsyncRx(8000, 50, 12, ParityNone)
	require.Error(t, err)
	_, err = NewAsyncRx(0, 50, 5, ParityNone)
	require.Error(t, err)
}

func TestAsyncRxReset(t *testing.T) {
	a, err := NewAsyncRx(8000, 50, 5, ParityNone)
	require.NoError(t, err)

	// Leave the framer mid-acquisition, then reset.
	in := make([]float32, 1000)
	for i := range in {
		in[i] = 1.0
	}
	out := make([]byte, 1)
	a.Work(1, in, out)
	require.NotEqual(t, rxWaitIdle, a.state)

	a.Reset()
	assert.Equal(t, rxWaitIdle, a.state)
}

func TestAsyncRxBitObserver(t *testing.T) {
	a, err := NewAsyncRx(8000, 50, 5, ParityNone)
	require.NoError(t, err)

	var seen []bool
	a.SetBitObserver(func(b bool) { seen = append(seen, b) })

	var bits []int
	bits = append(bits, idleBits(3)...)
	bits = append(bits, frameBits(0x03, 5, -1)...)
	bits = append(bits, idleBits(3)...)
	runFramer(t, a, softBits(bits, 160))

	// idle confirm, start, five data bits, stop.
	require.Len(t, seen, 8)
	assert.Equal(t, []bool{true, false, true, true, false, false, false, true}, seen)
}
