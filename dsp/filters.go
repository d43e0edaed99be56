package dsp

import "math"

// DCBlocker removes the DC offset with a moving average of the last Length
// samples, carried across frames. The long form cascades two averages for a
// sharper notch.
type DCBlocker struct {
	Length int
	Long   bool

	stages []*movingAverage
}

func NewDCBlocker(length int, long bool) *DCBlocker {
	d := &DCBlocker{Length: length, Long: long}
	d.stages = []*movingAverage{newMovingAverage(length)}
	if long {
		d.stages = append(d.stages, newMovingAverage(length))
	}
	return d
}

func (d *DCBlocker) Name() string { return "dc_block" }

func (d *DCBlocker) ProcessFrame(frame []complex64) ([][]complex64, error) {
	out := make([]complex64, len(frame))
	for i, x := range frame {
		dc := x
		for _, ma := range d.stages {
			dc = ma.push(dc)
		}
		out[i] = x - dc
	}
	return [][]complex64{out}, nil
}

type movingAverage struct {
	buf  []complex64
	sum  complex128
	next int
	n    int
}

func newMovingAverage(length int) *movingAverage {
	if length < 1 {
		length = 1
	}
	return &movingAverage{buf: make([]complex64, length)}
}

func (m *movingAverage) push(x complex64) complex64 {
	m.sum += complex128(x) - complex128(m.buf[m.next])
	m.buf[m.next] = x
	m.next = (m.next + 1) % len(m.buf)
	if m.n < len(m.buf) {
		m.n++
	}
	return complex64(m.sum / complex(float64(m.n), 0))
}

// IQBalance removes the per-frame mean of I and Q and equalizes their power.
type IQBalance struct{}

func (IQBalance) Name() string { return "iq_balance" }

func (IQBalance) ProcessFrame(frame []complex64) ([][]complex64, error) {
	out := make([]complex64, len(frame))
	if len(frame) == 0 {
		return [][]complex64{out}, nil
	}
	var meanI, meanQ float64
	for _, x := range frame {
		meanI += float64(real(x))
		meanQ += float64(imag(x))
	}
	meanI /= float64(len(frame))
	meanQ /= float64(len(frame))

	var powI, powQ float64
	for _, x := range frame {
		i, q := float64(real(x))-meanI, float64(imag(x))-meanQ
		powI += i * i
		powQ += q * q
	}
	gain := 1.0
	if powQ > 0 {
		gain = math.Sqrt(powI / powQ)
	}
	for k, x := range frame {
		out[k] = complex(
			float32(float64(real(x))-meanI),
			float32((float64(imag(x))-meanQ)*gain))
	}
	return [][]complex64{out}, nil
}
