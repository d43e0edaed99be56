// Package dsp holds the per-frame signal processing of the scanner: DC and
// IQ correction filters, the analysis window and power conversion.
package dsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"

	"github.com/hb9tf/scanner/sdr"
)

// FrameFilter processes one transform frame at a time. A well behaved filter
// returns exactly one frame per call.
type FrameFilter interface {
	Name() string
	ProcessFrame(frame []complex64) ([][]complex64, error)
}

// Hann returns the n point Hann window coefficients.
func Hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return window.Hann(w)
}

// ApplyWindow multiplies frame by w in place.
func ApplyWindow(frame []complex64, w []float64) {
	for i := range frame {
		frame[i] *= complex(float32(w[i]), 0)
	}
}

// Scale returns the power normalization constant for the given mode:
// "spectrum" gives 1/(Σw)², "density" gives 1/(fs·Σw²).
func Scale(mode string, w []float64, sampleRate float64) (float64, error) {
	switch mode {
	case "spectrum":
		sum := floats.Sum(w)
		return 1 / (sum * sum), nil
	case "density":
		return 1 / (sampleRate * floats.Dot(w, w)), nil
	}
	return 0, &sdr.ConfigurationError{Field: "scaling", Reason: fmt.Sprintf("must be 'spectrum' or 'density', got %q", mode)}
}

// Power converts a frequency domain frame into clamped dB: 10·log10(|x|²·scale).
func Power(dst []float64, frame []complex64, scale, floor, ceil float64) []float64 {
	if cap(dst) < len(frame) {
		dst = make([]float64, len(frame))
	}
	dst = dst[:len(frame)]
	for i, v := range frame {
		re, im := float64(real(v)), float64(imag(v))
		db := 10 * math.Log10((re*re+im*im)*scale)
		switch {
		case math.IsNaN(db) || db < floor:
			db = floor
		case db > ceil:
			db = ceil
		}
		dst[i] = db
	}
	return dst
}

// Roll swaps the two halves of frame so that the zero frequency bin moves
// from the start to the middle.
func Roll(frame []complex64) {
	half := len(frame) / 2
	if len(frame)%2 == 0 {
		for i := 0; i < half; i++ {
			frame[i], frame[i+half] = frame[i+half], frame[i]
		}
		return
	}
	rolled := make([]complex64, len(frame))
	copy(rolled, frame[half+1:])
	copy(rolled[len(frame)-half-1:], frame[:half+1])
	copy(frame, rolled)
}
