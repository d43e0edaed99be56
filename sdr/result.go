package sdr

import (
	"time"
)

// Result summarises one dwell: every kept frame captured at one center
// frequency between two retunes.
type Result struct {
	Tag
	// FirstSeq is the first batch contributing to the dwell; Tag.Seq is the last.
	FirstSeq      uint64
	SampleRate    uint64
	TransformSize int
	// Bandwidth is the span covered by the bins when they were trimmed to
	// the center of the window. Zero means the full SampleRate.
	Bandwidth uint64
	Start     time.Time
	End       time.Time
	// Frames is the number of frames aggregated, settling frames excluded.
	Frames int

	// Per-bin power in dB, centered ordering (lowest frequency first).
	Mean []float64
	Max  []float64
	Min  []float64

	// Rows holds the per-frame power when a downstream branch asked for it.
	Rows [][]float64
	// IQ holds the raw samples of the dwell when a downstream branch asked for it.
	IQ []complex64

	Description string
}

func (r *Result) span() uint64 {
	if r.Bandwidth > 0 {
		return r.Bandwidth
	}
	return r.SampleRate
}

// BinWidth is the width of one bin in Hz.
func (r *Result) BinWidth() float64 {
	bins := len(r.Mean)
	if bins == 0 {
		bins = r.TransformSize
	}
	if bins == 0 {
		return 0
	}
	return float64(r.span()) / float64(bins)
}

// FreqLow is the lowest frequency covered by the result.
func (r *Result) FreqLow() uint64 {
	half := r.span() / 2
	if half > r.CenterFreq {
		return 0
	}
	return r.CenterFreq - half
}

// FreqHigh is the highest frequency covered by the result.
func (r *Result) FreqHigh() uint64 {
	return r.CenterFreq + r.span()/2
}

// PeakDB is the highest bin of the dwell.
func (r *Result) PeakDB() float64 {
	if len(r.Max) == 0 {
		return 0
	}
	peak := r.Max[0]
	for _, v := range r.Max[1:] {
		if v > peak {
			peak = v
		}
	}
	return peak
}

// Samples folds the bins of the result into buckets of at most binSize Hz.
// A binSize of zero keeps one sample per transform bin.
func (r *Result) Samples(identifier, source string, binSize uint64) []Sample {
	if len(r.Mean) == 0 {
		return nil
	}
	width := r.BinWidth()
	perBucket := 1
	if binSize > 0 && width > 0 && float64(binSize) > width {
		perBucket = int(float64(binSize) / width)
	}
	low := float64(r.FreqLow())

	var samples []Sample
	for begin := 0; begin < len(r.Mean); begin += perBucket {
		end := begin + perBucket
		if end > len(r.Mean) {
			end = len(r.Mean)
		}
		s := Sample{
			Identifier:  identifier,
			Source:      source,
			FreqLow:     uint64(low + float64(begin)*width),
			FreqHigh:    uint64(low + float64(end)*width),
			DBLow:       r.Min[begin],
			DBHigh:      r.Max[begin],
			SampleCount: uint64(r.Frames * (end - begin)),
			Start:       r.Start,
			End:         r.End,
		}
		sum := 0.0
		for i := begin; i < end; i++ {
			sum += r.Mean[i]
			if r.Min[i] < s.DBLow {
				s.DBLow = r.Min[i]
			}
			if r.Max[i] > s.DBHigh {
				s.DBHigh = r.Max[i]
			}
		}
		s.DBAvg = sum / float64(end-begin)
		s.FreqCenter = (s.FreqLow + s.FreqHigh) / 2
		samples = append(samples, s)
	}
	return samples
}

// Detection is one inference hit, tagged with the dwell it came from.
type Detection struct {
	Tag
	Model      string
	Kind       string
	Label      string
	Confidence float64
	// Box is the bounding box in image pixels (x1, y1, x2, y2), if any.
	Box []float64
	// FreqLow and FreqHigh are the frequencies the box spans, if known.
	FreqLow  uint64
	FreqHigh uint64
	Time     time.Time
}
