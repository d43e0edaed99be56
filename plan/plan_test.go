package plan

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/scanner/sdr"
)

func defaultInput() Input {
	return Input{
		SampleRate:    4.096e6,
		TransformSize: 1024,
		TuneOverlap:   0.5,
		SweepSeconds:  30,
		FreqStart:     100e6,
		FreqEnd:       1e9,
	}
}

func TestComputeSweep(t *testing.T) {
	p, err := Compute(defaultInput())
	require.NoError(t, err)

	assert.Equal(t, uint64(2048000), p.TuneStepHz)
	assert.Equal(t, 4000, p.FrameRate)
	assert.Equal(t, 273, p.TuneStepFrames)
	assert.InDelta(t, 68.25, p.DwellMS, 1e-9)
	assert.Equal(t, 440, p.Steps())
	assert.InDelta(t, 30.0, p.SweepSeconds(), 0.1)
	assert.False(t, p.Stare)
	assert.False(t, p.Degenerate)
	assert.Empty(t, p.Warnings)
}

func TestComputeSweepDurationWithinOneFrame(t *testing.T) {
	for _, in := range []Input{
		defaultInput(),
		{SampleRate: 2.048e6, TransformSize: 512, TuneOverlap: 0.75, SweepSeconds: 10, FreqStart: 400e6, FreqEnd: 450e6},
		{SampleRate: 20e6, TransformSize: 2048, TuneOverlap: 1, SweepSeconds: 5, FreqStart: 1e9, FreqEnd: 3e9},
		{SampleRate: 8e6, TransformSize: 256, TuneOverlap: 0.25, SweepSeconds: 60, FreqStart: 70e6, FreqEnd: 6e9},
	} {
		p, err := Compute(in)
		require.NoError(t, err)
		require.False(t, p.Degenerate)

		// Each step truncates less than one frame.
		steps := float64(p.Span()) / float64(p.TuneStepHz)
		realized := steps * p.DwellMS / 1e3
		tolerance := steps / float64(p.FrameRate)
		assert.LessOrEqual(t, math.Abs(realized-in.SweepSeconds), tolerance, "plan %s", p)
	}
}

func TestComputeStare(t *testing.T) {
	p, err := Compute(Input{
		SampleRate:    2e6,
		TransformSize: 1024,
		TuneOverlap:   0.5,
		SweepSeconds:  30,
		FreqStart:     433e6,
	})
	require.NoError(t, err)
	assert.True(t, p.Stare)
	assert.Equal(t, uint64(433e6+1e6-1), p.FreqEnd)
	assert.Equal(t, 1, p.Steps())

	again, err := Compute(Input{SampleRate: 2e6, TransformSize: 1024, TuneOverlap: 0.5, SweepSeconds: 30, FreqStart: 433e6})
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestComputeStareSlowDwellWarns(t *testing.T) {
	p, err := Compute(Input{
		SampleRate:    2e6,
		TransformSize: 1024,
		TuneOverlap:   0.5,
		DwellMS:       1500,
		FreqStart:     433e6,
	})
	require.NoError(t, err)
	assert.True(t, p.Stare)
	assert.Greater(t, p.DwellMS, 1000.0)
	require.Len(t, p.Warnings, 1)
	assert.Contains(t, p.Warnings[0], "stare mode")
}

func TestComputeOverridePriority(t *testing.T) {
	in := defaultInput()
	in.TuneStepFrames = 100
	p, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, 100, p.TuneStepFrames)
	assert.InDelta(t, 25.0, p.DwellMS, 1e-9)

	in = defaultInput()
	in.DwellMS = 50
	p, err = Compute(in)
	require.NoError(t, err)
	assert.Equal(t, 200, p.TuneStepFrames)
	assert.InDelta(t, 50.0, p.DwellMS, 1e-9)

	// Agreeing overrides are accepted.
	in.TuneStepFrames = 200
	p, err = Compute(in)
	require.NoError(t, err)
	assert.Equal(t, 200, p.TuneStepFrames)
}

func TestComputeContradictoryOverrides(t *testing.T) {
	in := defaultInput()
	in.DwellMS = 50
	in.TuneStepFrames = 10
	_, err := Compute(in)
	var cfgErr *sdr.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "tune_dwell_ms", cfgErr.Field)
}

func TestComputeNeverZeroFrames(t *testing.T) {
	for name, in := range map[string]Input{
		"zero sweep seconds": {SampleRate: 4.096e6, TransformSize: 1024, TuneOverlap: 0.5, FreqStart: 100e6, FreqEnd: 1e9},
		"tiny dwell":         {SampleRate: 4.096e6, TransformSize: 1024, TuneOverlap: 0.5, DwellMS: 0.01, FreqStart: 100e6, FreqEnd: 1e9},
		"tiny step":          {SampleRate: 1, TransformSize: 1024, TuneOverlap: 0.5, SweepSeconds: 30, FreqStart: 100e6, FreqEnd: 1e9},
		"huge span":          {SampleRate: 1e6, TransformSize: 1024, TuneOverlap: 0.1, SweepSeconds: 0.001, FreqStart: 1, FreqEnd: 1e12},
	} {
		t.Run(name, func(t *testing.T) {
			p, err := Compute(in)
			require.NoError(t, err)
			assert.Equal(t, in.TransformSize, p.TuneStepFrames)
			assert.True(t, p.Degenerate)
			assert.NotEmpty(t, p.Warnings)
			assert.False(t, math.IsInf(p.DwellMS, 0))
			assert.False(t, math.IsNaN(p.DwellMS))
		})
	}
}

func TestComputePeakRangeClamped(t *testing.T) {
	in := defaultInput()
	in.PeakFFTRange = 10000
	p, err := Compute(in)
	require.NoError(t, err)
	assert.Equal(t, p.TuneStepFrames, p.PeakFFTRange)

	in.PeakFFTRange = 5
	p, err = Compute(in)
	require.NoError(t, err)
	assert.Equal(t, 5, p.PeakFFTRange)
}

func TestComputeRejectsInvalid(t *testing.T) {
	for name, mutate := range map[string]func(*Input){
		"sample rate":  func(in *Input) { in.SampleRate = 0 },
		"nfft":         func(in *Input) { in.TransformSize = 0 },
		"overlap zero": func(in *Input) { in.TuneOverlap = 0 },
		"overlap > 1":  func(in *Input) { in.TuneOverlap = 1.5 },
		"inverted":     func(in *Input) { in.FreqEnd = 50e6 },
	} {
		t.Run(name, func(t *testing.T) {
			in := defaultInput()
			mutate(&in)
			_, err := Compute(in)
			var cfgErr *sdr.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestComputeWithRanges(t *testing.T) {
	ranges, err := ParseRanges("430e6-440e6, 88e6-108e6")
	require.NoError(t, err)
	in := defaultInput()
	in.Ranges = ranges
	p, err := Compute(in)
	require.NoError(t, err)

	assert.Equal(t, uint64(88e6), p.FreqStart)
	assert.Equal(t, uint64(440e6), p.FreqEnd)
	assert.Equal(t, uint64(30e6), p.Span())
	assert.Equal(t, 5+10, p.Steps())
	// 30MHz in 30s at 2.048MHz steps is 0.48828125 retunes/s.
	assert.Equal(t, 8192, p.TuneStepFrames)
}

func TestParseRanges(t *testing.T) {
	ranges, err := ParseRanges("")
	require.NoError(t, err)
	assert.Nil(t, ranges)

	ranges, err = ParseRanges("100000000-200000000")
	require.NoError(t, err)
	assert.Equal(t, []Range{{Start: 100e6, End: 200e6}}, ranges)

	for _, bad := range []string{"100", "200e6-100e6", "a-b", "1-2-3"} {
		_, err := ParseRanges(bad)
		assert.Error(t, err, bad)
	}
}

func TestStepsCountsEveryBase(t *testing.T) {
	p, err := Compute(Input{SampleRate: 4e6, TransformSize: 1024, TuneOverlap: 0.5, SweepSeconds: 4, FreqStart: 100e6, FreqEnd: 106e6})
	require.NoError(t, err)
	require.Equal(t, uint64(2e6), p.TuneStepHz)

	// 100, 102, 104 and 106 MHz.
	assert.Equal(t, 4, p.Steps())
	assert.InDelta(t, 4*p.DwellMS/1e3, p.SweepSeconds(), 1e-9)

	assert.Equal(t, 4, Range{Start: 100e6, End: 106e6}.Steps(2e6))
	assert.Equal(t, 3, Range{Start: 100e6, End: 105e6}.Steps(2e6))
	assert.Equal(t, 1, Range{Start: 200e6, End: 201e6}.Steps(2e6))
}

func TestAlignToBatch(t *testing.T) {
	p, err := Compute(defaultInput())
	require.NoError(t, err)
	require.Equal(t, 273, p.TuneStepFrames)

	aligned := p.AlignToBatch(256)
	assert.Equal(t, 512, aligned.TuneStepFrames)
	assert.InDelta(t, 128.0, aligned.DwellMS, 1e-9)
	require.Len(t, aligned.Warnings, 1)
	assert.Contains(t, aligned.Warnings[0], "rounded up to 512")

	assert.Equal(t, 273, p.TuneStepFrames)
	assert.Empty(t, p.Warnings)
	assert.Equal(t, p, p.AlignToBatch(1))
	assert.Equal(t, aligned, aligned.AlignToBatch(256))
}
