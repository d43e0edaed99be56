package sdr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRoundTrip(t *testing.T) {
	samples := []complex64{complex(0.5, -0.5), complex(-1, 1), 0}
	for _, f := range []Format{FormatCU8, FormatCI8, FormatCI16, FormatCF32} {
		t.Run(string(f), func(t *testing.T) {
			raw, err := f.Encode(nil, samples)
			require.NoError(t, err)
			size, err := f.BytesPerSample()
			require.NoError(t, err)
			require.Len(t, raw, size*len(samples))

			got := make([]complex64, len(samples))
			require.NoError(t, f.Decode(raw, got))
			for i := range samples {
				assert.InDelta(t, real(samples[i]), real(got[i]), 0.01)
				assert.InDelta(t, imag(samples[i]), imag(got[i]), 0.01)
			}
		})
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	err := FormatCI16.Decode(make([]byte, 6), make([]complex64, 2))
	assert.Error(t, err)

	_, err = Format("cs4").BytesPerSample()
	assert.Error(t, err)
}
