package hackrf

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/scanner/sdr"
)

// TestHelperProcess stands in for hackrf_transfer: it writes -n samples
// whose I value is the tuned frequency in MHz.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("HACKRF_HELPER") == "" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	opts := map[string]string{}
	for i := 2; i+1 < len(args); i += 2 {
		opts[args[i]] = args[i+1]
	}
	n, _ := strconv.Atoi(opts["-n"])
	freq, _ := strconv.ParseUint(opts["-f"], 10, 64)
	if os.Getenv("HACKRF_HELPER") == "short" {
		n = 1
	}
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		out[2*i] = byte(int8(freq / 1000000))
	}
	os.Stdout.Write(out)
	os.Exit(0)
}

type helper struct {
	mode string

	mu    sync.Mutex
	calls [][]string
}

func (h *helper) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	h.mu.Lock()
	h.calls = append(h.calls, append([]string{name}, args...))
	h.mu.Unlock()
	cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = append(os.Environ(), "HACKRF_HELPER="+h.mode)
	return cmd
}

func TestSDRCapturesPerTune(t *testing.T) {
	h := &helper{mode: "full"}
	s := New("0000000000000000a06063c8234e925f", sdr.Options{SampleRate: 8000000, BatchSamples: 4, Gain: 30}, 3)
	s.command = h.command
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	defer s.Close()

	require.NoError(t, s.Tune(ctx, 100000000))
	for i := 0; i < 3; i++ {
		b, err := s.ReadBatch(ctx)
		require.NoError(t, err)
		require.Len(t, b.Samples, 4)
		assert.InDelta(t, 100.0/128, real(b.Samples[0]), 1e-6)
	}
	require.Len(t, h.calls, 1)

	// Tuning drops what is left of a capture.
	_, err := s.ReadBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Tune(ctx, 120000000))
	b, err := s.ReadBatch(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 120.0/128, real(b.Samples[0]), 1e-6)
	require.Len(t, h.calls, 3)

	assert.Equal(t, []string{
		transferAlias,
		"-r", "-",
		"-f", "120000000",
		"-s", "8000000",
		"-n", "12",
		"-l", "24",
		"-g", "6",
		"-d", "0000000000000000a06063c8234e925f",
	}, h.calls[2])
}

func TestSDRShortCapture(t *testing.T) {
	h := &helper{mode: "short"}
	s := New("", sdr.Options{SampleRate: 2000000, BatchSamples: 4}, 1)
	s.command = h.command
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Tune(ctx, 100000000))
	_, err := s.ReadBatch(ctx)
	assert.ErrorContains(t, err, "no full batch")
	assert.NotContains(t, h.calls[0], "-l")
	assert.NotContains(t, h.calls[0], "-d")
}

func TestGains(t *testing.T) {
	for _, tc := range []struct {
		gain     float64
		lna, vga int
	}{
		{0, 0, 0},
		{7, 0, 6},
		{16, 16, 0},
		{30, 24, 6},
		{200, 40, 62},
	} {
		t.Run(fmt.Sprint(tc.gain), func(t *testing.T) {
			lna, vga := gains(tc.gain)
			assert.Equal(t, tc.lna, lna)
			assert.Equal(t, tc.vga, vga)
		})
	}
}

func TestOpenRejectsEmptyBatch(t *testing.T) {
	var cfgErr *sdr.ConfigurationError
	assert.ErrorAs(t, New("", sdr.Options{}, 1).Open(context.Background()), &cfgErr)
}
