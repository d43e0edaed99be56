// Package hackrf captures samples by running hackrf_transfer.
package hackrf

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/scanner/sdr"
)

const (
	SourceName    = "hackrf"
	transferAlias = "hackrf_transfer"

	maxLNAGain = 40
	lnaStep    = 8
	maxVGAGain = 62
	vgaStep    = 2
)

// SDR runs one hackrf_transfer capture per tuning step and serves its
// samples as batches. hackrf_transfer cannot be retuned while running, so a
// capture holds CaptureBatches batches.
type SDR struct {
	// Serial selects the device, empty uses the first one found.
	Serial         string
	Opts           sdr.Options
	CaptureBatches int

	freq    uint64
	pending []complex64
	raw     []byte

	// command builds the process; exec.CommandContext unless overridden.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func New(serial string, opts sdr.Options, captureBatches int) *SDR {
	return &SDR{
		Serial:         serial,
		Opts:           opts,
		CaptureBatches: max(captureBatches, 1),
		command:        exec.CommandContext,
	}
}

func (s *SDR) Name() string {
	return SourceName
}

func (s *SDR) Open(ctx context.Context) error {
	if s.Opts.BatchSamples <= 0 {
		return &sdr.ConfigurationError{Field: "batch", Reason: "hackrf source needs a positive batch size"}
	}
	if s.command == nil {
		s.command = exec.CommandContext
	}
	s.CaptureBatches = max(s.CaptureBatches, 1)
	return nil
}

func (s *SDR) Tune(_ context.Context, freq uint64) error {
	s.freq = freq
	s.pending = s.pending[:0]
	return nil
}

// gains splits the configured gain between the LNA and VGA stages.
func gains(gain float64) (int, int) {
	if gain <= 0 {
		return 0, 0
	}
	g := int(gain)
	lna := min(maxLNAGain, g/lnaStep*lnaStep)
	vga := min(maxVGAGain, (g-lna)/vgaStep*vgaStep)
	return lna, vga
}

func (s *SDR) args(samples int) []string {
	args := []string{
		"-r", "-", // dumps samples to stdout
		"-f", strconv.FormatUint(s.freq, 10),
		"-s", strconv.FormatUint(s.Opts.SampleRate, 10),
		"-n", strconv.Itoa(samples),
	}
	if lna, vga := gains(s.Opts.Gain); lna > 0 || vga > 0 {
		args = append(args, "-l", strconv.Itoa(lna), "-g", strconv.Itoa(vga))
	}
	if s.Serial != "" {
		args = append(args, "-d", s.Serial)
	}
	return args
}

func (s *SDR) capture(ctx context.Context) error {
	samples := s.Opts.BatchSamples * s.CaptureBatches
	cmd := s.command(ctx, transferAlias, s.args(samples)...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	glog.V(2).Infof("Running HackRF capture: %q", cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("unable to start capture: %w", err)
	}

	if cap(s.raw) < 2*samples {
		s.raw = make([]byte, 2*samples)
	}
	raw := s.raw[:2*samples]
	n, readErr := io.ReadFull(bufio.NewReader(out), raw)
	// Whatever is left must be drained for the process to exit.
	io.Copy(io.Discard, out)
	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		glog.Warningf("%s exited: %s", transferAlias, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	n -= n % (2 * s.Opts.BatchSamples)
	if n == 0 {
		if readErr == nil {
			readErr = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("capture at %d Hz returned no full batch: %w", s.freq, readErr)
	}

	s.pending = append(s.pending[:0], make([]complex64, n/2)...)
	return sdr.FormatCI8.Decode(raw[:n], s.pending)
}

func (s *SDR) ReadBatch(ctx context.Context) (*sdr.SampleBatch, error) {
	if len(s.pending) < s.Opts.BatchSamples {
		if err := s.capture(ctx); err != nil {
			return nil, err
		}
	}
	batch := &sdr.SampleBatch{
		Tag:     sdr.Tag{Time: time.Now()},
		Samples: append([]complex64(nil), s.pending[:s.Opts.BatchSamples]...),
	}
	s.pending = s.pending[s.Opts.BatchSamples:]
	return batch, nil
}

func (s *SDR) Close() error {
	s.pending = nil
	return nil
}
