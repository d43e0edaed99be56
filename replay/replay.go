// Package replay serves recorded IQ files as if they came from a receiver.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/scanner/export"
	"github.com/hb9tf/scanner/sdr"
)

const SourceName = "replay"

const (
	sigMFDataExt = ".sigmf-data"
	sigMFMetaExt = ".sigmf-meta"
)

// SDR reads fixed size batches from a file. Tune requests are recorded but
// do not change what is read. With Loop set the file is served again from
// the start once exhausted; otherwise the source ends with io.EOF and a
// trailing partial batch is dropped.
type SDR struct {
	Path   string
	Format sdr.Format
	Loop   bool
	Opts   sdr.Options

	mu    sync.Mutex
	f     *os.File
	r     *bufio.Reader
	raw   []byte
	tunes []uint64
	loops int
}

func New(path string, format sdr.Format, loop bool, opts sdr.Options) *SDR {
	return &SDR{Path: path, Format: format, Loop: loop, Opts: opts}
}

func (s *SDR) Name() string {
	return SourceName
}

// DetectFormat picks the sample format of path: the SigMF datatype when a
// metadata file sits next to it, otherwise the file extension.
func DetectFormat(path string) (sdr.Format, error) {
	ext := filepath.Ext(path)
	if ext == sigMFDataExt || ext == sigMFMetaExt {
		return sigMFFormat(strings.TrimSuffix(path, ext) + sigMFMetaExt)
	}
	f := sdr.Format(strings.TrimPrefix(ext, "."))
	if _, err := f.BytesPerSample(); err != nil {
		return "", fmt.Errorf("unable to tell the sample format of %s", path)
	}
	return f, nil
}

func sigMFFormat(metaPath string) (sdr.Format, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return "", fmt.Errorf("unable to read SigMF metadata: %w", err)
	}
	var meta export.SigMF
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", fmt.Errorf("unable to parse SigMF metadata %s: %w", metaPath, err)
	}
	// SigMF datatypes carry an endianness suffix, samples are little endian.
	f := sdr.Format(strings.TrimSuffix(meta.Global.Datatype, "_le"))
	if _, err := f.BytesPerSample(); err != nil {
		return "", fmt.Errorf("unsupported SigMF datatype %q", meta.Global.Datatype)
	}
	return f, nil
}

func (s *SDR) Open(_ context.Context) error {
	if s.Opts.BatchSamples <= 0 {
		return &sdr.ConfigurationError{Field: "batch", Reason: "replay source needs a positive batch size"}
	}
	if s.Format == "" {
		f, err := DetectFormat(s.Path)
		if err != nil {
			return &sdr.ConfigurationError{Field: "sample_format", Reason: err.Error()}
		}
		s.Format = f
	}
	size, err := s.Format.BytesPerSample()
	if err != nil {
		return &sdr.ConfigurationError{Field: "sample_format", Reason: err.Error()}
	}

	path := s.Path
	if filepath.Ext(path) == sigMFMetaExt {
		path = strings.TrimSuffix(path, sigMFMetaExt) + sigMFDataExt
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open recording: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.f = f
	s.r = bufio.NewReader(f)
	s.raw = make([]byte, size*s.Opts.BatchSamples)
	glog.Infof("replaying %s as %s (loop: %t)", path, s.Format, s.Loop)
	return nil
}

func (s *SDR) Tune(_ context.Context, freq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tunes = append(s.tunes, freq)
	return nil
}

// Tunes returns the frequencies requested so far.
func (s *SDR) Tunes() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.tunes...)
}

// Loops returns how many times the file was restarted.
func (s *SDR) Loops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loops
}

func (s *SDR) ReadBatch(ctx context.Context) (*sdr.SampleBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, fmt.Errorf("replay source is not open")
	}

	restarted := false
	for {
		_, err := io.ReadFull(s.r, s.raw)
		if err == nil {
			break
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		if !s.Loop {
			return nil, io.EOF
		}
		if restarted {
			return nil, fmt.Errorf("%s holds less than one batch", s.Path)
		}
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		s.r.Reset(s.f)
		s.loops++
		restarted = true
	}

	batch := &sdr.SampleBatch{
		Tag:     sdr.Tag{Time: time.Now()},
		Samples: make([]complex64, s.Opts.BatchSamples),
	}
	if err := s.Format.Decode(s.raw, batch.Samples); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *SDR) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
