// Package rtlsdr streams samples from an rtl_tcp server.
package rtlsdr

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/scanner/sdr"
)

const (
	SourceName  = "rtltcp"
	DefaultAddr = "127.0.0.1:1234"

	dialTimeout = 5 * time.Second
)

var dongleMagic = [...]byte{'R', 'T', 'L', '0'}

// DongleInfo is sent by rtl_tcp right after the connection is accepted.
type DongleInfo struct {
	Magic     [4]byte
	Tuner     uint32
	GainCount uint32
}

func (d DongleInfo) Valid() bool {
	return d.Magic == dongleMagic
}

type command struct {
	Command   uint8
	Parameter uint32
}

// Command numbers as defined in rtl_tcp.c.
const (
	cmdCenterFreq = iota + 1
	cmdSampleRate
	cmdTunerGainMode
	cmdTunerGain
)

type SDR struct {
	Addr string
	Opts sdr.Options

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
	info DongleInfo
	raw  []byte
}

func New(addr string, opts sdr.Options) *SDR {
	if addr == "" {
		addr = DefaultAddr
	}
	return &SDR{Addr: addr, Opts: opts}
}

func (s *SDR) Name() string {
	return SourceName
}

// Info returns the dongle information received on Open.
func (s *SDR) Info() DongleInfo {
	return s.info
}

func (s *SDR) Open(ctx context.Context) (err error) {
	if s.Opts.BatchSamples <= 0 {
		return &sdr.ConfigurationError{Field: "batch", Reason: "rtl_tcp source needs a positive batch size"}
	}
	if s.Opts.SampleRate == 0 || s.Opts.SampleRate > math.MaxUint32 {
		return &sdr.ConfigurationError{Field: "samp_rate", Reason: fmt.Sprintf("%d is not a valid rtl_tcp sample rate", s.Opts.SampleRate)}
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("error connecting to rtl_tcp at %s: %w", s.Addr, err)
	}
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()

	s.mu.Lock()
	s.conn = conn
	s.r = bufio.NewReaderSize(conn, 2*s.Opts.BatchSamples)
	s.raw = make([]byte, 2*s.Opts.BatchSamples)
	s.mu.Unlock()

	if err = binary.Read(s.r, binary.BigEndian, &s.info); err != nil {
		return fmt.Errorf("error getting dongle information: %w", err)
	}
	if !s.info.Valid() {
		return fmt.Errorf("bad magic number: %q", s.info.Magic)
	}
	glog.Infof("connected to rtl_tcp at %s (tuner %d, %d gains)", s.Addr, s.info.Tuner, s.info.GainCount)

	if err = s.do(cmdSampleRate, uint32(s.Opts.SampleRate)); err != nil {
		return err
	}
	if s.Opts.Gain == 0 {
		// Automatic gain.
		return s.do(cmdTunerGainMode, 0)
	}
	if err = s.do(cmdTunerGainMode, 1); err != nil {
		return err
	}
	// Gain is set in tenths of dB.
	return s.do(cmdTunerGain, uint32(math.Round(s.Opts.Gain*10)))
}

func (s *SDR) Tune(_ context.Context, freq uint64) error {
	if freq > math.MaxUint32 {
		return fmt.Errorf("frequency %d Hz out of range for rtl_tcp", freq)
	}
	glog.V(3).Infof("rtl_tcp tuning to %d Hz", freq)
	return s.do(cmdCenterFreq, uint32(freq))
}

func (s *SDR) ReadBatch(ctx context.Context) (*sdr.SampleBatch, error) {
	s.mu.Lock()
	conn, r, raw := s.conn, s.r, s.raw
	s.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("rtl_tcp source is not open")
	}

	// Unblock the read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := io.ReadFull(r, raw); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	batch := &sdr.SampleBatch{
		Tag:     sdr.Tag{Time: time.Now()},
		Samples: make([]complex64, s.Opts.BatchSamples),
	}
	if err := sdr.FormatCU8.Decode(raw, batch.Samples); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *SDR) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *SDR) do(cmd uint8, v uint32) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("rtl_tcp source is not open")
	}
	return binary.Write(conn, binary.BigEndian, command{cmd, v})
}
