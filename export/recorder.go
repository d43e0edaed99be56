package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/hb9tf/scanner/sdr"
)

// Recorder writes the raw IQ of every dwell as little endian int16 pairs,
// optionally with a SigMF metadata file next to it.
type Recorder struct {
	Dir string
	// RotateSecs groups recordings into one subdirectory per period.
	RotateSecs int
	SigMF      bool
	Gain       float64
	Source     string
	Identifier string
}

// Recording describes one written capture.
type Recording struct {
	Data string
	Meta string
}

func (r *Recorder) Write(ctx context.Context, results <-chan sdr.Result) error {
	written := 0
	for res := range results {
		if len(res.IQ) == 0 {
			continue
		}
		rec, err := r.Record(&res)
		if err != nil {
			return err
		}
		written++
		glog.V(2).Infof("recorded %d samples of batch %d to %s", len(res.IQ), res.Seq, rec.Data)
	}
	glog.Infof("recorded %d captures to %s", written, r.Dir)
	return nil
}

// Record writes one result's IQ samples and returns the files created.
func (r *Recorder) Record(res *sdr.Result) (Recording, error) {
	dir := r.Dir
	if r.RotateSecs > 0 {
		bucket := res.Start.Unix() / int64(r.RotateSecs) * int64(r.RotateSecs)
		dir = filepath.Join(dir, strconv.FormatInt(bucket, 10))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Recording{}, fmt.Errorf("unable to create sample directory: %w", err)
	}

	base := filepath.Join(dir, fmt.Sprintf("scanner_%s_%d_%dHz_%dsps", uuid.NewString(), res.Seq, res.CenterFreq, res.SampleRate))
	rec := Recording{Data: base + ".ci16"}
	if r.SigMF {
		rec.Data = base + ".sigmf-data"
		rec.Meta = base + ".sigmf-meta"
	}

	buf, err := sdr.FormatCI16.Encode(make([]byte, 0, 4*len(res.IQ)), res.IQ)
	if err != nil {
		return Recording{}, err
	}
	if err := os.WriteFile(rec.Data, buf, 0o644); err != nil {
		return Recording{}, fmt.Errorf("unable to write samples: %w", err)
	}
	if !r.SigMF {
		return rec, nil
	}

	meta, err := json.MarshalIndent(r.sigMF(res), "", "  ")
	if err != nil {
		return Recording{}, err
	}
	if err := os.WriteFile(rec.Meta, meta, 0o644); err != nil {
		return Recording{}, fmt.Errorf("unable to write SigMF metadata: %w", err)
	}
	return rec, nil
}

// SigMF is the subset of the SigMF metadata format written next to every
// recording.
type SigMF struct {
	Global      SigMFGlobal    `json:"global"`
	Captures    []SigMFCapture `json:"captures"`
	Annotations []any          `json:"annotations"`
}

type SigMFGlobal struct {
	Datatype    string  `json:"core:datatype"`
	SampleRate  uint64  `json:"core:sample_rate"`
	Version     string  `json:"core:version"`
	Description string  `json:"core:description,omitempty"`
	Hardware    string  `json:"core:hw,omitempty"`
	Recorder    string  `json:"core:recorder"`
	Gain        float64 `json:"scanner:gain"`
	Identifier  string  `json:"scanner:id,omitempty"`
}

type SigMFCapture struct {
	SampleStart int    `json:"core:sample_start"`
	Frequency   uint64 `json:"core:frequency"`
	Datetime    string `json:"core:datetime"`
	Seq         uint64 `json:"scanner:seq"`
	Tune        uint64 `json:"scanner:tune"`
}

func (r *Recorder) sigMF(res *sdr.Result) SigMF {
	return SigMF{
		Global: SigMFGlobal{
			Datatype:    "ci16_le",
			SampleRate:  res.SampleRate,
			Version:     "1.0.0",
			Description: res.Description,
			Hardware:    r.Source,
			Recorder:    "scanner",
			Gain:        r.Gain,
			Identifier:  r.Identifier,
		},
		Captures: []SigMFCapture{{
			Frequency: res.CenterFreq,
			Datetime:  res.Start.UTC().Format(time.RFC3339Nano),
			Seq:       res.FirstSeq,
			Tune:      res.Tune,
		}},
		Annotations: []any{},
	}
}
