// Package config holds the scanner configuration: one value object loaded
// from YAML and/or flags, validated once before anything is built.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hb9tf/scanner/plan"
	"github.com/hb9tf/scanner/sdr"
)

// Power normalization modes.
const (
	ScalingSpectrum = "spectrum"
	ScalingDensity  = "density"
)

// Transform engine variants.
const (
	TransformSoftware    = "software"
	TransformOffload     = "offload"
	TransformAccelerator = "accelerator"
)

// Output names accepted in Outputs.
const (
	OutputCSV     = "csv"
	OutputSQLite  = "sqlite"
	OutputMySQL   = "mysql"
	OutputSpectre = "spectre"
	OutputMQTT    = "mqtt"
)

var knownOutputs = map[string]bool{
	OutputCSV:     true,
	OutputSQLite:  true,
	OutputMySQL:   true,
	OutputSpectre: true,
	OutputMQTT:    true,
}

// Config is the complete scanner configuration.
type Config struct {
	Identifier  string `yaml:"id"`
	Description string `yaml:"description"`

	// Source
	SDR          string  `yaml:"sdr"`           // rtltcp, hackrf, replay
	SDRArgs      string  `yaml:"sdrargs"`       // rtl_tcp address, hackrf serial or replay file
	SampleFormat string  `yaml:"sample_format"` // replay only
	Loop         bool    `yaml:"loop"`          // replay only
	Gain         float64 `yaml:"igain"`

	// Sweep timing
	FreqStart    float64 `yaml:"freq_start"`
	FreqEnd      float64 `yaml:"freq_end"`
	SampleRate   float64 `yaml:"samp_rate"`
	NFFT         int     `yaml:"nfft"`
	TuneOverlap  float64 `yaml:"tuneoverlap"`
	SweepSec     float64 `yaml:"sweep_sec"`
	TuneDwellMS  float64 `yaml:"tune_dwell_ms"`
	TuneStepFFT  int     `yaml:"tune_step_fft"`
	PeakFFTRange int     `yaml:"peak_fft_range"`
	TuningRanges string  `yaml:"tuning_ranges"`

	// Retune
	Pretune           bool    `yaml:"pretune"`
	SkipTuneStep      int     `yaml:"skip_tune_step"`
	TuneJitterHz      uint64  `yaml:"tune_jitter_hz"`
	JitterSeed        uint64  `yaml:"tune_jitter_seed"`
	LowPowerHoldDown  bool    `yaml:"low_power_hold_down"`
	HoldDownFloorDB   float64 `yaml:"low_power_hold_down_db"`
	HoldDownMaxDwells int     `yaml:"low_power_hold_down_max"`

	// Signal processing
	CorrectIQ    bool    `yaml:"correct_iq"`
	DCBlockLen   int     `yaml:"dc_block_len"`
	DCBlockLong  bool    `yaml:"dc_block_long"`
	Transform    string  `yaml:"fft"`
	FFTBatchSize int     `yaml:"fft_batch_size"`
	Scaling      string  `yaml:"scaling"`
	DBClampFloor float64 `yaml:"db_clamp_floor"`
	DBClampCeil  float64 `yaml:"db_clamp_ceil"`
	BucketRange  float64 `yaml:"bucket_range"`
	TagNow       bool    `yaml:"tag_now"`

	// Recording
	WriteSamples int    `yaml:"write_samples"`
	SampleDir    string `yaml:"sample_dir"`
	RotateSecs   int    `yaml:"rotate_secs"`
	SigMF        bool   `yaml:"sigmf"`

	// Inference
	Inference   InferenceConfig `yaml:"inference"`
	IQInference InferenceConfig `yaml:"iq_inference"`

	// Transport
	Outputs              string      `yaml:"outputs"` // comma separated
	BinSize              uint64      `yaml:"bin_size"`
	SQLiteFile           string      `yaml:"sqlite_file"`
	MySQL                MySQLConfig `yaml:"mysql"`
	SpectreServer        string      `yaml:"spectre_server"`
	SpectreServerSamples int         `yaml:"spectre_server_samples"`
	MQTTServer           string      `yaml:"mqtt_server"`
	MQTTTopic            string      `yaml:"mqtt_topic"`
	// Transport sinks skip dwells outside these bounds, zero frequencies
	// leave that side open.
	TransportMinDB    float64 `yaml:"transport_min_db"`
	TransportFreqLow  uint64  `yaml:"transport_freq_low"`
	TransportFreqHigh uint64  `yaml:"transport_freq_high"`

	// Scheduling
	BufferBatches int `yaml:"buffer_batches"`
	SinkBuffer    int `yaml:"sink_buffer"`
}

// InferenceConfig configures one inference branch.
type InferenceConfig struct {
	ModelServer   string  `yaml:"model_server"`
	ModelName     string  `yaml:"model_name"`
	OutputDir     string  `yaml:"output_dir"`
	MinConfidence float64 `yaml:"min_confidence"`
	MinDB         float64 `yaml:"min_db"`
	TextColor     string  `yaml:"text_color"`
	NImage        int     `yaml:"n_image"`
	NInference    int     `yaml:"n_inference"`
}

// Enabled reports whether both a model and a serving endpoint are configured.
func (c InferenceConfig) Enabled() bool {
	return c.ModelServer != "" && c.ModelName != ""
}

type MySQLConfig struct {
	Server       string `yaml:"server"`
	User         string `yaml:"user"`
	PasswordFile string `yaml:"password_file"`
	DBName       string `yaml:"db_name"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		SDR:               "rtltcp",
		SDRArgs:           "127.0.0.1:1234",
		SampleFormat:      string(sdr.FormatCF32),
		FreqStart:         100e6,
		FreqEnd:           1e9,
		SampleRate:        4.096e6,
		NFFT:              1024,
		TuneOverlap:       0.5,
		SweepSec:          30,
		HoldDownFloorDB:   -100,
		HoldDownMaxDwells: 3,
		Transform:         TransformSoftware,
		FFTBatchSize:      256,
		Scaling:           ScalingSpectrum,
		DBClampFloor:      -200,
		DBClampCeil:       50,
		BucketRange:       1.0,
		SigMF:             true,
		Inference: InferenceConfig{
			MinConfidence: 0.5,
			MinDB:         -200,
		},
		IQInference: InferenceConfig{
			MinConfidence: 0.5,
			MinDB:         -200,
		},
		BinSize:        12500,
		SQLiteFile:     "/tmp/spectre",
		MySQL:          MySQLConfig{Server: "127.0.0.1:3306", DBName: "spectre"},
		MQTTTopic:      "scanner",
		TransportMinDB: -200,
		BufferBatches:  4,
		SinkBuffer:     64,
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.LoadFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes a YAML file into c; keys absent from the file keep their value.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open config %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("unable to parse config %q: %w", path, err)
	}
	return nil
}

// OutputList returns the configured transport outputs, lower-cased.
func (c *Config) OutputList() []string {
	var outputs []string
	for _, o := range strings.Split(c.Outputs, ",") {
		if o = strings.ToLower(strings.TrimSpace(o)); o != "" {
			outputs = append(outputs, o)
		}
	}
	return outputs
}

func (c *Config) DCBlockEnabled() bool     { return c.DCBlockLen > 0 }
func (c *Config) RecordingEnabled() bool   { return c.WriteSamples > 0 }
func (c *Config) InferenceEnabled() bool   { return c.Inference.Enabled() }
func (c *Config) IQInferenceEnabled() bool { return c.IQInference.Enabled() }
func (c *Config) TransportEnabled() bool   { return len(c.OutputList()) > 0 }

// HoldDownActive reports whether power-adaptive hold-down is in effect. It
// needs a measured spectrum, which pre-tune mode does not have.
func (c *Config) HoldDownActive() bool {
	return c.LowPowerHoldDown && !c.Pretune
}

// Validate checks the configuration once, before the pipeline is built.
func (c *Config) Validate() error {
	switch c.Scaling {
	case ScalingSpectrum, ScalingDensity:
	default:
		return &sdr.ConfigurationError{Field: "scaling", Reason: fmt.Sprintf("must be %q or %q, got %q", ScalingSpectrum, ScalingDensity, c.Scaling)}
	}
	switch c.Transform {
	case TransformSoftware, TransformOffload, TransformAccelerator:
	default:
		return &sdr.ConfigurationError{Field: "fft", Reason: fmt.Sprintf("unknown transform engine %q", c.Transform)}
	}
	switch {
	case c.FFTBatchSize < 1:
		return &sdr.ConfigurationError{Field: "fft_batch_size", Reason: "must be at least 1"}
	case c.SkipTuneStep < 0:
		return &sdr.ConfigurationError{Field: "skip_tune_step", Reason: "must not be negative"}
	case c.DCBlockLen < 0:
		return &sdr.ConfigurationError{Field: "dc_block_len", Reason: "must not be negative"}
	case c.DBClampFloor >= c.DBClampCeil:
		return &sdr.ConfigurationError{Field: "db_clamp_floor", Reason: fmt.Sprintf("%v is not below db_clamp_ceil %v", c.DBClampFloor, c.DBClampCeil)}
	case c.BucketRange <= 0 || c.BucketRange > 1:
		return &sdr.ConfigurationError{Field: "bucket_range", Reason: fmt.Sprintf("%v is outside (0, 1]", c.BucketRange)}
	case c.WriteSamples < 0:
		return &sdr.ConfigurationError{Field: "write_samples", Reason: "must not be negative"}
	case c.WriteSamples > 0 && c.SampleDir == "":
		return &sdr.ConfigurationError{Field: "sample_dir", Reason: "required when write_samples is set"}
	case c.LowPowerHoldDown && c.HoldDownMaxDwells < 1:
		return &sdr.ConfigurationError{Field: "low_power_hold_down_max", Reason: "must be at least 1"}
	case c.BufferBatches < 1:
		return &sdr.ConfigurationError{Field: "buffer_batches", Reason: "must be at least 1"}
	case c.SinkBuffer < 1:
		return &sdr.ConfigurationError{Field: "sink_buffer", Reason: "must be at least 1"}
	case c.TransportFreqHigh > 0 && c.TransportFreqHigh < c.TransportFreqLow:
		return &sdr.ConfigurationError{Field: "transport_freq_high", Reason: "is below transport_freq_low"}
	}
	if c.TuneJitterHz > 0 {
		if step := uint64(c.SampleRate * c.TuneOverlap); c.TuneJitterHz >= step {
			return &sdr.ConfigurationError{Field: "tune_jitter_hz", Reason: fmt.Sprintf("%d is not below the tune step of %dHz", c.TuneJitterHz, step)}
		}
	}
	for _, o := range c.OutputList() {
		if !knownOutputs[o] {
			return &sdr.ConfigurationError{Field: "outputs", Reason: fmt.Sprintf("unknown output %q", o)}
		}
	}
	if c.MQTTServer == "" {
		for _, o := range c.OutputList() {
			if o == OutputMQTT {
				return &sdr.ConfigurationError{Field: "mqtt_server", Reason: "required by the mqtt output"}
			}
		}
	}
	for name, inf := range map[string]InferenceConfig{"inference": c.Inference, "iq_inference": c.IQInference} {
		if (inf.ModelServer == "") != (inf.ModelName == "") {
			return &sdr.ConfigurationError{Field: name, Reason: "model_server and model_name must be set together"}
		}
		if inf.MinConfidence < 0 || inf.MinConfidence > 1 {
			return &sdr.ConfigurationError{Field: name + ".min_confidence", Reason: "must be within [0, 1]"}
		}
	}
	in, err := c.PlanInput()
	if err != nil {
		return err
	}
	_, err = plan.Compute(in)
	return err
}

// PlanInput extracts the timing planner input.
func (c *Config) PlanInput() (plan.Input, error) {
	ranges, err := plan.ParseRanges(c.TuningRanges)
	if err != nil {
		return plan.Input{}, err
	}
	return plan.Input{
		SampleRate:     c.SampleRate,
		TransformSize:  c.NFFT,
		TuneOverlap:    c.TuneOverlap,
		SweepSeconds:   c.SweepSec,
		DwellMS:        c.TuneDwellMS,
		TuneStepFrames: c.TuneStepFFT,
		FreqStart:      c.FreqStart,
		FreqEnd:        c.FreqEnd,
		PeakFFTRange:   c.PeakFFTRange,
		Ranges:         ranges,
	}, nil
}

// Plan validates c and computes its sweep plan.
func (c *Config) Plan() (plan.SweepPlan, error) {
	if err := c.Validate(); err != nil {
		return plan.SweepPlan{}, err
	}
	in, err := c.PlanInput()
	if err != nil {
		return plan.SweepPlan{}, err
	}
	return plan.Compute(in)
}
