package main

import (
	"flag"

	"github.com/spf13/pflag"

	"github.com/hb9tf/scanner/config"
)

// bindFlags registers one flag per configuration key, named like the YAML
// key. Nested keys are joined with an underscore.
func bindFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.StringVar(&c.Identifier, "id", c.Identifier, "Unique identifier of this scanner (defaults to a random UUID).")
	fs.StringVar(&c.Description, "description", c.Description, "Free text attached to every result.")

	// Source
	fs.StringVar(&c.SDR, "sdr", c.SDR, "SDR to use (one of: rtltcp, hackrf, replay).")
	fs.StringVar(&c.SDRArgs, "sdrargs", c.SDRArgs, "rtl_tcp address, hackrf serial or file to replay.")
	fs.StringVar(&c.SampleFormat, "sample_format", c.SampleFormat, "Sample format of the replayed file (cu8, ci8, ci16, cf32), empty to detect.")
	fs.BoolVar(&c.Loop, "loop", c.Loop, "Replay the file in a loop.")
	fs.Float64Var(&c.Gain, "igain", c.Gain, "Receiver gain in dB, 0 for automatic gain.")

	// Sweep timing
	fs.Float64Var(&c.FreqStart, "freq_start", c.FreqStart, "Lowest frequency of the sweep in Hz.")
	fs.Float64Var(&c.FreqEnd, "freq_end", c.FreqEnd, "Highest frequency of the sweep in Hz, 0 to stare at freq_start.")
	fs.Float64Var(&c.SampleRate, "samp_rate", c.SampleRate, "Sample rate in samples per second.")
	fs.IntVar(&c.NFFT, "nfft", c.NFFT, "Transform size.")
	fs.Float64Var(&c.TuneOverlap, "tuneoverlap", c.TuneOverlap, "Tune step as a fraction of the sample rate.")
	fs.Float64Var(&c.SweepSec, "sweep_sec", c.SweepSec, "Target duration of one sweep in seconds.")
	fs.Float64Var(&c.TuneDwellMS, "tune_dwell_ms", c.TuneDwellMS, "Dwell time per tuning step in ms, overrides sweep_sec.")
	fs.IntVar(&c.TuneStepFFT, "tune_step_fft", c.TuneStepFFT, "Frames per tuning step, overrides tune_dwell_ms and sweep_sec.")
	fs.IntVar(&c.PeakFFTRange, "peak_fft_range", c.PeakFFTRange, "Frames at the end of a dwell measured for low power hold down.")
	fs.StringVar(&c.TuningRanges, "tuning_ranges", c.TuningRanges, "Comma separated start-end Hz ranges to sweep instead of freq_start..freq_end.")

	// Retune
	fs.BoolVar(&c.Pretune, "pretune", c.Pretune, "Schedule retunes ahead of the transform instead of after each dwell.")
	fs.IntVar(&c.SkipTuneStep, "skip_tune_step", c.SkipTuneStep, "Frames discarded after every retune while the tuner settles.")
	fs.Uint64Var(&c.TuneJitterHz, "tune_jitter_hz", c.TuneJitterHz, "Random offset in Hz applied to every tune.")
	fs.Uint64Var(&c.JitterSeed, "tune_jitter_seed", c.JitterSeed, "Seed of the tune jitter.")
	fs.BoolVar(&c.LowPowerHoldDown, "low_power_hold_down", c.LowPowerHoldDown, "Stay on a frequency while its peak power is below low_power_hold_down_db.")
	fs.Float64Var(&c.HoldDownFloorDB, "low_power_hold_down_db", c.HoldDownFloorDB, "Power floor of the low power hold down.")
	fs.IntVar(&c.HoldDownMaxDwells, "low_power_hold_down_max", c.HoldDownMaxDwells, "Maximum number of dwells held on one frequency.")

	// Signal processing
	fs.BoolVar(&c.CorrectIQ, "correct_iq", c.CorrectIQ, "Correct IQ imbalance.")
	fs.IntVar(&c.DCBlockLen, "dc_block_len", c.DCBlockLen, "Length of the DC blocker, 0 to disable.")
	fs.BoolVar(&c.DCBlockLong, "dc_block_long", c.DCBlockLong, "Use the long form DC blocker.")
	fs.StringVar(&c.Transform, "fft", c.Transform, "Transform engine (one of: software, offload, accelerator).")
	fs.IntVar(&c.FFTBatchSize, "fft_batch_size", c.FFTBatchSize, "Frames per batch for the accelerator engine.")
	fs.StringVar(&c.Scaling, "scaling", c.Scaling, "Power normalization (spectrum or density).")
	fs.Float64Var(&c.DBClampFloor, "db_clamp_floor", c.DBClampFloor, "Lowest power reported in dB.")
	fs.Float64Var(&c.DBClampCeil, "db_clamp_ceil", c.DBClampCeil, "Highest power reported in dB.")
	fs.Float64Var(&c.BucketRange, "bucket_range", c.BucketRange, "Fraction of the bins around the center kept per dwell.")
	fs.BoolVar(&c.TagNow, "tag_now", c.TagNow, "Timestamp results when they are produced instead of from the source clock.")

	// Recording
	fs.IntVar(&c.WriteSamples, "write_samples", c.WriteSamples, "IQ samples recorded per dwell, 0 to disable.")
	fs.StringVar(&c.SampleDir, "sample_dir", c.SampleDir, "Directory recordings are written to.")
	fs.IntVar(&c.RotateSecs, "rotate_secs", c.RotateSecs, "Group recordings in one subdirectory per this many seconds.")
	fs.BoolVar(&c.SigMF, "sigmf", c.SigMF, "Write SigMF metadata next to recordings.")

	// Inference
	bindInferenceFlags(fs, "inference", &c.Inference)
	bindInferenceFlags(fs, "iq_inference", &c.IQInference)

	// Transport
	fs.StringVar(&c.Outputs, "outputs", c.Outputs, "Comma separated outputs (csv, sqlite, mysql, spectre, mqtt).")
	fs.Uint64Var(&c.BinSize, "bin_size", c.BinSize, "Width of one exported sample in Hz.")
	fs.StringVar(&c.SQLiteFile, "sqlite_file", c.SQLiteFile, "File path of the sqlite DB file to use.")
	fs.StringVar(&c.MySQL.Server, "mysql_server", c.MySQL.Server, "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	fs.StringVar(&c.MySQL.User, "mysql_user", c.MySQL.User, "MySQL DB user.")
	fs.StringVar(&c.MySQL.PasswordFile, "mysql_password_file", c.MySQL.PasswordFile, "Path to the file containing the password for the MySQL user.")
	fs.StringVar(&c.MySQL.DBName, "mysql_db_name", c.MySQL.DBName, "Name of the DB to use.")
	fs.StringVar(&c.SpectreServer, "spectre_server", c.SpectreServer, "URL scheme, address and port of the spectre server.")
	fs.IntVar(&c.SpectreServerSamples, "spectre_server_samples", c.SpectreServerSamples, "Defines how many samples should be sent to the server at once.")
	fs.StringVar(&c.MQTTServer, "mqtt_server", c.MQTTServer, "MQTT broker (host:port) for spectra and detections.")
	fs.StringVar(&c.MQTTTopic, "mqtt_topic", c.MQTTTopic, "MQTT topic prefix.")
	fs.Float64Var(&c.TransportMinDB, "transport_min_db", c.TransportMinDB, "Dwells whose peak stays below this are not exported.")
	fs.Uint64Var(&c.TransportFreqLow, "transport_freq_low", c.TransportFreqLow, "Dwells entirely below this frequency are not exported.")
	fs.Uint64Var(&c.TransportFreqHigh, "transport_freq_high", c.TransportFreqHigh, "Dwells entirely above this frequency are not exported.")

	// Scheduling
	fs.IntVar(&c.BufferBatches, "buffer_batches", c.BufferBatches, "Batches buffered between two pipeline stages.")
	fs.IntVar(&c.SinkBuffer, "sink_buffer", c.SinkBuffer, "Results buffered per sink before they are dropped.")
}

func bindInferenceFlags(fs *pflag.FlagSet, prefix string, c *config.InferenceConfig) {
	fs.StringVar(&c.ModelServer, prefix+"_model_server", c.ModelServer, "Model server address.")
	fs.StringVar(&c.ModelName, prefix+"_model_name", c.ModelName, "Model to run.")
	fs.StringVar(&c.OutputDir, prefix+"_output_dir", c.OutputDir, "Directory inference inputs are saved to.")
	fs.Float64Var(&c.MinConfidence, prefix+"_min_confidence", c.MinConfidence, "Detections below this confidence are dropped.")
	fs.Float64Var(&c.MinDB, prefix+"_min_db", c.MinDB, "Dwells whose peak stays below this are not inferred.")
	fs.StringVar(&c.TextColor, prefix+"_text_color", c.TextColor, "Color of the label drawn on images, empty for none.")
	fs.IntVar(&c.NImage, prefix+"_n_image", c.NImage, "Save every n-th image.")
	fs.IntVar(&c.NInference, prefix+"_n_inference", c.NInference, "Infer every n-th dwell.")
}

// loadConfig applies the YAML file on top of c and then the flags given on
// the command line on top of that.
func loadConfig(fs *pflag.FlagSet, c *config.Config, path string) error {
	// cobra already set the Go flags, mark them parsed for glog.
	flag.CommandLine.Parse(nil)
	if path == "" {
		return nil
	}
	changed := map[string]string{}
	fs.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})
	if err := c.LoadFile(path); err != nil {
		return err
	}
	for name, value := range changed {
		if err := fs.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}
