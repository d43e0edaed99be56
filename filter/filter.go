// Package filter decides which dwell results a sink is not interested in.
package filter

import "github.com/hb9tf/scanner/sdr"

type Filterer interface {
	ShouldIgnore(*sdr.Result) bool
}

// Ignore reports whether any of filters rejects r.
func Ignore(r *sdr.Result, filters []Filterer) bool {
	for _, f := range filters {
		if f.ShouldIgnore(r) {
			return true
		}
	}
	return false
}

// Filter forwards the results none of filters reject.
func Filter(input <-chan sdr.Result, output chan<- sdr.Result, filters []Filterer) error {
	for r := range input {
		if Ignore(&r, filters) {
			continue
		}
		output <- r
	}
	return nil
}

// FilterFreq ignores results entirely outside FreqLow..FreqHigh.
type FilterFreq struct {
	FreqHigh uint64
	FreqLow  uint64
}

func (f *FilterFreq) ShouldIgnore(r *sdr.Result) bool {
	// Check if low freq of result is higher than what we want to include.
	if f.FreqHigh > 0 && r.FreqLow() > f.FreqHigh {
		return true
	}
	// Check if high freq of result is lower than what we want to include.
	if r.FreqHigh() < f.FreqLow {
		return true
	}
	return false
}

// FilterPower ignores results whose strongest bin stays below MinDB.
type FilterPower struct {
	MinDB float64
}

func (f *FilterPower) ShouldIgnore(r *sdr.Result) bool {
	return r.PeakDB() < f.MinDB
}
