package plan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hb9tf/scanner/sdr"
)

// Range is one discrete sub-band to sweep, in Hz, inclusive.
type Range struct {
	Start uint64 `yaml:"start" json:"start"`
	End   uint64 `yaml:"end" json:"end"`
}

func (r Range) Width() uint64 { return r.End - r.Start }

// Steps is the number of tune steps visited in the range: every base from
// Start up to and including End.
func (r Range) Steps(step uint64) int {
	if step == 0 {
		return 1
	}
	return int(r.Width()/step) + 1
}

// ParseRanges parses "start-end,start-end" where frequencies are in Hz and
// may use exponent notation ("88e6-108e6,430e6-440e6"). Ranges are kept in
// the order given.
func ParseRanges(s string) ([]Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var ranges []Range
	for _, part := range strings.Split(s, ",") {
		bounds := strings.Split(strings.TrimSpace(part), "-")
		if len(bounds) != 2 {
			return nil, &sdr.ConfigurationError{Field: "tuning_ranges", Reason: fmt.Sprintf("%q is not start-end", part)}
		}
		start, err := strconv.ParseFloat(strings.TrimSpace(bounds[0]), 64)
		if err != nil {
			return nil, &sdr.ConfigurationError{Field: "tuning_ranges", Reason: err.Error()}
		}
		end, err := strconv.ParseFloat(strings.TrimSpace(bounds[1]), 64)
		if err != nil {
			return nil, &sdr.ConfigurationError{Field: "tuning_ranges", Reason: err.Error()}
		}
		if start < 0 || end <= start {
			return nil, &sdr.ConfigurationError{Field: "tuning_ranges", Reason: fmt.Sprintf("%q is empty or inverted", part)}
		}
		ranges = append(ranges, Range{Start: uint64(start), End: uint64(end)})
	}
	return ranges, nil
}

// Bounds returns the lowest start and highest end of ranges.
func Bounds(ranges []Range) (uint64, uint64) {
	sorted := append([]Range(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	low, high := sorted[0].Start, sorted[0].End
	for _, r := range sorted[1:] {
		if r.End > high {
			high = r.End
		}
	}
	return low, high
}
