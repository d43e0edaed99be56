// Package extraction renders power data as heatmap images: waterfalls from
// the samples store and spectrograms from the rows of a single dwell.
package extraction

import (
	"fmt"
	"image/color"
	"math"
	"strings"
)

var (
	// Colors defining the gradient in the heatmap. The higher the index, the warmer.
	colors = []color.RGBA{
		{0, 0, 0, 255},       // black
		{0, 0, 255, 255},     // blue
		{0, 255, 255, 255},   // cyan
		{0, 255, 0, 255},     // green
		{255, 255, 0, 255},   // yellow
		{255, 0, 0, 255},     // red
		{255, 255, 255, 255}, // white
	}

	namedColors = map[string]color.RGBA{
		"black":  {0, 0, 0, 255},
		"white":  {255, 255, 255, 255},
		"red":    {255, 0, 0, 255},
		"green":  {0, 255, 0, 255},
		"blue":   {0, 0, 255, 255},
		"yellow": {255, 255, 0, 255},
		"cyan":   {0, 255, 255, 255},
	}

	expSuffixLookup = map[int]string{
		0: "Hz",  // 10^0
		1: "kHz", // 10^3
		2: "MHz", // 10^6
		3: "GHz", // 10^9
		4: "THz", // 10^12
	}
)

// GetColor determines the color of a pixel based on a color gradient and a pixel "level".
// http://www.andrewnoske.com/wiki/Code_-_heatmaps_and_color_gradients
func GetColor(lvl uint16) color.RGBA {
	// Position along the gradient, then blend the two neighbouring colors.
	pos := float64(lvl) / math.MaxUint16 * float64(len(colors)-1)
	i := int(pos)
	if i >= len(colors)-1 {
		return colors[len(colors)-1]
	}
	fract := pos - float64(i)
	lo, hi := colors[i], colors[i+1]
	blend := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*fract))
	}
	return color.RGBA{blend(lo.R, hi.R), blend(lo.G, hi.G), blend(lo.B, hi.B), blend(lo.A, hi.A)}
}

// Level maps db into the gradient range given by minDB and maxDB.
func Level(db, minDB, maxDB float64) uint16 {
	if maxDB <= minDB {
		return 0
	}
	v := (db - minDB) / (maxDB - minDB)
	switch {
	case math.IsNaN(v) || v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	return uint16(v * math.MaxUint16)
}

// ParseColor accepts a color name or a #rrggbb value.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{}, fmt.Errorf("unknown color %q", s)
	}
	return color.RGBA{r, g, b, 255}, nil
}

func GetReadableFreq(freq uint64) string {
	exp := 0
	for f := float64(freq); f >= 1000; f = f / 1000.0 {
		exp += 1
	}
	suffix, ok := expSuffixLookup[exp]
	if !ok {
		return fmt.Sprintf("%d Hz", freq)
	}
	return fmt.Sprintf("%.2f %s", float64(freq)/math.Pow(1000, float64(exp)), suffix)
}
