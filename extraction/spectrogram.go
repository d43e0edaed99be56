package extraction

import (
	"image"
	"math"
)

// Spectrogram scales rows (one per frame, lowest frequency first) onto a
// width x height heatmap with time running downwards. Levels are mapped
// between minDB and maxDB; if both are zero the range of the data is used.
func Spectrogram(rows [][]float64, width, height int, minDB, maxDB float64) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	if len(rows) == 0 || len(rows[0]) == 0 || width <= 0 || height <= 0 {
		return canvas
	}
	if minDB == 0 && maxDB == 0 {
		minDB, maxDB = Bounds(rows)
	}
	bins := len(rows[0])
	for y := 0; y < height; y++ {
		row := rows[y*len(rows)/height]
		for x := 0; x < width; x++ {
			bin := x * bins / width
			if bin >= len(row) {
				continue
			}
			canvas.SetRGBA(x, y, GetColor(Level(row[bin], minDB, maxDB)))
		}
	}
	return canvas
}

// Bounds returns the lowest and highest value in rows.
func Bounds(rows [][]float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range rows {
		for _, v := range row {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 0
	}
	return lo, hi
}
