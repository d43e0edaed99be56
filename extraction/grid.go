package extraction

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	timeFmt        = "2006-01-02T15:04:05"
	gridMarginTop  = 20  // pixels
	gridMarginLeft = 150 // pixels
	gridTickLen    = 10  // pixel
	gridMinStepX   = 100 // pixels
	gridMinStepY   = 20  // pixels
)

var (
	gridColor           = color.RGBA{0, 0, 0, 255}       // black
	gridBackgroundColor = color.RGBA{255, 255, 255, 255} // white
)

func drawTick(canvas *image.RGBA, start image.Point, length int, horizontal bool) {
	for i := 0; i <= length; i++ {
		if horizontal {
			canvas.SetRGBA(start.X+i, start.Y, gridColor)
		} else {
			canvas.SetRGBA(start.X, start.Y+i, gridColor)
		}
	}
}

func findGridStepSize(step int, horizontal bool) int {
	gridMinStep := gridMinStepY
	if horizontal {
		gridMinStep = gridMinStepX
	}
	for step > gridMinStep {
		n := step / 2
		if n < gridMinStep {
			return step
		}
		step = n
	}
	return step
}

// DrawLabel writes text with its baseline starting at (x, y).
func DrawLabel(canvas draw.Image, x, y int, text string, c color.Color) {
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// DrawGrid returns a copy of source framed by frequency ticks along the top
// and time ticks along the left side.
func DrawGrid(source *image.RGBA, lowFreq, highFreq uint64, startTime, endTime time.Time) *image.RGBA {
	b := source.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx()+gridMarginLeft, b.Dy()+gridMarginTop))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{gridBackgroundColor}, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(gridMarginLeft, gridMarginTop, canvas.Bounds().Max.X, canvas.Bounds().Max.Y), source, b.Min, draw.Src)

	// Frequency ticks.
	xStep := findGridStepSize(b.Dx(), true)
	for i := 0; i < b.Dx(); i += xStep {
		drawTick(canvas, image.Pt(gridMarginLeft+i, gridMarginTop-gridTickLen), gridTickLen, false)
		freq := lowFreq + uint64(i)*(highFreq-lowFreq)/uint64(b.Dx())
		DrawLabel(canvas, gridMarginLeft+i+5, gridMarginTop-2, GetReadableFreq(freq), gridColor)
	}

	// Time ticks.
	yStep := findGridStepSize(b.Dy(), false)
	span := endTime.Sub(startTime)
	for i := 0; i < b.Dy(); i += yStep {
		drawTick(canvas, image.Pt(gridMarginLeft-gridTickLen, gridMarginTop+i), gridTickLen, true)
		dur := time.Duration(int64(i) * int64(span) / int64(b.Dy())).Truncate(time.Millisecond)
		DrawLabel(canvas, 5, gridMarginTop+i+5, fmt.Sprint(dur), gridColor)
		DrawLabel(canvas, 5, gridMarginTop+i+17, startTime.Add(dur).Format(timeFmt), gridColor)
	}
	return canvas
}
