// Command render draws waterfalls of samples stored in sqlite by the
// scanner or the collection server.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/scanner/export"
	"github.com/hb9tf/scanner/extraction"
)

var (
	sqliteFile   = flag.String("sqliteFile", "/tmp/spectre", "File path of the sqlite DB file to use.")
	source       = flag.String("source", "rtltcp", "Source type, e.g. rtltcp, hackrf or replay.")
	identifier   = flag.String("identifier", "", "Identifier of the scanner whose samples are rendered.")
	startFreq    = flag.Uint64("startFreq", 0, "Select samples starting with this frequency in Hz.")
	endFreq      = flag.Uint64("endFreq", math.MaxInt64, "Select samples up to this frequency in Hz.")
	startTimeRaw = flag.String("startTime", "2000-01-02T15:04:05", "Select samples collected after this time. Format: 2006-01-02T15:04:05")
	endTimeRaw   = flag.String("endTime", "2100-01-02T15:04:05", "Select samples collected before this time. Format: 2006-01-02T15:04:05")
	imgPath      = flag.String("imgPath", "/tmp/out.jpg", "Path where the rendered image should be written to (.png or .jpg).")
	imgWidth     = flag.Int("imgWidth", 0, "Width of output image in pixels, 0 uses the resolution of the data.")
	imgHeight    = flag.Int("imgHeight", 0, "Height of output image in pixels, 0 uses the resolution of the data.")
	addGrid      = flag.Bool("addGrid", true, "Draw frequency and time axes around the waterfall.")
)

const timeFmt = "2006-01-02T15:04:05"

func encode(w io.Writer, path string, img image.Image) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return png.Encode(w, img)
	case ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpeg.DefaultQuality})
	}
	return fmt.Errorf("unsupported image format %q, use .png or .jpg", filepath.Ext(path))
}

func writeImage(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f, path, img); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func printMeta(w io.Writer, res *extraction.RenderResult) {
	src, img := res.SourceMeta, res.ImageMeta
	fmt.Fprintln(w, "Selected source metadata:")
	fmt.Fprintf(w, "  - Low frequency: %s\n", extraction.GetReadableFreq(src.LowFreq))
	fmt.Fprintf(w, "  - High frequency: %s\n", extraction.GetReadableFreq(src.HighFreq))
	fmt.Fprintf(w, "  - Start time: %s (%d)\n", src.StartTime.Format(timeFmt), src.StartTime.Unix())
	fmt.Fprintf(w, "  - End time: %s (%d)\n", src.EndTime.Format(timeFmt), src.EndTime.Unix())
	fmt.Fprintf(w, "  - Duration: %s\n", src.EndTime.Sub(src.StartTime))
	fmt.Fprintf(w, "Rendered image (%d x %d), %.0f Hz and %.3f s per pixel\n", img.ImageWidth, img.ImageHeight, img.FreqPerPixel, img.SecPerPixel)
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	startTime, err := time.Parse(timeFmt, *startTimeRaw)
	if err != nil {
		glog.Exitf("unable to parse startTime (value: %q, format: %q): %s", *startTimeRaw, timeFmt, err)
	}
	endTime, err := time.Parse(timeFmt, *endTimeRaw)
	if err != nil {
		glog.Exitf("unable to parse endTime (value: %q, format: %q): %s", *endTimeRaw, timeFmt, err)
	}

	db, err := export.OpenSQLite(*sqliteFile)
	if err != nil {
		glog.Exitf("unable to open sqlite DB %q: %s", *sqliteFile, err)
	}
	defer db.Close()

	res, err := extraction.Render(db, &extraction.RenderRequest{
		Filter: &extraction.FilterOptions{
			Source:     *source,
			Identifier: *identifier,
			StartFreq:  *startFreq,
			EndFreq:    *endFreq,
			StartTime:  startTime,
			EndTime:    endTime,
		},
		Image: &extraction.ImageOptions{
			Height:  *imgHeight,
			Width:   *imgWidth,
			AddGrid: *addGrid,
		},
	})
	if err != nil {
		glog.Exitf("unable to render waterfall: %s", err)
	}
	printMeta(os.Stdout, res)

	fmt.Printf("Writing image to %q\n", *imgPath)
	if err := writeImage(*imgPath, res.Image); err != nil {
		glog.Exitf("unable to write image to %q: %s", *imgPath, err)
	}
}
