package extraction

import (
	"database/sql"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/golang/glog"
)

const (
	// getFreqResolutionTmpl is the sqlite query to get the number of distinct frequencies
	// in the DB. This results in the maximum amount of pixels in the X axis we should render.
	// This is possible because the frequency centers remain the same across a run.
	getFreqResolutionTmpl = `SELECT
		COUNT(DISTINCT(FreqCenter))
	FROM
		spectre
	WHERE
		Source = ?
		AND Identifier LIKE ?
		AND FreqLow >= ?
		AND FreqHigh <= ?
		AND Start >= ?
		AND End <= ?;`
	// getTimeResolutionTmpl is the sqlite query to get the number of distinct timestamps
	// for a frequency in the DB. This results in the maximum amount of pixels in the Y
	// axis we should render.
	getTimeResolutionTmpl = `SELECT
			COUNT(DISTINCT(Start))
		FROM
			spectre AS s
		WHERE
			s.FreqCenter = (
				SELECT
					MIN(FreqCenter)
				FROM
					spectre
				WHERE
					Source = ?
					AND Identifier LIKE ?
					AND FreqLow >= ?
					AND FreqHigh <= ?
					AND Start >= ?
					AND End <= ?
			)
			AND Source = ?
			AND Identifier LIKE ?
			AND Start >= ?
			AND End <= ?;`
	getImgDataTmpl = `SELECT
			MIN(FreqLow),
			MAX(FreqHigh),
			MAX(DBHigh),
			MIN(Start),
			MAX(End),
			TimeBucket,
			FreqBucket
		FROM (
			SELECT
				FreqLow,
				FreqCenter,
				FreqHigh,
				DBHigh,
				Start,
				End,
				NTILE (?) OVER (ORDER BY Start) TimeBucket,
				NTILE (?) OVER (ORDER BY FreqCenter) FreqBucket
			FROM
				spectre
			WHERE
				Source = ?
				AND Identifier LIKE ?
				AND FreqLow >= ?
				AND FreqHigh <= ?
				AND Start >= ?
				AND End <= ?
		)
		GROUP BY TimeBucket, FreqBucket
		ORDER BY TimeBucket ASC, FreqBucket ASC;`
)

type FilterOptions struct {
	Source     string
	Identifier string
	StartFreq  uint64
	EndFreq    uint64
	StartTime  time.Time
	EndTime    time.Time
}

type ImageOptions struct {
	Height int
	Width  int

	AddGrid bool
}

type RenderRequest struct {
	Filter *FilterOptions
	Image  *ImageOptions
}

type SourceMetadata struct {
	LowFreq   uint64
	HighFreq  uint64
	StartTime time.Time
	EndTime   time.Time
}

type RenderMetadata struct {
	ImageHeight  int
	ImageWidth   int
	FreqPerPixel float64
	SecPerPixel  float64
}

type RenderResult struct {
	Image image.Image

	SourceMeta *SourceMetadata
	ImageMeta  *RenderMetadata
}

func (f *FilterOptions) args() []any {
	return []any{f.Source, f.Identifier, int64(f.StartFreq), int64(min(f.EndFreq, math.MaxInt64)), f.StartTime.UnixMilli(), f.EndTime.UnixMilli()}
}

func GetMaxImageHeight(db *sql.DB, f *FilterOptions) (int, error) {
	args := append(f.args(), f.Source, f.Identifier, f.StartTime.UnixMilli(), f.EndTime.UnixMilli())
	var count int
	return count, db.QueryRow(getTimeResolutionTmpl, args...).Scan(&count)
}

func GetMaxImageWidth(db *sql.DB, f *FilterOptions) (int, error) {
	var count int
	return count, db.QueryRow(getFreqResolutionTmpl, f.args()...).Scan(&count)
}

// Render draws a waterfall of the samples matching req from the spectre table.
func Render(db *sql.DB, req *RenderRequest) (*RenderResult, error) {
	maxImgHeight, err := GetMaxImageHeight(db, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("unable to query sqlite DB to determine image height: %w", err)
	}
	switch {
	case req.Image.Height == 0:
		req.Image.Height = maxImgHeight
	case req.Image.Height > maxImgHeight:
		glog.Warningf("image height is set to %d which is more than what the data in the sqlite DB can provide. Reducing image height to %d pixels", req.Image.Height, maxImgHeight)
		req.Image.Height = maxImgHeight
	}
	maxImgWidth, err := GetMaxImageWidth(db, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("unable to query sqlite DB to determine image width: %w", err)
	}
	switch {
	case req.Image.Width == 0:
		req.Image.Width = maxImgWidth
	case req.Image.Width > maxImgWidth:
		glog.Warningf("image width is set to %d which is more than what the data in the sqlite DB can provide. Reducing image width to %d pixels", req.Image.Width, maxImgWidth)
		req.Image.Width = maxImgWidth
	}
	if req.Image.Width == 0 || req.Image.Height == 0 {
		return nil, fmt.Errorf("no samples match the filter")
	}

	args := append([]any{req.Image.Height, req.Image.Width}, req.Filter.args()...)
	imgData, err := db.Query(getImgDataTmpl, args...)
	if err != nil {
		return nil, err
	}
	defer imgData.Close()

	lowFreq := uint64(math.MaxUint64)
	highFreq := uint64(0)
	globalMinDB := math.Inf(1)
	globalMaxDB := math.Inf(-1)
	sTime := time.Now()
	var eTime time.Time

	type pixel struct {
		row, col int
		db       float64
	}
	var pixels []pixel
	for imgData.Next() {
		var freqLow, freqHigh int64
		var timeStart, timeEnd int64
		var db float64
		var rowIdx, colIdx int
		if err := imgData.Scan(&freqLow, &freqHigh, &db, &timeStart, &timeEnd, &rowIdx, &colIdx); err != nil {
			glog.Warningf("unable to get sample from DB: %s", err)
			continue
		}

		if start := time.UnixMilli(timeStart); start.Before(sTime) {
			sTime = start
		}
		if end := time.UnixMilli(timeEnd); end.After(eTime) {
			eTime = end
		}
		globalMinDB = math.Min(globalMinDB, db)
		globalMaxDB = math.Max(globalMaxDB, db)
		lowFreq = min(lowFreq, uint64(freqLow))
		highFreq = max(highFreq, uint64(freqHigh))

		// NTILE buckets start at 1.
		pixels = append(pixels, pixel{row: rowIdx - 1, col: colIdx - 1, db: db})
	}
	if err := imgData.Err(); err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, req.Image.Width, req.Image.Height))
	for _, p := range pixels {
		canvas.SetRGBA(p.col, p.row, GetColor(Level(p.db, globalMinDB, globalMaxDB)))
	}

	if req.Image.AddGrid {
		canvas = DrawGrid(canvas, lowFreq, highFreq, sTime, eTime)
	}

	return &RenderResult{
		Image: canvas,
		SourceMeta: &SourceMetadata{
			LowFreq:   lowFreq,
			HighFreq:  highFreq,
			StartTime: sTime,
			EndTime:   eTime,
		},
		ImageMeta: &RenderMetadata{
			ImageHeight:  req.Image.Height,
			ImageWidth:   req.Image.Width,
			FreqPerPixel: float64(highFreq-lowFreq) / float64(req.Image.Width),
			SecPerPixel:  eTime.Sub(sTime).Seconds() / float64(req.Image.Height),
		},
	}, nil
}
