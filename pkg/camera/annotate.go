package camera

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"
)

// Overlay colours.
var (
	ColorSearching = color.RGBA{R: 255, G: 80, B: 0, A: 0}
	ColorTracking  = color.RGBA{R: 0, G: 220, B: 0, A: 0}
	ColorTimestamp = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// TimestampLayout is the format of the timestamp overlay.
const TimestampLayout = "Monday 02 January 2006 15:04:05"

// Label draws text in the top-left corner.
func Label(img *gocv.Mat, text string, c color.RGBA) {
	gocv.PutText(img, text, image.Pt(10, 20), gocv.FontHersheySimplex, 0.5, c, 2)
}

// Timestamp draws t in the bottom-left corner.
func Timestamp(img *gocv.Mat, t time.Time) {
	pt := image.Pt(10, img.Rows()-10)
	gocv.PutText(img, t.Format(TimestampLayout), pt, gocv.FontHersheySimplex, 0.35, ColorTimestamp, 1)
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
