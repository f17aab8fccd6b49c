//go:build gocv

package cv

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Backend names the correlation backend compiled into this binary
const Backend = "opencv"

func defaultCorrelator() Correlator {
	return NewOpenCVCorrelator()
}

// OpenCVCorrelator runs TM_CCOEFF_NORMED through OpenCV. Flat templates are
// handed to the pure-Go correlator, which defines a score for them.
type OpenCVCorrelator struct {
	fallback *NCCCorrelator
}

func NewOpenCVCorrelator() *OpenCVCorrelator {
	return &OpenCVCorrelator{fallback: NewNCCCorrelator(0)}
}

func grayMat(g *image.Gray) (gocv.Mat, error) {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	data := g.Pix
	if g.Stride != w {
		data = make([]byte, w*h)
		for y := 0; y < h; y++ {
			copy(data[y*w:(y+1)*w], g.Pix[y*g.Stride:])
		}
	}
	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, data)
}

func (c *OpenCVCorrelator) Correlate(img, tmpl *image.Gray) (Peak, error) {
	if tmpl.Rect.Dx() == 0 || tmpl.Rect.Dy() == 0 {
		return Peak{}, ErrInvalidImage
	}
	if tmpl.Rect.Dx() > img.Rect.Dx() || tmpl.Rect.Dy() > img.Rect.Dy() {
		return Peak{}, ErrTemplateTooLarge
	}
	if flat(tmpl) {
		return c.fallback.Correlate(img, tmpl)
	}

	src, err := grayMat(img)
	if err != nil {
		return Peak{}, fmt.Errorf("frame to mat: %w", err)
	}
	defer src.Close()

	t, err := grayMat(tmpl)
	if err != nil {
		return Peak{}, fmt.Errorf("template to mat: %w", err)
	}
	defer t.Close()

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	gocv.MatchTemplate(src, t, &result, gocv.TmCcoeffNormed, mask)
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)

	return Peak{Location: maxLoc, Score: float64(maxVal)}, nil
}
