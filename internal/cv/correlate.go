package cv

import (
	"image"
	"math"
	"runtime"
	"sync"
)

// Peak is the best position of one correlation map
type Peak struct {
	Location image.Point
	Score    float64
}

// Correlator slides a template over an image and reports the maximum
// normalized correlation coefficient and its top-left location. When several
// positions share the maximum, the first in raster order wins.
//
// A template with zero variance has no correlation coefficient; it is scored
// as 1 - RMS(window - template)/255 instead. A zero-variance window against a
// textured template scores 0.
type Correlator interface {
	Correlate(img, tmpl *image.Gray) (Peak, error)
}

// DefaultCorrelator returns the correlator of the compiled-in backend
func DefaultCorrelator() Correlator {
	return defaultCorrelator()
}

// NCCCorrelator is the pure-Go correlator. Window sums come from integral
// images; rows of the result map are spread over a fixed worker count and
// reduced in row order, so output does not depend on scheduling.
type NCCCorrelator struct {
	workers int
}

// NewNCCCorrelator creates a correlator using the given number of
// goroutines, GOMAXPROCS when workers <= 0.
func NewNCCCorrelator(workers int) *NCCCorrelator {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &NCCCorrelator{workers: workers}
}

type integral struct {
	w   int // image width + 1
	sum []int64
	sq  []int64
}

func newIntegral(img *image.Gray) *integral {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	it := &integral{
		w:   w + 1,
		sum: make([]int64, (w+1)*(h+1)),
		sq:  make([]int64, (w+1)*(h+1)),
	}
	for y := 0; y < h; y++ {
		var rowSum, rowSq int64
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			v := int64(row[x])
			rowSum += v
			rowSq += v * v
			i := (y+1)*it.w + x + 1
			it.sum[i] = it.sum[i-it.w] + rowSum
			it.sq[i] = it.sq[i-it.w] + rowSq
		}
	}
	return it
}

// window returns the sum and sum of squares over [x, x+w) x [y, y+h)
func (it *integral) window(x, y, w, h int) (int64, int64) {
	a := y*it.w + x
	b := a + w
	c := (y+h)*it.w + x
	d := c + w
	return it.sum[d] - it.sum[b] - it.sum[c] + it.sum[a],
		it.sq[d] - it.sq[b] - it.sq[c] + it.sq[a]
}

func (c *NCCCorrelator) Correlate(img, tmpl *image.Gray) (Peak, error) {
	W, H := img.Rect.Dx(), img.Rect.Dy()
	w, h := tmpl.Rect.Dx(), tmpl.Rect.Dy()
	if w == 0 || h == 0 {
		return Peak{}, ErrInvalidImage
	}
	if w > W || h > H {
		return Peak{}, ErrTemplateTooLarge
	}

	n := int64(w * h)
	var sumT, sumT2 int64
	for y := 0; y < h; y++ {
		for _, v := range tmpl.Pix[y*tmpl.Stride : y*tmpl.Stride+w] {
			sumT += int64(v)
			sumT2 += int64(v) * int64(v)
		}
	}
	varT := n*sumT2 - sumT*sumT

	it := newIntegral(img)
	outW, outH := W-w+1, H-h+1
	rows := make([]Peak, outH)

	score := func(x, y int) float64 {
		s, q := it.window(x, y, w, h)
		if varT == 0 {
			tv := float64(tmpl.Pix[0])
			msd := (float64(q) - 2*tv*float64(s) + float64(n)*tv*tv) / float64(n)
			if msd < 0 {
				msd = 0
			}
			return 1 - math.Sqrt(msd)/255
		}

		varI := n*q - s*s
		if varI <= 0 {
			return 0
		}

		var cross int64
		for j := 0; j < h; j++ {
			irow := img.Pix[(y+j)*img.Stride+x : (y+j)*img.Stride+x+w]
			trow := tmpl.Pix[j*tmpl.Stride : j*tmpl.Stride+w]
			for i, v := range irow {
				cross += int64(v) * int64(trow[i])
			}
		}

		r := float64(n*cross-s*sumT) / math.Sqrt(float64(varT)*float64(varI))
		return math.Max(-1, math.Min(1, r))
	}

	workers := c.workers
	if workers > outH {
		workers = outH
	}

	var wg sync.WaitGroup
	for k := 0; k < workers; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			for y := k; y < outH; y += workers {
				best := Peak{Location: image.Pt(0, y), Score: math.Inf(-1)}
				for x := 0; x < outW; x++ {
					if v := score(x, y); v > best.Score {
						best = Peak{Location: image.Pt(x, y), Score: v}
					}
				}
				rows[y] = best
			}
		}(k)
	}
	wg.Wait()

	best := rows[0]
	for _, p := range rows[1:] {
		if p.Score > best.Score {
			best = p
		}
	}
	return best, nil
}
