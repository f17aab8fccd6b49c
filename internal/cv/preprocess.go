package cv

import (
	"image"

	"golang.org/x/image/draw"
)

// All *image.Gray values produced here are zero-origin with Stride == width.

// Grayscale converts to 8-bit luminance using the BT.601 weights
func Grayscale(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	gray := image.NewGray(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := gray.Pix[y*gray.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			r, g, bl := int(src[i]), int(src[i+1]), int(src[i+2])
			dst[x] = uint8((r*299 + g*587 + bl*114 + 500) / 1000)
		}
	}

	return gray
}

// reflect101 mirrors an out-of-range index without repeating the edge
// pixel: "cb|abcd|cb".
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	if i < 0 {
		return -i
	}
	if i >= n {
		return 2*n - i - 2
	}
	return i
}

// GaussianBlur applies the separable 3x3 kernel [1 2 1]/4 in both directions
func GaussianBlur(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}

	tmp := make([]int32, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			l := row[reflect101(x-1, w)]
			r := row[reflect101(x+1, w)]
			tmp[y*w+x] = int32(l) + 2*int32(row[x]) + int32(r)
		}
	}

	for y := 0; y < h; y++ {
		up := reflect101(y-1, h) * w
		dn := reflect101(y+1, h) * w
		cur := y * w
		out := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			s := tmp[up+x] + 2*tmp[cur+x] + tmp[dn+x]
			out[x] = uint8((s + 8) >> 4)
		}
	}

	return dst
}

const (
	tan22 = 0.41421356237309503 // tan(22.5°)
	tan67 = 2.414213562373095   // tan(67.5°)
)

// Canny computes a binary edge map (0 or 255): Sobel gradients with L1
// magnitude, non-maximum suppression, then hysteresis between low and high.
func Canny(src *image.Gray, low, high float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	edges := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return edges
	}
	if low > high {
		low, high = high, low
	}

	px := func(x, y int) int32 {
		return int32(src.Pix[reflect101(y, h)*src.Stride+reflect101(x, w)])
	}

	gx := make([]int32, w*h)
	gy := make([]int32, w*h)
	mag := make([]int32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1) -
				px(x-1, y-1) - 2*px(x-1, y) - px(x-1, y+1)
			dy := px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1) -
				px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1)
			i := y*w + x
			gx[i], gy[i] = dx, dy
			mag[i] = abs32(dx) + abs32(dy)
		}
	}

	at := func(x, y int) int32 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	const (
		none uint8 = iota
		weak
		strong
	)
	state := make([]uint8, w*h)
	var stack []int

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if float64(m) <= low {
				continue
			}

			ax := float64(abs32(gx[i]))
			ay := float64(abs32(gy[i]))
			var n1, n2 int32
			switch {
			case ay <= ax*tan22:
				n1, n2 = at(x-1, y), at(x+1, y)
			case ay >= ax*tan67:
				n1, n2 = at(x, y-1), at(x, y+1)
			case (gx[i] < 0) == (gy[i] < 0):
				n1, n2 = at(x-1, y-1), at(x+1, y+1)
			default:
				n1, n2 = at(x+1, y-1), at(x-1, y+1)
			}

			// Strict on one side so a plateau of equal magnitudes keeps one pixel
			if m <= n1 || m < n2 {
				continue
			}

			if float64(m) > high {
				state[i] = strong
				stack = append(stack, i)
			} else {
				state[i] = weak
			}
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		edges.Pix[(i/w)*edges.Stride+i%w] = 255

		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] == weak {
					state[j] = strong
					stack = append(stack, j)
				}
			}
		}
	}

	return edges
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// areaKernel is a box filter. x/image/draw widens a kernel's support by the
// inverse scale when shrinking, so this averages each destination pixel's
// source footprint.
var areaKernel = &draw.Kernel{
	Support: 0.5,
	At: func(t float64) float64 {
		if t > -0.5 && t < 0.5 {
			return 1
		}
		return 0
	},
}

// Resize scales a gray image by factor: area averaging when shrinking,
// Catmull-Rom when enlarging. Returns nil when either side would be empty.
func Resize(src *image.Gray, factor float64) *image.Gray {
	w := roundInt(float64(src.Rect.Dx()) * factor)
	h := roundInt(float64(src.Rect.Dy()) * factor)
	if w < 1 || h < 1 {
		return nil
	}
	if w == src.Rect.Dx() && h == src.Rect.Dy() {
		return src
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	var k draw.Interpolator = draw.CatmullRom
	if factor < 1 {
		k = areaKernel
	}
	k.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// flat reports whether every pixel has the same value
func flat(g *image.Gray) bool {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || h == 0 {
		return true
	}
	first := g.Pix[0]
	for y := 0; y < h; y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			if v != first {
				return false
			}
		}
	}
	return true
}

// empty reports whether an edge map has no edge pixels
func empty(g *image.Gray) bool {
	for _, v := range g.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}
