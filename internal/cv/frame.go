package cv

import (
	"image"
	"image/draw"
	"time"

	"jordanella.com/autoclick-go/internal/display"
)

// Frame is one captured image of a screen region
type Frame struct {
	Image    *image.RGBA
	Captured time.Time
	Region   display.Region // physical pixels
}

// Clone deep-copies the frame so the caller owns its pixels
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	out := *f
	if f.Image != nil {
		src := f.Image
		img := image.NewRGBA(src.Rect)
		row := src.Rect.Dx() * 4
		for y := src.Rect.Min.Y; y < src.Rect.Max.Y; y++ {
			i, j := src.PixOffset(src.Rect.Min.X, y), img.PixOffset(src.Rect.Min.X, y)
			copy(img.Pix[j:j+row], src.Pix[i:i+row])
		}
		out.Image = img
	}
	return &out
}

// ToRGBA converts any image into a zero-origin *image.RGBA with opaque
// alpha. A zero-origin *image.RGBA is returned as-is.
func ToRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	if rgba, ok := src.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}

	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	opaque(dst)
	return dst
}

func opaque(img *image.RGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
}

// CropRegion extracts a rectangle from an image into a new zero-origin image
func CropRegion(img *image.RGBA, rect image.Rectangle) *image.RGBA {
	rect = rect.Intersect(img.Bounds())
	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, rect.Min, draw.Src)
	return cropped
}
