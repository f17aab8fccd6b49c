//go:build windows

package cv

import (
	"fmt"
	"image"
	"syscall"
	"unsafe"

	"jordanella.com/autoclick-go/internal/display"
)

var (
	user32                     = syscall.NewLazyDLL("user32.dll")
	gdi32                      = syscall.NewLazyDLL("gdi32.dll")
	procGetDC                  = user32.NewProc("GetDC")
	procReleaseDC              = user32.NewProc("ReleaseDC")
	procGetSystemMetrics       = user32.NewProc("GetSystemMetrics")
	procCreateCompatibleDC     = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject           = gdi32.NewProc("SelectObject")
	procBitBlt                 = gdi32.NewProc("BitBlt")
	procDeleteDC               = gdi32.NewProc("DeleteDC")
	procDeleteObject           = gdi32.NewProc("DeleteObject")
	procGetDIBits              = gdi32.NewProc("GetDIBits")
)

const (
	SRCCOPY        = 0x00CC0020
	CAPTUREBLT     = 0x40000000
	BI_RGB         = 0
	DIB_RGB_COLORS = 0

	SM_CXSCREEN = 0
	SM_CYSCREEN = 1
)

// BITMAPINFOHEADER structure
type BITMAPINFOHEADER struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

// BITMAPINFO structure
type BITMAPINFO struct {
	BmiHeader BITMAPINFOHEADER
	BmiColors [1]uint32
}

// GDICapturer copies desktop pixels with BitBlt. The process should be
// DPI aware (display.EnableDPIAwareness) or Windows hands back scaled pixels.
type GDICapturer struct{}

// NewGDICapturer creates a desktop DC capturer
func NewGDICapturer() *GDICapturer {
	return &GDICapturer{}
}

func (c *GDICapturer) PrimaryBounds() (display.Region, error) {
	w, _, _ := procGetSystemMetrics.Call(SM_CXSCREEN)
	h, _, _ := procGetSystemMetrics.Call(SM_CYSCREEN)
	if w == 0 || h == 0 {
		return display.Region{}, fmt.Errorf("GetSystemMetrics returned %dx%d", w, h)
	}
	return display.NewRegion(0, 0, int(w), int(h), display.Physical), nil
}

// Grab captures a desktop rectangle as an opaque RGBA image
func (c *GDICapturer) Grab(r display.Region) (*image.RGBA, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	// Desktop DC
	hdcScreen, _, err := procGetDC.Call(0)
	if hdcScreen == 0 {
		return nil, fmt.Errorf("failed to get desktop DC: %v", err)
	}
	defer procReleaseDC.Call(0, hdcScreen)

	hdcMem, _, err := procCreateCompatibleDC.Call(hdcScreen)
	if hdcMem == 0 {
		return nil, fmt.Errorf("failed to create compatible DC: %v", err)
	}
	defer procDeleteDC.Call(hdcMem)

	hBitmap, _, err := procCreateCompatibleBitmap.Call(hdcScreen, uintptr(r.Width), uintptr(r.Height))
	if hBitmap == 0 {
		return nil, fmt.Errorf("failed to create compatible bitmap: %v", err)
	}
	defer procDeleteObject.Call(hBitmap)

	old, _, _ := procSelectObject.Call(hdcMem, hBitmap)
	defer procSelectObject.Call(hdcMem, old)

	// Source coordinates can be negative on multi-monitor desktops
	ret, _, err := procBitBlt.Call(
		hdcMem,
		0, 0,
		uintptr(r.Width), uintptr(r.Height),
		hdcScreen,
		uintptr(int32(r.Left)), uintptr(int32(r.Top)),
		SRCCOPY|CAPTUREBLT,
	)
	if ret == 0 {
		return nil, fmt.Errorf("BitBlt failed: %v", err)
	}

	var bi BITMAPINFO
	bi.BmiHeader.Size = uint32(unsafe.Sizeof(bi.BmiHeader))
	bi.BmiHeader.Width = int32(r.Width)
	bi.BmiHeader.Height = -int32(r.Height) // top-down
	bi.BmiHeader.Planes = 1
	bi.BmiHeader.BitCount = 32
	bi.BmiHeader.Compression = BI_RGB

	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	ret, _, err = procGetDIBits.Call(
		hdcMem,
		hBitmap,
		0,
		uintptr(r.Height),
		uintptr(unsafe.Pointer(&img.Pix[0])),
		uintptr(unsafe.Pointer(&bi)),
		DIB_RGB_COLORS,
	)
	if ret == 0 {
		return nil, fmt.Errorf("GetDIBits failed: %v", err)
	}

	// BGRA -> RGBA; the desktop alpha channel is undefined
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		img.Pix[i+3] = 255
	}

	return img, nil
}

// NewPlatformCapturer returns the GDI capturer on Windows
func NewPlatformCapturer() Capturer {
	return NewGDICapturer()
}
