//go:build !windows

package cv

// NewPlatformCapturer returns the screenshot-backed capturer
func NewPlatformCapturer() Capturer {
	return NewScreenCapturer()
}
