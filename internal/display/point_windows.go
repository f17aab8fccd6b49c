//go:build windows

package display

import (
	"syscall"
	"unsafe"
)

var (
	user32                                     = syscall.NewLazyDLL("user32.dll")
	procLogicalToPhysicalPointForPerMonitorDPI = user32.NewProc("LogicalToPhysicalPointForPerMonitorDPI")
	procSetProcessDpiAwarenessContext          = user32.NewProc("SetProcessDpiAwarenessContext")
	procSetProcessDPIAware                     = user32.NewProc("SetProcessDPIAware")
)

// DPI_AWARENESS_CONTEXT_PER_MONITOR_AWARE_V2
const dpiAwarenessPerMonitorV2 = ^uintptr(3) // (HANDLE)-4

type point struct {
	X, Y int32
}

// SystemPointMapper maps points with LogicalToPhysicalPointForPerMonitorDPI
type SystemPointMapper struct{}

// NewSystemPointMapper returns the platform point mapper, or nil when the
// running system lacks the call (pre Windows 8.1).
func NewSystemPointMapper() PointMapper {
	if procLogicalToPhysicalPointForPerMonitorDPI.Find() != nil {
		return nil
	}
	return SystemPointMapper{}
}

func (SystemPointMapper) LogicalToPhysical(hwnd uintptr, x, y int) (int, int, bool) {
	pt := point{X: int32(x), Y: int32(y)}
	ret, _, _ := procLogicalToPhysicalPointForPerMonitorDPI.Call(hwnd, uintptr(unsafe.Pointer(&pt)))
	if ret == 0 {
		return 0, 0, false
	}
	return int(pt.X), int(pt.Y), true
}

// EnableDPIAwareness opts the process into per-monitor DPI awareness so that
// capture and input both see physical pixels. Falls back to system awareness
// on older Windows. Must run before any window or DC is created.
func EnableDPIAwareness() bool {
	if procSetProcessDpiAwarenessContext.Find() == nil {
		if ret, _, _ := procSetProcessDpiAwarenessContext.Call(dpiAwarenessPerMonitorV2); ret != 0 {
			return true
		}
	}
	if procSetProcessDPIAware.Find() == nil {
		ret, _, _ := procSetProcessDPIAware.Call()
		return ret != 0
	}
	return false
}
