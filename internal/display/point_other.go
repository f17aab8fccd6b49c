//go:build !windows

package display

// NewSystemPointMapper returns nil: no per-window point mapping outside Windows
func NewSystemPointMapper() PointMapper {
	return nil
}

// EnableDPIAwareness is a no-op outside Windows
func EnableDPIAwareness() bool {
	return false
}
