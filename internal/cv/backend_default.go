//go:build !gocv

package cv

// Backend names the correlation backend compiled into this binary
const Backend = "pure-go"

func defaultCorrelator() Correlator {
	return NewNCCCorrelator(0)
}
