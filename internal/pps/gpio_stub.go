//go:build !linux || (!arm && !arm64)

package pps

import "fmt"

func openLine(pin int) (Line, error) {
	return nil, fmt.Errorf("pps: gpio unsupported on this platform")
}

var openLineFn = openLine
