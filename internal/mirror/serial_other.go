//go:build !linux

package mirror

import (
	"io"

	"github.com/jacobsa/go-serial/serial"
)

func openPort(path string, baud int) (io.ReadWriteCloser, error) {
	// Reads time out every 100ms so Close is noticed.
	return serial.Open(serial.OpenOptions{
		PortName:              path,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	})
}

var openPortFn = openPort
