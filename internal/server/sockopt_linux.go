//go:build linux

package server

import (
	"log"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"piksi-emu/internal/config"
)

// listenConfig sets SO_SNDBUF on the listening socket when configured.
// Accepted connections inherit it.
func listenConfig(c config.ServerConfig) net.ListenConfig {
	if c.SendBufferBytes <= 0 {
		return net.ListenConfig{}
	}
	return net.ListenConfig{
		Control: func(network, address string, rc syscall.RawConn) error {
			var serr error
			err := rc.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, c.SendBufferBytes)
			})
			if err != nil {
				return err
			}
			if serr != nil {
				log.Printf("server: SO_SNDBUF=%d not applied: %v", c.SendBufferBytes, serr)
			}
			return nil
		},
	}
}
