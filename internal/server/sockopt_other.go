//go:build !linux

package server

import (
	"log"
	"net"

	"piksi-emu/internal/config"
)

func listenConfig(c config.ServerConfig) net.ListenConfig {
	if c.SendBufferBytes > 0 {
		log.Printf("server: send_buffer_bytes is only supported on linux; ignoring")
	}
	return net.ListenConfig{}
}
