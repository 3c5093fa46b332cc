// Package net has networking helpers used by tests and the CLI.
package net

import (
	"fmt"
	"net"
)

// EphemeralTCPAddr grabs an ephemeral localhost TCP port from the kernel and
// returns it as a host:port string. The port is released before returning, so
// there is a small window where something else could claim it.
func EphemeralTCPAddr() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().String(), nil
}
