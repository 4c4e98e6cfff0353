//go:build !linux

package tcpserver

import (
	"fmt"
	"net"
	"strconv"
)

// listen binds 0.0.0.0:port. The backlog is left to the platform.
func listen(port, _ int) (net.Listener, error) {
	return net.Listen("tcp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
}
