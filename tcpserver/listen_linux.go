//go:build linux

package tcpserver

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listen binds 0.0.0.0:port with an explicit backlog. net.Listen always uses
// the kernel maximum, so the socket is built by hand and handed to the net
// package afterwards.
func listen(port, backlog int) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening stream socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("setting SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("binding stream socket: %w", err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listening on stream socket: %w", err)
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("tcp:0.0.0.0:%d", port))
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("wrapping listener: %w", err)
	}

	return ln, nil
}
