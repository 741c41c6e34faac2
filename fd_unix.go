//go:build linux || darwin

package eventloop

import (
	"golang.org/x/sys/unix"
)

// closeFD closes a file descriptor on Unix systems.
func closeFD(fd int) error {
	return unix.Close(fd)
}

// readFD reads from a file descriptor on Unix systems.
func readFD(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// writeFD writes to a file descriptor on Unix systems.
func writeFD(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

// isEAGAIN reports whether err is the nonblocking-I/O would-block
// condition, absorbed internally as TransientIO rather than surfaced.
func isEAGAIN(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// acceptConn accepts one connection on the listening descriptor fd and
// arms it nonblocking and close-on-exec before handing it back, so every
// accepted Connection does nonblocking I/O from its very first byte.
func acceptConn(fd int) (int, error) {
	nfd, _, err := unix.Accept(fd)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return -1, err
	}
	unix.CloseOnExec(nfd)
	return nfd, nil
}
