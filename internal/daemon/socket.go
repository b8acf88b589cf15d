package daemon

import (
	"net"
	"os"
	"path/filepath"
)

// Listen binds the daemon's unix socket, replacing any stale socket file
// left by a previous run.
func Listen(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return nil, err
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(socketPath, 0700); err != nil {
		ln.Close()
		return nil, err
	}
	return ln, nil
}

// Dial connects to a running daemon's socket.
func Dial(socketPath string) (net.Conn, error) {
	return net.Dial("unix", socketPath)
}
