package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Systemd passes activated sockets starting at fd 3 (after stdin, stdout,
// stderr).
const listenFdsStart = 3

// Listeners returns the listeners handed to this process through systemd
// socket activation, detected via the LISTEN_PID and LISTEN_FDS environment
// variables. It returns nil when no activation is present or the activation
// targets a different process.
func Listeners() ([]net.Listener, error) {
	numFDs, err := activatedFDs()
	if err != nil || numFDs == 0 {
		return nil, err
	}

	listeners := make([]net.Listener, 0, numFDs)
	for i := 0; i < numFDs; i++ {
		fd := listenFdsStart + i
		file := os.NewFile(uintptr(fd), fmt.Sprintf("systemd-socket-%d", i))
		if file == nil {
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		listener, err := net.FileListener(file)
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}

		// The listener duplicates the descriptor, the file can go.
		_ = file.Close()

		listeners = append(listeners, listener)
	}

	// Unset the environment variables so child processes don't inherit them
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// activatedFDs reports how many descriptors systemd passed to this process,
// zero when socket activation is absent or addressed to another PID.
func activatedFDs() (int, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		return 0, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, nil
	}

	numFDs, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if numFDs < 1 {
		return 0, nil
	}

	return numFDs, nil
}
