package server

import "os"

// NotifyStartup writes a single status byte to path once the daemon has
// bound its listener, the handshake a parent process (or the client that
// spawned the daemon on demand) waits on before assuming the socket is
// ready to accept connections. Grounded on
// original_source/src/server.rs's create_server startup notification,
// which does the same over SCCACHE_STARTUP_NOTIFY.
//
// A zero byte means success; a non-zero byte means startErr is non-nil and
// the daemon is about to exit. path == "" is a no-op: not every launch
// path (interactive `sccached serve`, tests) has a waiting parent.
func NotifyStartup(path string, startErr error) error {
	if path == "" {
		return nil
	}

	status := byte(0)
	if startErr != nil {
		status = 1
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write([]byte{status})

	return err
}
