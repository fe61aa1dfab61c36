package transport

import (
	"errors"
	"net"
	"os"
)

// removeStaleSocket unlinks a leftover Unix-domain socket file from an
// earlier, uncleanly terminated broker process. Only files that are
// actually sockets (or simply absent) are removed; anything else is left
// alone and surfaced as an error so a misconfigured path doesn't silently
// clobber an unrelated file.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return &net.AddrError{Err: "refusing to remove non-socket file", Addr: path}
	}
	return os.Remove(path)
}
