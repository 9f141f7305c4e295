package storage

import (
	"os"

	"github.com/spf13/afero"
)

const (
	osWriteFlags  = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	osAppendFlags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
)

func syncFile(f afero.File) error {
	return f.Sync()
}

// syncDir fsyncs a directory so a rename into it is durable, matching
// the atomic write protocol in spec section 6. afero's in-memory and
// other non-OS backends have no directory file descriptor to sync, so
// this is a no-op for anything but afero.OsFs.
func syncDir(fs afero.Fs, dir string) error {
	if _, ok := fs.(*afero.OsFs); !ok {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
