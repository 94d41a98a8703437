package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var errShortWrite = errors.New("short write")

// writeFileOnce writes data to filename so that no reader ever observes a
// partial file, and fails with fs.ErrExist when filename is already present.
// The data goes to a synced temp file in the same directory, which is then
// hard-linked into place.
func writeFileOnce(filename string, data []byte, perm os.FileMode) error {
	dir, name := filepath.Split(filename)
	tmpfile, err := os.CreateTemp(dir, fmt.Sprintf(".%s-*.tmp", name))
	if err != nil {
		return err
	}

	tmpname := tmpfile.Name()
	defer func() {
		tmpfile.Close()
		os.Remove(tmpname)
	}()

	n, err := tmpfile.Write(data)
	if err != nil {
		return err
	}
	if n < len(data) {
		return errShortWrite
	}

	if err := tmpfile.Chmod(perm); err != nil {
		return err
	}

	if err := tmpfile.Sync(); err != nil {
		return err
	}

	if err := tmpfile.Close(); err != nil {
		return err
	}

	// Unlike os.Rename, os.Link fails when the target exists.
	if err := os.Link(tmpname, filename); err != nil {
		return err
	}

	return syncDir(dir)
}

func syncDir(dir string) error {
	if dir == "" {
		dir = "."
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Sync()
}
