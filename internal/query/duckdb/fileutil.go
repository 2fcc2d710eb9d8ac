package duckdb

import (
	"errors"
	"io"
	"os"
)

// writeFile copies reader into a new file readable only by the process.
func writeFile(path string, reader io.Reader) (err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	_, err = io.Copy(file, reader)
	return err
}
