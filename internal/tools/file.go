package tools

import (
	"errors"
	"io/fs"
	"os"
)

// FileExists reports whether filename exists. Stat errors other than not
// exist are treated as existing file so the caller gets a proper error on open.
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !errors.Is(err, fs.ErrNotExist)
}
