package ingest

import (
	"errors"
	"io/fs"
	"os"
)

func removeEmpty(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.Size() > 0 {
		return nil
	}
	return os.Remove(path)
}
