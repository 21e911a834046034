// Package zip streams a set of readers into one zip archive without
// buffering whole files in memory.
package zip

import (
	stdzip "archive/zip"
	"fmt"
	"io"
)

// Entry is one file to include in the archive.
type Entry struct {
	Filename string
	Source   io.Reader
}

// Archive writes all entries to w as a zip archive. Entries are stored with
// deflate compression in the order given.
func Archive(w io.Writer, entries []Entry) error {
	zw := stdzip.NewWriter(w)
	for _, entry := range entries {
		fw, err := zw.Create(entry.Filename)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", entry.Filename, err)
		}
		if _, err := io.Copy(fw, entry.Source); err != nil {
			return fmt.Errorf("zip: write %s: %w", entry.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("zip: finalize: %w", err)
	}
	return nil
}
