package io

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// artifactPerm is the mode of every written artifact
const artifactPerm = 0644

// writeAtomic streams into a temp file next to path and renames it into place,
// so readers never observe a partially written artifact.
func writeAtomic(path string, fill func(w *bufio.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = tmp.Chmod(artifactPerm); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}

	w := bufio.NewWriter(tmp)
	if err = fill(w); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// WriteJSONAtomic writes v as indented JSON
func WriteJSONAtomic(path string, v any) error {
	return writeAtomic(path, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		return nil
	})
}

// WriteJSONLAtomic writes n records, one JSON object per line. record(i)
// returns the i-th value.
func WriteJSONLAtomic(path string, n int, record func(i int) any) error {
	return writeAtomic(path, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		for i := 0; i < n; i++ {
			if err := enc.Encode(record(i)); err != nil {
				return fmt.Errorf("encode line %d of %s: %w", i, path, err)
			}
		}
		return nil
	})
}

// WriteFileAtomic writes raw bytes
func WriteFileAtomic(path string, data []byte) error {
	return writeAtomic(path, func(w *bufio.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
