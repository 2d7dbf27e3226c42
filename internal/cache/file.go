package cache

import (
	"crypto/md5" //nolint:gosec // filename hashing, not security
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// File permissions: tokens are credentials, so files are owner-only and
// the directory is created 0700 on first write.
const (
	fileMode os.FileMode = 0o600
	dirMode  os.FileMode = 0o700
)

// accountHash returns the deterministic per-account filename component.
func accountHash(email string) string {
	sum := md5.Sum([]byte(email)) //nolint:gosec // filename hashing, not security
	return hex.EncodeToString(sum[:])
}

// ensureDir creates the cache directory with restricted permissions.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheDirUnavailable, err)
	}
	return nil
}

// writeFileAtomic replaces path with data using a rename-over pattern:
// write a temp file in the same directory, fsync-free rename over the
// target. Readers either see the old content or the new, never a blend.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := ensureDir(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheDirUnavailable, err)
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename over %s: %w", filepath.Base(path), err)
	}
	return nil
}
