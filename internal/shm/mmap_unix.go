package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// createBackingFile allocates a regular file of size bytes under dir and
// returns its path. The file itself is the segment's persistent identity;
// mmapBackingFile maps views of it on demand.
func createBackingFile(dir, name string, size int64) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("shm: create backing dir: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("shm: create backing file: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("shm: truncate backing file: %w", err)
	}
	return path, nil
}

// mmapBackingFile maps the full extent of the file at path into the calling
// process's address space with read/write access shared across mappers.
func mmapBackingFile(path string, size int64) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: open backing file: %w", err)
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap: %w", err)
	}
	return data, nil
}

// munmapBuffer unmaps a view previously returned by mmapBackingFile.
func munmapBuffer(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("shm: munmap: %w", err)
	}
	return nil
}

// removeBackingFile deletes a segment's backing file once no mapping
// references it.
func removeBackingFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shm: remove backing file: %w", err)
	}
	return nil
}
