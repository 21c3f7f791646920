//go:build !unix

package archive

import "os"

// mapFile reads the entire file when mmap is not available
func mapFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}
