//go:build !unix

package archive

import (
	"errors"
	"os"
)

const canShareMappedData = false

func mmapFile(f *os.File, size int64) ([]byte, error) {
	return nil, errors.New("memory mapping is not supported on this platform")
}

func munmapFile(data []byte) error { return nil }
