// Package archive provides random access to webdataset tar shards.
//
// A Shard wraps one archive file and supports two access modes:
//
//   - plain file access, where Read copies bytes out of the file, and
//   - memory-mapped access, where Get hands out zero-copy views into the
//     mapped pages.
//
// The mapping is read-only and shared, so views stay valid for the lifetime
// of the Shard and may be handed to multiple consumers. Close releases the
// mapping together with the file descriptor.
package archive

import (
	"fmt"
	"io"
	"os"
)

// CanShareMappedData reports whether this platform supports handing out
// zero-copy views of memory-mapped shards. When false, callers must use the
// copying Read path.
func CanShareMappedData() bool {
	return canShareMappedData
}

// Shard is one open archive file with a seek position.
type Shard struct {
	path string
	file *os.File
	size int64
	pos  int64

	// data holds the mapped file contents, nil when not memory-mapped.
	data []byte
}

// Open opens the archive at path. When mapShared is true (and the file is
// non-empty) the file is memory-mapped so that Get can return zero-copy
// views.
func Open(path string, mapShared bool) (*Shard, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat archive %s: %w", path, err)
	}

	s := &Shard{
		path: path,
		file: file,
		size: info.Size(),
	}
	if mapShared && s.size > 0 {
		s.data, err = mmapFile(file, s.size)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to memory-map archive %s: %w", path, err)
		}
	}
	return s, nil
}

// Path returns the path the shard was opened from.
func (s *Shard) Path() string { return s.path }

// Size returns the archive size in bytes.
func (s *Shard) Size() int64 { return s.size }

// SharesData reports whether Get can return zero-copy views of this shard.
func (s *Shard) SharesData() bool { return s.data != nil }

// Seek positions the shard at the given byte offset.
func (s *Shard) Seek(offset int64) error {
	if offset < 0 || offset > s.size {
		return fmt.Errorf("seek offset %d outside of archive %s (size %d)", offset, s.path, s.size)
	}
	s.pos = offset
	return nil
}

// Read fills p with bytes starting at the current position and advances the
// position. A short read is an error.
func (s *Shard) Read(p []byte) error {
	if s.data != nil {
		if s.pos+int64(len(p)) > s.size {
			return fmt.Errorf("short read from archive %s: need %d bytes at offset %d, have %d",
				s.path, len(p), s.pos, s.size-s.pos)
		}
		copy(p, s.data[s.pos:])
		s.pos += int64(len(p))
		return nil
	}
	n, err := s.file.ReadAt(p, s.pos)
	s.pos += int64(n)
	if n < len(p) {
		if err == nil || err == io.EOF {
			return fmt.Errorf("short read from archive %s: need %d bytes, got %d", s.path, len(p), n)
		}
		return fmt.Errorf("failed to read archive %s: %w", s.path, err)
	}
	return nil
}

// Get returns a zero-copy view of n bytes at the current position and
// advances the position. The shard must have been opened with mapShared.
func (s *Shard) Get(n int64) ([]byte, error) {
	if s.data == nil {
		return nil, fmt.Errorf("archive %s is not memory-mapped", s.path)
	}
	if s.pos+n > s.size {
		return nil, fmt.Errorf("short read from archive %s: need %d bytes at offset %d, have %d",
			s.path, n, s.pos, s.size-s.pos)
	}
	view := s.data[s.pos : s.pos+n : s.pos+n]
	s.pos += n
	return view, nil
}

// Close unmaps and closes the shard.
func (s *Shard) Close() error {
	var err error
	if s.data != nil {
		err = munmapFile(s.data)
		s.data = nil
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}
