package webdataset

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// IndexVersion is the exact version signature expected on the first line
	// of an index file. Older or newer index files must be regenerated; there
	// is no compatibility shimming.
	IndexVersion = "v1.2"

	// BlockSize is the tar block size. Every component offset recorded in an
	// index file must be a multiple of it.
	BlockSize = 512

	// extDelim separates extensions inside one output group, e.g. "jpg;jpeg".
	extDelim = ";"
)

// indexErrf builds the single error format used for everything that goes
// wrong while reading an index file. Header errors use line 0; sample lines
// are numbered from 1.
func indexErrf(indexPath string, line int64, format string, args ...any) error {
	return fmt.Errorf("malformed index file at %q line %d - %s",
		indexPath, line, fmt.Sprintf(format, args...))
}

// tableRange is a (start, count) window into one of the loader's flat
// append-only tables. Samples reference their components and empty outputs
// through ranges instead of owning nested slices, which keeps the tables
// contiguous and makes dropping a sample a plain truncation.
type tableRange struct {
	start int
	num   int
}

func (r tableRange) end() int { return r.start + r.num }

// ComponentDesc describes one file packed inside an archive shard: its
// extension, where its bytes live, and (after resolution) which declared
// outputs it feeds.
type ComponentDesc struct {
	Ext    string
	Offset int64
	Size   int64

	// outputs is a range into the loader's output-binding table, filled in
	// during resolution. Unresolved components have an empty range.
	outputs tableRange
}

// SampleDesc is one logical training example: a range of components, a range
// of declared-empty outputs, the shard the bytes live in, and the index line
// the sample came from (for diagnostics).
type SampleDesc struct {
	components   tableRange
	emptyOutputs tableRange
	shardIndex   int
	lineNumber   int64
}

// NumComponents returns the number of components backing the sample.
func (s SampleDesc) NumComponents() int { return s.components.num }

// LineNumber returns the 1-based index-file line the sample was parsed from.
func (s SampleDesc) LineNumber() int64 { return s.lineNumber }

// parseSampleLine parses one index line worth of (ext, offset, size) triples,
// appending the components and the owning sample to the given tables.
func parseSampleLine(samples []SampleDesc, components []ComponentDesc,
	fields []string, indexPath string, line int64) ([]SampleDesc, []ComponentDesc, error) {

	sample := SampleDesc{
		components: tableRange{start: len(components)},
		lineNumber: line,
	}

	for i := 0; i < len(fields); i += 3 {
		if i+2 >= len(fields) {
			return nil, nil, indexErrf(indexPath, line,
				"size or offset corresponding to the extension not found")
		}
		offset, err := strconv.ParseInt(fields[i+1], 10, 64)
		if err != nil {
			return nil, nil, indexErrf(indexPath, line,
				"size or offset corresponding to the extension not found")
		}
		size, err := strconv.ParseInt(fields[i+2], 10, 64)
		if err != nil {
			return nil, nil, indexErrf(indexPath, line,
				"size or offset corresponding to the extension not found")
		}
		if offset < 0 || size < 0 {
			return nil, nil, indexErrf(indexPath, line,
				"offset and size of the component must be non-negative")
		}
		if offset%BlockSize != 0 {
			return nil, nil, indexErrf(indexPath, line,
				"tar offset is not a multiple of tar block size (%d), "+
					"perhaps the size value is exported before offset?", BlockSize)
		}
		components = append(components, ComponentDesc{
			Ext:    fields[i],
			Offset: offset,
			Size:   size,
		})
		sample.components.num++
	}

	if sample.components.num == 0 {
		return nil, nil, indexErrf(indexPath, line, "no extensions provided for the sample")
	}
	return append(samples, sample), components, nil
}

// ParseIndexFile reads one sidecar index file and returns the sample and
// component tables it describes. Samples reference their components by range
// into the returned component table; the outputs of every component are left
// unresolved.
func ParseIndexFile(indexPath string) ([]SampleDesc, []ComponentDesc, error) {
	file, err := os.Open(indexPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var header []string
	if scanner.Scan() {
		header = strings.Fields(scanner.Text())
	}
	if len(header) == 0 {
		return nil, nil, indexErrf(indexPath, 0, "no version signature found")
	}
	if header[0] != IndexVersion {
		return nil, nil, indexErrf(indexPath, 0,
			"the version of the index file does not match the expected version "+
				"(expected: %s actual: %s)", IndexVersion, header[0])
	}
	if len(header) < 2 {
		return nil, nil, indexErrf(indexPath, 0, "no sample count found")
	}
	sampleCount, err := strconv.ParseInt(header[1], 10, 64)
	if err != nil {
		return nil, nil, indexErrf(indexPath, 0, "no sample count found")
	}
	if sampleCount <= 0 {
		return nil, nil, indexErrf(indexPath, 0, "sample count must be positive")
	}

	samples := make([]SampleDesc, 0, sampleCount)
	var components []ComponentDesc
	for line := int64(1); line <= sampleCount; line++ {
		var fields []string
		if scanner.Scan() {
			fields = strings.Fields(scanner.Text())
		}
		samples, components, err = parseSampleLine(samples, components, fields, indexPath, line)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read index file %s: %w", indexPath, err)
	}
	return samples, components, nil
}
