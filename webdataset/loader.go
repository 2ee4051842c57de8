// Package webdataset loads training samples out of sharded tar archives
// paired with sidecar index files.
//
// An index file describes the byte layout of every sample packed into its
// archive, so the loader never scans the archives themselves: it parses the
// indexes once, resolves which archive components feed which declared
// outputs, and then serves samples by seeking straight to the recorded byte
// ranges. Delivery is either zero-copy (views into memory-mapped archives)
// or copying, decided once per loader.
//
// Multiple workers can iterate the same archives in parallel: each worker
// owns an independent Loader configured with its (ShardID, NumShards) pair
// and deterministically walks its own contiguous slice of the global sample
// table. Workers never coordinate at runtime.
package webdataset

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/Noofbiz/tarBowl/archive"
)

// missingExtBehavior says what to do with a sample that has no component for
// one or more declared outputs.
type missingExtBehavior int

const (
	// missingExtEmpty keeps the sample and serves zero-length outputs for
	// the missing components. The default.
	missingExtEmpty missingExtBehavior = iota
	// missingExtSkip drops the sample.
	missingExtSkip
	// missingExtRaise fails the whole load.
	missingExtRaise
	// missingExtInvalid marks an unparseable configuration string. It is
	// rejected by New and never reaches the loader.
	missingExtInvalid
)

// parseMissingExtBehavior maps the configuration string onto a behavior.
// Matching is case-insensitive; the empty string means Empty.
func parseMissingExtBehavior(s string) missingExtBehavior {
	switch strings.ToLower(s) {
	case "", "empty":
		return missingExtEmpty
	case "skip":
		return missingExtSkip
	case "error":
		return missingExtRaise
	default:
		return missingExtInvalid
	}
}

// Config declares a loader. Paths and IndexPaths pair up one to one;
// Extensions declares the outputs.
type Config struct {
	// Paths lists the archive shard files to read.
	Paths []string

	// IndexPaths lists the sidecar index files, one per archive.
	IndexPaths []string

	// Extensions declares one output per entry. Each entry is a
	// ";"-separated group of extensions the output accepts, e.g. "jpg;jpeg".
	Extensions []string

	// DTypes optionally sets the element type of each output. When nil,
	// every output defaults to Uint8. Length must match Extensions.
	DTypes []DType

	// MissingComponentBehavior says what to do with samples missing a
	// component for some output: "" or "empty", "skip", or "error".
	MissingComponentBehavior string

	// ShardID and NumShards select this worker's slice of the global sample
	// table. NumShards of 0 means a single worker.
	ShardID   int
	NumShards int

	// DontUseMmap forces the copying read path even where memory mapping is
	// available.
	DontUseMmap bool

	// ShouldSkip, when non-nil, is consulted with a sample component's
	// source descriptor before its bytes are read; returning true marks the
	// bound outputs as skipped and resizes them to zero length instead of
	// reading. Used to fast-forward past already-processed samples.
	ShouldSkip func(sourceInfo string) bool
}

// Loader serves samples from a set of webdataset shards. Construct with New,
// then call PrepareMetadata once before reading. A Loader is not safe for
// concurrent use; run one Loader per worker.
type Loader struct {
	paths      []string
	indexPaths []string
	exts       []map[string]bool
	dtypes     []DType
	missing    missingExtBehavior
	shardID    int
	numShards  int
	dontMmap   bool
	shouldSkip func(string) bool

	shards       []*archive.Shard
	copyReadData bool
	prepared     bool

	// Flat append-only tables shared by all samples via ranges.
	samples        []SampleDesc
	components     []ComponentDesc
	emptyOutputs   []int
	outputBindings []int

	sampleIndex int

	// dupWarning fires at most once per loader lifetime, however many
	// duplicate extension matches resolution encounters.
	dupWarning sync.Once
}

// New validates the configuration and builds an unprepared loader.
func New(cfg Config) (*Loader, error) {
	if len(cfg.Paths) != len(cfg.IndexPaths) {
		return nil, fmt.Errorf("number of webdataset archives does not match the number of index files")
	}
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("no webdataset archives provided")
	}
	missing := parseMissingExtBehavior(cfg.MissingComponentBehavior)
	if missing == missingExtInvalid {
		return nil, fmt.Errorf("invalid value for missing_component_behavior %q, possible values are: skip, error, empty",
			cfg.MissingComponentBehavior)
	}
	if len(cfg.Extensions) == 0 {
		return nil, fmt.Errorf("no output extensions provided")
	}

	// Split the extension groups on the delimiter, dropping duplicates
	// within a group.
	exts := make([]map[string]bool, 0, len(cfg.Extensions))
	for _, group := range cfg.Extensions {
		set := make(map[string]bool)
		for _, ext := range strings.Split(group, extDelim) {
			set[ext] = true
		}
		exts = append(exts, set)
	}

	dtypes := cfg.DTypes
	if dtypes == nil {
		dtypes = make([]DType, len(exts))
		for i := range dtypes {
			dtypes[i] = Uint8
		}
	}
	for _, dtype := range dtypes {
		if dtype.Size() == 0 {
			return nil, fmt.Errorf("unsupported output dtype %s, supported types are: %s",
				dtype, supportedDTypesList())
		}
	}
	if len(exts) != len(dtypes) {
		return nil, fmt.Errorf("number of extensions does not match the number of provided types")
	}

	numShards := cfg.NumShards
	if numShards == 0 {
		numShards = 1
	}
	if numShards < 0 || cfg.ShardID < 0 || cfg.ShardID >= numShards {
		return nil, fmt.Errorf("shard id %d is not in range [0, %d)", cfg.ShardID, numShards)
	}

	return &Loader{
		paths:      cfg.Paths,
		indexPaths: cfg.IndexPaths,
		exts:       exts,
		dtypes:     dtypes,
		missing:    missing,
		shardID:    cfg.ShardID,
		numShards:  numShards,
		dontMmap:   cfg.DontUseMmap,
		shouldSkip: cfg.ShouldSkip,
	}, nil
}

// startIndex computes a worker's starting cursor into a table of the given
// size, partitioning the table contiguously across workers.
func startIndex(shardID, numShards, size int) int {
	return shardID * size / numShards
}

// shardStart and shardEnd bound this worker's slice of the sample table.
func (l *Loader) shardStart() int { return startIndex(l.shardID, l.numShards, len(l.samples)) }
func (l *Loader) shardEnd() int   { return startIndex(l.shardID+1, l.numShards, len(l.samples)) }

// PrepareMetadata opens every archive shard, parses every index file and
// resolves components against the declared outputs, building the final
// sample table. It must be called exactly once before ReadSample.
func (l *Loader) PrepareMetadata() error {
	if l.prepared {
		return fmt.Errorf("loader metadata already prepared")
	}
	l.copyReadData = l.dontMmap || !archive.CanShareMappedData()

	// Open all the archives, releasing the ones already opened if any one
	// of them fails.
	l.shards = make([]*archive.Shard, 0, len(l.paths))
	for _, path := range l.paths {
		shard, err := archive.Open(path, !l.copyReadData)
		if err != nil {
			l.Close()
			return err
		}
		l.shards = append(l.shards, shard)
	}

	// Map from extension to the outputs accepting it.
	extMap := make(map[string][]int)
	for output, set := range l.exts {
		for ext := range set {
			extMap[ext] = append(extMap[ext], output)
		}
	}

	wasOutputSet := make([]bool, len(l.exts))
	for shardIndex := range l.indexPaths {
		samples, components, err := ParseIndexFile(l.indexPaths[shardIndex])
		if err != nil {
			l.Close()
			return err
		}
		for _, sample := range samples {
			if err := l.resolveSample(sample, components, shardIndex, extMap, wasOutputSet); err != nil {
				l.Close()
				return err
			}
		}
	}

	l.sampleIndex = l.shardStart()
	l.prepared = true
	return nil
}

// resolveSample binds one parsed sample's components to outputs, commits the
// retained component descriptors into the loader tables and applies the
// missing-component behavior if the sample ends up under-full. wasOutputSet
// is scratch space, handed in already false and left false on return.
func (l *Loader) resolveSample(sample SampleDesc, parsed []ComponentDesc, shardIndex int,
	extMap map[string][]int, wasOutputSet []bool) error {

	indexPath := l.indexPaths[shardIndex]
	newSample := SampleDesc{
		components:   tableRange{start: len(l.components)},
		emptyOutputs: tableRange{start: len(l.emptyOutputs)},
		shardIndex:   shardIndex,
		lineNumber:   sample.lineNumber,
	}
	startBindings := len(l.outputBindings)

	for ci := sample.components.start; ci < sample.components.end(); ci++ {
		component := parsed[ci]
		component.outputs = tableRange{start: len(l.outputBindings)}
		for _, output := range extMap[component.Ext] {
			if !wasOutputSet[output] {
				if component.Size%int64(l.dtypes[output].Size()) != 0 {
					return fmt.Errorf("error in index file at %q line %d - component size and dtype incompatible",
						indexPath, sample.lineNumber)
				}
				l.outputBindings = append(l.outputBindings, output)
				component.outputs.num++
				wasOutputSet[output] = true
			} else {
				l.dupWarning.Do(func() {
					log.Printf("warning: multiple components matching output %d at line %d file %q",
						output, sample.lineNumber, indexPath)
				})
			}
		}
		// Components that feed no output are dropped entirely.
		if component.outputs.num > 0 {
			l.components = append(l.components, component)
			newSample.components.num++
		}
	}

	retained := true
	if boundOutputs := len(l.outputBindings) - startBindings; boundOutputs < len(l.exts) {
		switch l.missing {
		case missingExtEmpty:
			for output := range l.exts {
				if !wasOutputSet[output] {
					l.emptyOutputs = append(l.emptyOutputs, output)
					newSample.emptyOutputs.num++
				}
			}
		case missingExtSkip:
			// Roll back everything this sample appended.
			l.components = l.components[:newSample.components.start]
			l.outputBindings = l.outputBindings[:startBindings]
			retained = false
		case missingExtRaise:
			return fmt.Errorf("underful sample detected at %q line %d", indexPath, sample.lineNumber)
		}
	}
	if retained {
		l.samples = append(l.samples, newSample)
	}
	for i := range wasOutputSet {
		wasOutputSet[i] = false
	}
	return nil
}

// Len returns the number of retained samples across all shards.
func (l *Loader) Len() int { return len(l.samples) }

// NumOutputs returns the number of declared outputs per sample.
func (l *Loader) NumOutputs() int { return len(l.exts) }

// NewSample allocates an output set sized for this loader, with each
// output's dtype pre-assigned. The same set can be reused across ReadSample
// calls.
func (l *Loader) NewSample() []*Output {
	sample := make([]*Output, len(l.exts))
	for i := range sample {
		sample[i] = &Output{dtype: l.dtypes[i]}
	}
	return sample
}

// Reset rewinds the cursor: back to this worker's partition start when
// wrapToShard is true, or to the absolute start of the sample table for
// full-dataset passes.
func (l *Loader) Reset(wrapToShard bool) {
	if wrapToShard {
		l.sampleIndex = l.shardStart()
	} else {
		l.sampleIndex = 0
	}
}

// Close releases every archive shard. The first error encountered wins.
func (l *Loader) Close() error {
	var err error
	for _, shard := range l.shards {
		if cerr := shard.Close(); err == nil {
			err = cerr
		}
	}
	l.shards = nil
	return err
}
