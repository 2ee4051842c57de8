package webdataset

import (
	"fmt"
)

// sourceInfo builds the descriptor naming where a component's bytes come
// from. It doubles as the skip-cache key.
func (l *Loader) sourceInfo(sample *SampleDesc, component *ComponentDesc) string {
	return fmt.Sprintf("archive %q index file %q line %d component offset %d",
		l.paths[sample.shardIndex], l.indexPaths[sample.shardIndex],
		sample.lineNumber, component.Offset)
}

// ReadSample fills the caller-supplied output set with the sample at the
// current cursor and advances the cursor, wrapping back to this worker's
// partition start after its last sample. The output set must come from
// NewSample (or match its length).
//
// Every output bound to the same component shares a single materialization
// of the underlying bytes: in copy mode one read fills the first output and
// the rest alias its buffer, in shared mode all of them alias the mapped
// archive pages.
func (l *Loader) ReadSample(sample []*Output) error {
	if !l.prepared {
		return fmt.Errorf("loader metadata not prepared")
	}
	if len(sample) != len(l.exts) {
		return fmt.Errorf("sample has %d outputs, loader declares %d", len(sample), len(l.exts))
	}
	if len(l.samples) == 0 {
		return fmt.Errorf("no samples to read (all samples skipped?)")
	}
	if l.shardStart() == l.shardEnd() {
		return fmt.Errorf("shard %d of %d has no samples (%d samples total)",
			l.shardID, l.numShards, len(l.samples))
	}
	if l.sampleIndex >= l.shardEnd() {
		l.sampleIndex = l.shardStart()
	}
	current := &l.samples[l.sampleIndex]
	shard := l.shards[current.shardIndex]
	indexPath := l.indexPaths[current.shardIndex]

	for ci := current.components.start; ci < current.components.end(); ci++ {
		component := &l.components[ci]

		// The index was generated from some version of the archive; make
		// sure this archive agrees before trusting the recorded range.
		if component.Offset >= shard.Size() {
			return indexErrf(indexPath, current.lineNumber, "offset is outside of the archive file")
		}
		if err := shard.Seek(component.Offset); err != nil {
			return err
		}

		info := l.sourceInfo(current, component)
		if l.shouldSkip != nil && l.shouldSkip(info) {
			for bi := component.outputs.start; bi < component.outputs.end(); bi++ {
				output := l.outputBindings[bi]
				sample[output].Reset()
				sample[output].SetSourceInfo(info)
				sample[output].skipped = true
				sample[output].Resize(0, l.dtypes[output])
			}
			continue
		}

		if l.copyReadData {
			if int64(int(component.Size)) != component.Size {
				return indexErrf(indexPath, current.lineNumber,
					"component size %d does not fit this platform's address space", component.Size)
			}
			var shared []byte
			for bi := component.outputs.start; bi < component.outputs.end(); bi++ {
				output := l.outputBindings[bi]
				sample[output].clearMeta()
				if shared == nil {
					if sample[output].Shared() {
						sample[output].Reset()
					}
					sample[output].Resize(int(component.Size)/l.dtypes[output].Size(), l.dtypes[output])
					shared = sample[output].Bytes()
				} else {
					sample[output].ShareData(shared, l.dtypes[output])
				}
			}
			if err := shard.Read(shared); err != nil {
				return fmt.Errorf("error reading from a file %s: %w", l.paths[current.shardIndex], err)
			}
		} else {
			view, err := shard.Get(component.Size)
			if err != nil {
				return fmt.Errorf("error reading from a file %s: %w", l.paths[current.shardIndex], err)
			}
			for bi := component.outputs.start; bi < component.outputs.end(); bi++ {
				output := l.outputBindings[bi]
				sample[output].clearMeta()
				sample[output].SetSourceInfo(info)
				sample[output].ShareData(view, l.dtypes[output])
			}
		}
	}

	// Outputs with no matching component read back as explicitly empty.
	for ei := current.emptyOutputs.start; ei < current.emptyOutputs.end(); ei++ {
		output := l.emptyOutputs[ei]
		sample[output].Reset()
		sample[output].Resize(0, l.dtypes[output])
	}

	l.sampleIndex++
	return nil
}
