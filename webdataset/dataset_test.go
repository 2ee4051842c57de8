package webdataset

import (
	"bytes"
	"testing"
)

func TestOutputResizeAndShare(t *testing.T) {
	var o Output
	o.Resize(4, Int32)
	if o.Len() != 4 || o.DType() != Int32 || len(o.Bytes()) != 16 {
		t.Fatalf("unexpected output after Resize: len=%d dtype=%s bytes=%d",
			o.Len(), o.DType(), len(o.Bytes()))
	}
	if o.Shared() {
		t.Fatalf("resized output should own its buffer")
	}

	view := seq(1, 8)
	o.ShareData(view, Uint16)
	if !o.Shared() || o.Len() != 4 || !bytes.Equal(o.Bytes(), view) {
		t.Fatalf("unexpected output after ShareData: shared=%v len=%d", o.Shared(), o.Len())
	}

	// Resizing away from a shared buffer must not scribble over it.
	o.Resize(8, Uint8)
	o.Bytes()[0] = 0xFF
	if view[0] != 1 {
		t.Fatalf("Resize after ShareData mutated the shared buffer")
	}

	o.SetSourceInfo("somewhere")
	o.Reset()
	if o.SourceInfo() != "" || o.Skipped() || o.Bytes() != nil {
		t.Fatalf("Reset did not clear the output")
	}
}

func TestOutputTensor(t *testing.T) {
	var o Output
	o.Resize(3, Uint8)
	copy(o.Bytes(), []byte{7, 8, 9})
	tensor, err := o.Tensor()
	if err != nil {
		t.Fatalf("Tensor failed for uint8: %v", err)
	}
	if tensor == nil {
		t.Fatalf("Tensor returned nil for uint8")
	}

	// Little-endian int32 read-back.
	o.Resize(2, Int32)
	copy(o.Bytes(), []byte{1, 0, 0, 0, 0xFE, 0xFF, 0xFF, 0xFF})
	tensor, err = o.Tensor()
	if err != nil {
		t.Fatalf("Tensor failed for int32: %v", err)
	}
	if tensor == nil {
		t.Fatalf("Tensor returned nil for int32")
	}

	// Zero-length outputs convert too, keeping their declared dtype.
	o.Resize(0, Float32)
	tensor, err = o.Tensor()
	if err != nil {
		t.Fatalf("Tensor failed for empty float32: %v", err)
	}
	if tensor == nil {
		t.Fatalf("Tensor returned nil for empty float32")
	}
}

func TestDatasetYieldEmptyOutput(t *testing.T) {
	tmp := t.TempDir()
	tar, idx := writeShard(t, tmp, "shard", [][]fixtureComponent{
		{{"jpg", seq(1, 64)}},
	})

	// The cls output has no component; under the default policy it is served
	// empty and Yield must still convert it.
	loader := prepareLoader(t, Config{
		Paths:       []string{tar},
		IndexPaths:  []string{idx},
		Extensions:  []string{"jpg", "cls"},
		DontUseMmap: true,
	})
	ds := NewDataset(loader)

	_, inputs, _, err := ds.Yield()
	if err != nil {
		t.Fatalf("Yield failed: %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("Yield returned %d inputs, want 2", len(inputs))
	}
	if inputs[1] == nil {
		t.Fatalf("Yield returned nil tensor for the empty output")
	}
}

func TestDatasetYieldAndRestart(t *testing.T) {
	tmp := t.TempDir()
	img1, img2 := seq(1, 64), seq(101, 64)
	tar, idx := writeShard(t, tmp, "shard", [][]fixtureComponent{
		{{"jpg", img1}, {"cls", seq(9, 4)}},
		{{"jpg", img2}, {"cls", seq(13, 4)}},
	})

	loader := prepareLoader(t, Config{
		Paths:       []string{tar},
		IndexPaths:  []string{idx},
		Extensions:  []string{"jpg", "cls"},
		DontUseMmap: true,
	})
	ds := NewDataset(loader)

	if ds.Name() == "" {
		t.Fatalf("dataset has no name")
	}

	for i := 0; i < loader.Len(); i++ {
		spec, inputs, labels, err := ds.Yield()
		if err != nil {
			t.Fatalf("Yield %d failed: %v", i, err)
		}
		if spec != nil || labels != nil {
			t.Fatalf("Yield %d returned unexpected spec or labels", i)
		}
		if len(inputs) != 2 {
			t.Fatalf("Yield %d returned %d inputs, want 2", i, len(inputs))
		}
		for j, in := range inputs {
			if in == nil {
				t.Fatalf("Yield %d returned nil tensor for output %d", i, j)
			}
		}
	}

	if err := ds.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	sample := loader.NewSample()
	if err := loader.ReadSample(sample); err != nil {
		t.Fatalf("ReadSample after Restart failed: %v", err)
	}
	if !bytes.Equal(sample[0].Bytes(), img1) {
		t.Fatalf("Restart did not rewind to the partition start")
	}
}
