package webdataset

import (
	"fmt"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Dataset adapts a prepared Loader to the gomlx training-loop dataset
// protocol: each Yield serves the outputs of one sample as gomlx tensors.
// Labels are not separated out; all declared outputs are yielded as inputs
// and the model side decides what each one means.
type Dataset struct {
	loader *Loader
	sample []*Output
}

// NewDataset wraps a prepared loader. The wrapper owns a reusable output set,
// so tensors returned by Yield are copies safe to keep across calls.
func NewDataset(l *Loader) *Dataset {
	return &Dataset{loader: l, sample: l.NewSample()}
}

// Name identifies the dataset in training logs.
func (d *Dataset) Name() string {
	if len(d.loader.paths) == 1 {
		return "webdataset(" + filepath.Base(d.loader.paths[0]) + ")"
	}
	return fmt.Sprintf("webdataset(%d shards)", len(d.loader.paths))
}

// Yield reads the next sample and returns one 1D tensor per declared output.
func (d *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if err := d.loader.ReadSample(d.sample); err != nil {
		return nil, nil, nil, err
	}
	inputs = make([]*tensors.Tensor, len(d.sample))
	for i, output := range d.sample {
		inputs[i], err = output.Tensor()
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return nil, inputs, nil, nil
}

// Restart rewinds the loader to this worker's partition start for a new
// epoch.
func (d *Dataset) Restart() error {
	d.loader.Reset(true)
	return nil
}
