package webdataset

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// DType is the element type of an output buffer. Component bytes are opaque
// to the loader; the dtype only fixes the element size the raw bytes are
// sliced into (and the type read-back and tensor conversion use).
type DType int

// Supported output element types. Uint8 is the default when no dtypes are
// configured.
const (
	Uint8 DType = iota
	Int8
	Uint16
	Int16
	Int32
	Int64
	Float32
	Float64
)

var dtypeInfo = map[DType]struct {
	name string
	size int
}{
	Uint8:   {"uint8", 1},
	Int8:    {"int8", 1},
	Uint16:  {"uint16", 2},
	Int16:   {"int16", 2},
	Int32:   {"int32", 4},
	Int64:   {"int64", 8},
	Float32: {"float32", 4},
	Float64: {"float64", 8},
}

// Size returns the element size in bytes, or 0 for an unsupported dtype.
func (d DType) Size() int { return dtypeInfo[d].size }

func (d DType) String() string {
	if info, ok := dtypeInfo[d]; ok {
		return info.name
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// gomlxDType maps an output dtype onto its gomlx equivalent.
func (d DType) gomlxDType() dtypes.DType {
	switch d {
	case Uint8:
		return dtypes.Uint8
	case Int8:
		return dtypes.Int8
	case Uint16:
		return dtypes.Uint16
	case Int16:
		return dtypes.Int16
	case Int32:
		return dtypes.Int32
	case Int64:
		return dtypes.Int64
	case Float32:
		return dtypes.Float32
	case Float64:
		return dtypes.Float64
	default:
		return dtypes.InvalidDType
	}
}

// supportedDTypesList names every supported dtype for error messages.
func supportedDTypesList() string {
	names := make([]string, 0, len(dtypeInfo))
	for d := Uint8; d <= Float64; d++ {
		names = append(names, d.String())
	}
	return strings.Join(names, ", ")
}

// Output is one flat, typed output buffer of a sample. Its backing bytes are
// either owned (filled by a copying read) or shared (a zero-copy view into a
// memory-mapped archive, or into a sibling output fed by the same component).
type Output struct {
	dtype  DType
	data   []byte
	shared bool

	sourceInfo string
	skipped    bool
}

// Reset detaches the output from any shared buffer and clears its contents
// and metadata.
func (o *Output) Reset() {
	o.data = nil
	o.shared = false
	o.clearMeta()
}

// clearMeta drops skip/source metadata left over from a previous delivery.
func (o *Output) clearMeta() {
	o.sourceInfo = ""
	o.skipped = false
}

// Resize sets the output to hold n elements of the given dtype, allocating a
// fresh owned buffer unless the current owned one already has the capacity.
func (o *Output) Resize(n int, dtype DType) {
	byteLen := n * dtype.Size()
	if o.shared || cap(o.data) < byteLen {
		o.data = make([]byte, byteLen)
	} else {
		o.data = o.data[:byteLen]
	}
	o.shared = false
	o.dtype = dtype
}

// ShareData attaches the output to an existing byte buffer without copying.
// The element count is derived from the buffer length and the dtype size.
func (o *Output) ShareData(view []byte, dtype DType) {
	o.data = view
	o.shared = true
	o.dtype = dtype
}

// Len returns the number of elements held by the output.
func (o *Output) Len() int {
	if o.dtype.Size() == 0 {
		return 0
	}
	return len(o.data) / o.dtype.Size()
}

// DType returns the element type of the output.
func (o *Output) DType() DType { return o.dtype }

// Bytes returns the raw backing bytes. Callers must not mutate shared
// buffers.
func (o *Output) Bytes() []byte { return o.data }

// Shared reports whether the output aliases a buffer it does not own.
func (o *Output) Shared() bool { return o.shared }

// SetSourceInfo records the human-readable descriptor of where the bytes
// came from (archive, index file, line, offset).
func (o *Output) SetSourceInfo(info string) { o.sourceInfo = info }

// SourceInfo returns the source descriptor, if one was recorded.
func (o *Output) SourceInfo() string { return o.sourceInfo }

// Skipped reports whether the sample read was suppressed by the skip cache.
func (o *Output) Skipped() bool { return o.skipped }

// Tensor converts the output into a 1D gomlx tensor of its dtype. Multi-byte
// elements are decoded little-endian, matching how webdataset archives are
// packed.
func (o *Output) Tensor() (*tensors.Tensor, error) {
	if o.dtype.Size() == 0 {
		return nil, fmt.Errorf("unsupported output dtype %s", o.dtype)
	}
	n := o.Len()
	// FromAnyValue rejects empty slices; empty outputs (missing or skipped
	// components) become zero-length tensors of the declared dtype instead.
	if n == 0 {
		return tensors.FromShape(shapes.Make(o.dtype.gomlxDType(), 0)), nil
	}
	switch o.dtype {
	case Uint8:
		v := make([]uint8, n)
		copy(v, o.data)
		return tensors.FromAnyValue(v), nil
	case Int8:
		v := make([]int8, n)
		for i := range v {
			v[i] = int8(o.data[i])
		}
		return tensors.FromAnyValue(v), nil
	case Uint16:
		v := make([]uint16, n)
		for i := range v {
			v[i] = binary.LittleEndian.Uint16(o.data[i*2:])
		}
		return tensors.FromAnyValue(v), nil
	case Int16:
		v := make([]int16, n)
		for i := range v {
			v[i] = int16(binary.LittleEndian.Uint16(o.data[i*2:]))
		}
		return tensors.FromAnyValue(v), nil
	case Int32:
		v := make([]int32, n)
		for i := range v {
			v[i] = int32(binary.LittleEndian.Uint32(o.data[i*4:]))
		}
		return tensors.FromAnyValue(v), nil
	case Int64:
		v := make([]int64, n)
		for i := range v {
			v[i] = int64(binary.LittleEndian.Uint64(o.data[i*8:]))
		}
		return tensors.FromAnyValue(v), nil
	case Float32:
		v := make([]float32, n)
		for i := range v {
			v[i] = math.Float32frombits(binary.LittleEndian.Uint32(o.data[i*4:]))
		}
		return tensors.FromAnyValue(v), nil
	case Float64:
		v := make([]float64, n)
		for i := range v {
			v[i] = math.Float64frombits(binary.LittleEndian.Uint64(o.data[i*8:]))
		}
		return tensors.FromAnyValue(v), nil
	default:
		return nil, fmt.Errorf("unsupported output dtype %s", o.dtype)
	}
}
