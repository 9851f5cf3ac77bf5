package netcdf

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"
)

// Dim is one dimension from a file header. Size zero marks the unlimited
// record dimension.
type Dim struct {
	Name string
	Size int
}

// Var is one decoded variable. Doubles holds numeric payloads flattened in
// record-major order; Chars holds one NUL-trimmed string per outer index of a
// char array.
type Var struct {
	Name   string
	Dims   []string
	Attrs  map[string]any
	Type   int
	Record bool

	Doubles []float64
	Chars   []string

	begin int64
	vsize int64
}

// File is a fully decoded classic-format NetCDF file.
type File struct {
	NumRecs int
	Dims    []Dim
	Attrs   map[string]any
	Vars    map[string]*Var
}

// Dim returns a dimension by name.
func (f *File) Dim(name string) (Dim, bool) {
	for _, d := range f.Dims {
		if d.Name == name {
			return d, true
		}
	}
	return Dim{}, false
}

// ReadFile decodes path. It understands exactly the subset of the classic
// format the encoder emits: double and char variables, double and char
// attributes.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode decodes a classic-format file held in memory.
func Decode(data []byte) (*File, error) {
	r := &reader{data: data}

	if got := string(r.bytes(4)); r.err == nil && got != magic {
		return nil, fmt.Errorf("not a classic NetCDF file (magic %q)", got)
	}

	f := &File{
		NumRecs: int(r.u32()),
		Vars:    map[string]*Var{},
	}

	tag, count := r.u32(), r.u32()
	if tag != tagDimension && count != 0 {
		return nil, fmt.Errorf("malformed dimension list (tag %#x)", tag)
	}
	for i := 0; i < int(count); i++ {
		f.Dims = append(f.Dims, Dim{Name: r.name(), Size: int(r.u32())})
	}

	f.Attrs = r.attrList()

	tag, count = r.u32(), r.u32()
	if tag != tagVariable && count != 0 {
		return nil, fmt.Errorf("malformed variable list (tag %#x)", tag)
	}
	var order []*Var
	for i := 0; i < int(count); i++ {
		v := &Var{Name: r.name()}
		rank := int(r.u32())
		for d := 0; d < rank; d++ {
			id := int(r.u32())
			if id < 0 || id >= len(f.Dims) {
				return nil, fmt.Errorf("variable %q references unknown dimension %d", v.Name, id)
			}
			v.Dims = append(v.Dims, f.Dims[id].Name)
			if f.Dims[id].Size == 0 {
				v.Record = true
			}
		}
		v.Attrs = r.attrList()
		v.Type = int(r.u32())
		v.vsize = int64(r.u32())
		v.begin = int64(r.u32())
		f.Vars[v.Name] = v
		order = append(order, v)
	}
	if r.err != nil {
		return nil, r.err
	}

	var recSize int64
	for _, v := range order {
		if v.Record {
			recSize += v.vsize
		}
	}

	for _, v := range order {
		if err := r.decodePayload(f, v, recSize); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (r *reader) decodePayload(f *File, v *Var, recSize int64) error {
	sizes := make([]int, len(v.Dims))
	for i, name := range v.Dims {
		d, _ := f.Dim(name)
		sizes[i] = d.Size
	}

	switch {
	case v.Type == typeDouble && !v.Record:
		n := product(sizes)
		v.Doubles = r.doublesAt(v.begin, n)
	case v.Type == typeDouble && v.Record:
		slab := product(sizes[1:])
		v.Doubles = make([]float64, 0, slab*f.NumRecs)
		for rec := 0; rec < f.NumRecs; rec++ {
			v.Doubles = append(v.Doubles, r.doublesAt(v.begin+int64(rec)*recSize, slab)...)
		}
	case v.Type == typeChar && !v.Record:
		if len(sizes) == 0 {
			return fmt.Errorf("char variable %q has no width dimension", v.Name)
		}
		width := sizes[len(sizes)-1]
		rows := product(sizes[:len(sizes)-1])
		raw := r.bytesAt(v.begin, rows*width)
		v.Chars = make([]string, 0, rows)
		for i := 0; i < rows; i++ {
			cell := raw[i*width : (i+1)*width]
			v.Chars = append(v.Chars, strings.TrimRight(string(cell), "\x00"))
		}
	default:
		return fmt.Errorf("variable %q has unsupported type %d", v.Name, v.Type)
	}
	return r.err
}

func product(sizes []int) int {
	n := 1
	for _, s := range sizes {
		n *= s
	}
	return n
}

type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, args...)
	}
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.fail("truncated file at byte %d", r.off)
		return nil
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) bytesAt(begin int64, n int) []byte {
	if r.err != nil {
		return nil
	}
	end := begin + int64(n)
	if begin < 0 || end > int64(len(r.data)) {
		r.fail("payload at byte %d extends past end of file", begin)
		return nil
	}
	return r.data[begin:end]
}

func (r *reader) doublesAt(begin int64, n int) []float64 {
	raw := r.bytesAt(begin, n*8)
	if raw == nil {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:]))
	}
	return out
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) f64() float64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (r *reader) name() string {
	n := int(r.u32())
	s := string(r.bytes(n))
	r.pad()
	return s
}

func (r *reader) pad() {
	if rem := r.off % 4; rem != 0 {
		r.bytes(4 - rem)
	}
}

func (r *reader) attrList() map[string]any {
	tag, count := r.u32(), r.u32()
	if tag != tagAttribute && count != 0 {
		r.fail("malformed attribute list (tag %#x)", tag)
		return nil
	}
	attrs := make(map[string]any, count)
	for i := 0; i < int(count); i++ {
		name := r.name()
		nctype := r.u32()
		n := int(r.u32())
		switch nctype {
		case typeChar:
			attrs[name] = string(r.bytes(n))
			r.pad()
		case typeDouble:
			values := make([]float64, n)
			for j := range values {
				values[j] = r.f64()
			}
			attrs[name] = values
		default:
			r.fail("attribute %q has unsupported type %d", name, nctype)
			return attrs
		}
	}
	return attrs
}
