// Package netcdf writes a gridded dataset as a classic-format (CDF-1) NetCDF
// file. The classic format is the widest-compatibility on-disk layout: a
// big-endian header describing dimensions, attributes, and variables,
// followed by fixed-size variable data and then interleaved records along the
// unlimited time dimension.
//
// The writer produces one fixed shape: "time" is the unlimited record
// dimension, "station" a fixed dimension, each measurement variable a double
// array over (time, station) with a NaN fill value, and station ids plus any
// extra per-station attributes stored as fixed-width char arrays. CDF-1
// addresses variable starts with 32-bit offsets; datasets whose layout would
// overflow them are rejected with ErrTooLarge.
package netcdf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/obsgrid/internal/domain"
)

// ErrTooLarge reports a grid whose variable offsets exceed the 32-bit begin
// fields of the classic format.
var ErrTooLarge = errors.New("grid exceeds classic NetCDF (CDF-1) offset limits")

const (
	magic = "CDF\x01"

	tagDimension = 0x0A
	tagVariable  = 0x0B
	tagAttribute = 0x0C

	typeChar   = 2
	typeDouble = 6

	maxOffset = math.MaxInt32
)

const timeUnits = "seconds since 1970-01-01 00:00:00 UTC"

// Meta carries the global attributes stamped on every file. The run id is
// not part of Meta: it changes per run and is passed to Encode.
type Meta struct {
	Title      string
	Network    string
	Resolution string
}

// Encoder writes grids as classic NetCDF files.
type Encoder struct {
	meta Meta
}

// NewEncoder creates an encoder that stamps meta into every file's global
// attributes.
func NewEncoder(meta Meta) *Encoder {
	return &Encoder{meta: meta}
}

// Encode writes g to path, atomically via a .tmp intermediate file. The grid
// must have at least one station: the classic format has no zero-length fixed
// dimensions.
func (e *Encoder) Encode(path string, g domain.Grid, runID string) error {
	if len(g.Stations) == 0 {
		return errors.New("grid has no stations")
	}

	data, err := buildFile(e.meta, g, runID)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

type ncDim struct {
	name string
	size int // 0 marks the record dimension
}

type ncAttr struct {
	name    string
	nctype  int
	text    string
	doubles []float64
}

type ncVar struct {
	name   string
	dimIDs []int
	attrs  []ncAttr
	nctype int
	record bool

	vsize int64
	begin int64
	fixed []byte // encoded payload, non-record variables only
}

func buildFile(meta Meta, g domain.Grid, runID string) ([]byte, error) {
	stations := g.Stations
	times := g.Times

	attrNames := make([]string, 0, len(g.Attrs))
	for name := range g.Attrs {
		attrNames = append(attrNames, name)
	}
	sort.Strings(attrNames)

	used := map[string]bool{"time": true, "station": true, "latitude": true, "longitude": true}
	claim := func(name string) error {
		if used[name] {
			return fmt.Errorf("variable name %q collides with a coordinate or another variable", name)
		}
		used[name] = true
		return nil
	}

	dims := []ncDim{
		{name: "time", size: 0},
		{name: "station", size: len(stations)},
		{name: "station_strlen", size: charWidth(stations)},
	}
	const (
		dimTime    = 0
		dimStation = 1
		dimStrlen  = 2
	)

	vars := []ncVar{
		{
			name:   "time",
			dimIDs: []int{dimTime},
			nctype: typeDouble,
			record: true,
			vsize:  8,
			attrs: []ncAttr{
				{name: "units", nctype: typeChar, text: timeUnits},
				{name: "calendar", nctype: typeChar, text: "standard"},
			},
		},
		{
			name:   "station",
			dimIDs: []int{dimStation, dimStrlen},
			nctype: typeChar,
			fixed:  charPayload(stations, dims[dimStrlen].size),
		},
		{
			name:   "latitude",
			dimIDs: []int{dimStation},
			nctype: typeDouble,
			fixed:  doublePayload(g.Latitude),
			attrs:  []ncAttr{{name: "units", nctype: typeChar, text: "degrees_north"}},
		},
		{
			name:   "longitude",
			dimIDs: []int{dimStation},
			nctype: typeDouble,
			fixed:  doublePayload(g.Longitude),
			attrs:  []ncAttr{{name: "units", nctype: typeChar, text: "degrees_east"}},
		},
	}

	for _, name := range attrNames {
		varName := strings.ReplaceAll(name, "/", "|")
		if err := claim(varName); err != nil {
			return nil, err
		}
		cells := g.Attrs[name]
		dims = append(dims, ncDim{name: varName + "_strlen", size: charWidth(cells)})
		vars = append(vars, ncVar{
			name:   varName,
			dimIDs: []int{dimStation, len(dims) - 1},
			nctype: typeChar,
			fixed:  charPayload(cells, dims[len(dims)-1].size),
		})
	}

	for _, name := range g.Variables {
		if err := claim(name); err != nil {
			return nil, err
		}
		vars = append(vars, ncVar{
			name:   name,
			dimIDs: []int{dimTime, dimStation},
			nctype: typeDouble,
			record: true,
			vsize:  int64(len(stations)) * 8,
			attrs:  []ncAttr{{name: "_FillValue", nctype: typeDouble, doubles: []float64{math.NaN()}}},
		})
	}

	for i := range vars {
		if !vars[i].record {
			vars[i].vsize = pad4(int64(len(vars[i].fixed)))
		}
	}

	gatts := []ncAttr{
		{name: "title", nctype: typeChar, text: meta.Title},
		{name: "network", nctype: typeChar, text: meta.Network},
		{name: "resolution", nctype: typeChar, text: meta.Resolution},
		{name: "run_id", nctype: typeChar, text: runID},
		{name: "created", nctype: typeChar, text: domain.Now().Format(time.RFC3339)},
	}

	// First pass sizes the header so variable begin offsets can be assigned;
	// the second pass serializes with the real values.
	headerLen := int64(len(encodeHeader(dims, gatts, vars, len(times))))

	offset := headerLen
	for i := range vars {
		if vars[i].record {
			continue
		}
		vars[i].begin = offset
		offset += vars[i].vsize
	}
	recordStart := offset
	recOffset := recordStart
	for i := range vars {
		if !vars[i].record {
			continue
		}
		vars[i].begin = recOffset
		recOffset += vars[i].vsize
	}
	recSize := recOffset - recordStart

	for i := range vars {
		if vars[i].begin > maxOffset || vars[i].vsize > maxOffset {
			return nil, fmt.Errorf("%w: variable %q begins at byte %d", ErrTooLarge, vars[i].name, vars[i].begin)
		}
	}

	out := bytes.NewBuffer(make([]byte, 0, recordStart+recSize*int64(len(times))))
	out.Write(encodeHeader(dims, gatts, vars, len(times)))
	for _, v := range vars {
		if v.record {
			continue
		}
		out.Write(v.fixed)
		padBuffer(out)
	}
	writeRecords(out, g)

	return out.Bytes(), nil
}

// writeRecords appends the record section: for each time step, the time value
// followed by every variable's station row, in header order.
func writeRecords(out *bytes.Buffer, g domain.Grid) {
	for ti, t := range g.Times {
		writeF64(out, float64(t.Unix()))
		for _, name := range g.Variables {
			row := g.Values[name][ti]
			for _, v := range row {
				writeF64(out, v)
			}
		}
	}
}

func encodeHeader(dims []ncDim, gatts []ncAttr, vars []ncVar, numrecs int) []byte {
	var b bytes.Buffer

	b.WriteString(magic)
	writeU32(&b, uint32(numrecs))

	writeU32(&b, tagDimension)
	writeU32(&b, uint32(len(dims)))
	for _, d := range dims {
		writeName(&b, d.name)
		writeU32(&b, uint32(d.size))
	}

	writeAttrList(&b, gatts)

	writeU32(&b, tagVariable)
	writeU32(&b, uint32(len(vars)))
	for _, v := range vars {
		writeName(&b, v.name)
		writeU32(&b, uint32(len(v.dimIDs)))
		for _, id := range v.dimIDs {
			writeU32(&b, uint32(id))
		}
		writeAttrList(&b, v.attrs)
		writeU32(&b, uint32(v.nctype))
		writeU32(&b, uint32(v.vsize))
		writeU32(&b, uint32(v.begin))
	}

	return b.Bytes()
}

func writeAttrList(b *bytes.Buffer, attrs []ncAttr) {
	if len(attrs) == 0 {
		writeU32(b, 0)
		writeU32(b, 0)
		return
	}
	writeU32(b, tagAttribute)
	writeU32(b, uint32(len(attrs)))
	for _, a := range attrs {
		writeName(b, a.name)
		writeU32(b, uint32(a.nctype))
		switch a.nctype {
		case typeChar:
			writeU32(b, uint32(len(a.text)))
			b.WriteString(a.text)
			padBuffer(b)
		case typeDouble:
			writeU32(b, uint32(len(a.doubles)))
			for _, v := range a.doubles {
				writeF64(b, v)
			}
		}
	}
}

func writeName(b *bytes.Buffer, s string) {
	writeU32(b, uint32(len(s)))
	b.WriteString(s)
	padBuffer(b)
}

func writeU32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}

func writeF64(b *bytes.Buffer, v float64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	b.Write(buf[:])
}

func padBuffer(b *bytes.Buffer) {
	for b.Len()%4 != 0 {
		b.WriteByte(0)
	}
}

func pad4(n int64) int64 {
	if rem := n % 4; rem != 0 {
		return n + 4 - rem
	}
	return n
}

// charWidth is the fixed byte width of a char array column: the longest cell,
// never less than one since a zero-length fixed dimension is reserved for the
// record dimension.
func charWidth(cells []string) int {
	width := 1
	for _, c := range cells {
		if len(c) > width {
			width = len(c)
		}
	}
	return width
}

func charPayload(cells []string, width int) []byte {
	out := make([]byte, 0, len(cells)*width)
	for _, c := range cells {
		out = append(out, c...)
		for i := len(c); i < width; i++ {
			out = append(out, 0)
		}
	}
	return out
}

func doublePayload(values []float64) []byte {
	var b bytes.Buffer
	for _, v := range values {
		writeF64(&b, v)
	}
	return b.Bytes()
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
