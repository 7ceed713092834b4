// Package grid decodes, caches and samples per-month climate grids.
//
// A grid file holds a 20-byte little-endian header followed by
// latCount*lonCount uint16 samples in row-major order (row = latitude index):
//
//	offset 0  u16  latCount
//	offset 2  u16  lonCount
//	offset 4  f32  lat0
//	offset 8  f32  latStep
//	offset 12 f32  lon0
//	offset 16 f32  lonStep
//	offset 20 ...  samples
//
// The sample 0xFFFF marks a cell without data.
package grid

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the fixed size of a grid file header in bytes.
const HeaderSize = 20

// Sentinel is the encoded value reserved for "no data".
const Sentinel uint16 = 0xFFFF

// Layer names a physical quantity with its own set of monthly grids.
type Layer string

const (
	LayerUV   Layer = "uv"
	LayerTemp Layer = "temp"
)

// ErrInvalidMonth is returned for a month outside 1..12.
var ErrInvalidMonth = errors.New("month out of range (1-12)")

// DecodeError reports a malformed or truncated grid buffer.
type DecodeError struct {
	Layer  Layer
	Month  int
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Layer == "" {
		return "grid decode: " + e.Reason
	}
	return fmt.Sprintf("grid decode %s_%d: %s", e.Layer, e.Month, e.Reason)
}

// Header describes a regular lat/lon sampling of a scalar field.
type Header struct {
	LatCount uint16  `json:"lat_count"`
	LonCount uint16  `json:"lon_count"`
	Lat0     float32 `json:"lat0"`
	LatStep  float32 `json:"lat_step"`
	Lon0     float32 `json:"lon0"`
	LonStep  float32 `json:"lon_step"`
}

// Cells returns the number of samples the header describes.
func (h Header) Cells() int {
	return int(h.LatCount) * int(h.LonCount)
}

// MonthGrid is one decoded (layer, month) grid. It is never mutated after Decode.
type MonthGrid struct {
	Header Header
	Data   []uint16
}

// At returns the raw sample at (row, col).
func (g *MonthGrid) At(row, col int) uint16 {
	return g.Data[row*int(g.Header.LonCount)+col]
}

// Values decodes every sample to physical units. No-data cells become NaN.
func (g *MonthGrid) Values(scale, offset float64) []float64 {
	out := make([]float64, len(g.Data))
	for i, raw := range g.Data {
		out[i] = DecodeValue(raw, scale, offset)
	}
	return out
}

// DecodeValue converts an encoded sample to physical units (raw/scale - offset).
// The sentinel and a non-positive scale both yield NaN.
func DecodeValue(raw uint16, scale, offset float64) float64 {
	if raw == Sentinel || scale <= 0 {
		return math.NaN()
	}
	return float64(raw)/scale - offset
}

// ParseHeader reads the fixed header at the start of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, &DecodeError{Reason: fmt.Sprintf("buffer too short for header: %d bytes", len(buf))}
	}
	le := binary.LittleEndian
	h := Header{
		LatCount: le.Uint16(buf[0:2]),
		LonCount: le.Uint16(buf[2:4]),
		Lat0:     math.Float32frombits(le.Uint32(buf[4:8])),
		LatStep:  math.Float32frombits(le.Uint32(buf[8:12])),
		Lon0:     math.Float32frombits(le.Uint32(buf[12:16])),
		LonStep:  math.Float32frombits(le.Uint32(buf[16:20])),
	}
	if h.LatCount == 0 || h.LonCount == 0 {
		return Header{}, &DecodeError{Reason: fmt.Sprintf("empty grid dimensions %dx%d", h.LatCount, h.LonCount)}
	}
	return h, nil
}

// Decode parses a complete grid buffer. The payload must be exactly
// latCount*lonCount*2 bytes.
func Decode(buf []byte) (*MonthGrid, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}

	payload := buf[HeaderSize:]
	want := h.Cells() * 2
	if len(payload) != want {
		return nil, &DecodeError{Reason: fmt.Sprintf("payload is %d bytes, expected %d (%dx%d)", len(payload), want, h.LatCount, h.LonCount)}
	}

	data := make([]uint16, h.Cells())
	for i := range data {
		data[i] = binary.LittleEndian.Uint16(payload[i*2:])
	}
	return &MonthGrid{Header: h, Data: data}, nil
}

// Encode serializes a header and its samples in the grid file format.
func Encode(h Header, samples []uint16) []byte {
	buf := make([]byte, HeaderSize+len(samples)*2)
	le := binary.LittleEndian
	le.PutUint16(buf[0:2], h.LatCount)
	le.PutUint16(buf[2:4], h.LonCount)
	le.PutUint32(buf[4:8], math.Float32bits(h.Lat0))
	le.PutUint32(buf[8:12], math.Float32bits(h.LatStep))
	le.PutUint32(buf[12:16], math.Float32bits(h.Lon0))
	le.PutUint32(buf[16:20], math.Float32bits(h.LonStep))
	for i, v := range samples {
		le.PutUint16(buf[HeaderSize+i*2:], v)
	}
	return buf
}

// EncodeValue is the inverse of DecodeValue: round((v+offset)*scale) clamped to
// [0, 0xFFFE]. NaN encodes to the sentinel.
func EncodeValue(v, scale, offset float64) uint16 {
	if math.IsNaN(v) {
		return Sentinel
	}
	e := math.Round((v + offset) * scale)
	if e < 0 {
		return 0
	}
	if e > float64(Sentinel-1) {
		return Sentinel - 1
	}
	return uint16(e)
}
