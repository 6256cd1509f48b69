package utils

import (
	"fmt"
)

// Raster is a single band of samples laid out row major,
// Width samples per row.
type Raster interface {
	GetNoData() float64
	Dims() (width, height int)
}

type ByteRaster struct {
	Data          []uint8
	Height, Width int
	NoData        float64
	NameSpace     string
}

func (r *ByteRaster) GetNoData() float64 {
	return r.NoData
}

func (r *ByteRaster) Dims() (int, int) {
	return r.Width, r.Height
}

// Copy returns a deep copy of the raster so that pipeline stages
// never mutate their input.
func (r *ByteRaster) Copy() *ByteRaster {
	out := &ByteRaster{Data: make([]uint8, len(r.Data)), Height: r.Height, Width: r.Width, NoData: r.NoData, NameSpace: r.NameSpace}
	copy(out.Data, r.Data)
	return out
}

type Int16Raster struct {
	Data          []int16
	Height, Width int
	NoData        float64
	NameSpace     string
}

func (r *Int16Raster) GetNoData() float64 {
	return r.NoData
}

func (r *Int16Raster) Dims() (int, int) {
	return r.Width, r.Height
}

type UInt16Raster struct {
	Data          []uint16
	Height, Width int
	NoData        float64
	NameSpace     string
}

func (r *UInt16Raster) GetNoData() float64 {
	return r.NoData
}

func (r *UInt16Raster) Dims() (int, int) {
	return r.Width, r.Height
}

type Float32Raster struct {
	Data          []float32
	Height, Width int
	NoData        float64
	NameSpace     string
}

func (r *Float32Raster) GetNoData() float64 {
	return r.NoData
}

func (r *Float32Raster) Dims() (int, int) {
	return r.Width, r.Height
}

// ToFloat64 promotes the samples of any supported raster type to float64.
func ToFloat64(r Raster) ([]float64, error) {
	switch t := r.(type) {
	case *ByteRaster:
		out := make([]float64, len(t.Data))
		for i, v := range t.Data {
			out[i] = float64(v)
		}
		return out, nil
	case *Int16Raster:
		out := make([]float64, len(t.Data))
		for i, v := range t.Data {
			out[i] = float64(v)
		}
		return out, nil
	case *UInt16Raster:
		out := make([]float64, len(t.Data))
		for i, v := range t.Data {
			out[i] = float64(v)
		}
		return out, nil
	case *Float32Raster:
		out := make([]float64, len(t.Data))
		for i, v := range t.Data {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("Raster type %T not implemented", r)
	}
}

// SameShape reports whether all rasters share the same width and height.
func SameShape(rs ...Raster) bool {
	if len(rs) == 0 {
		return true
	}
	w0, h0 := rs[0].Dims()
	for _, r := range rs[1:] {
		w, h := r.Dims()
		if w != w0 || h != h0 {
			return false
		}
	}
	return true
}

// SampleCount is the length of the raster's data slice, -1 for
// unknown raster types.
func SampleCount(r Raster) int {
	switch t := r.(type) {
	case *ByteRaster:
		return len(t.Data)
	case *Int16Raster:
		return len(t.Data)
	case *UInt16Raster:
		return len(t.Data)
	case *Float32Raster:
		return len(t.Data)
	default:
		return -1
	}
}

// WellFormed reports whether every raster holds exactly Width*Height
// samples.
func WellFormed(rs ...Raster) bool {
	for _, r := range rs {
		w, h := r.Dims()
		if SampleCount(r) != w*h {
			return false
		}
	}
	return true
}
