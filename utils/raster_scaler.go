package utils

import (
	"fmt"
)

// DefaultQuantificationValue is the Sentinel-2 L1C/L2A reflectance
// quantification value: DN / 10000 gives reflectance.
const DefaultQuantificationValue = 1e4

type RescaleParams struct {
	QuantificationValue float64
}

func (p RescaleParams) quantification() float64 {
	if p.QuantificationValue <= 0 {
		return DefaultQuantificationValue
	}
	return p.QuantificationValue
}

// toByte maps a reflectance DN onto the display range. Values outside
// [0, 255] are clipped, fractional values truncated.
func toByte(value, quant float64) uint8 {
	v := value / quant * 255
	if v != v || v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func rescale(r Raster, params RescaleParams) (*ByteRaster, error) {
	quant := params.quantification()

	switch t := r.(type) {
	case *ByteRaster:
		out := &ByteRaster{NoData: t.NoData, Data: make([]uint8, t.Height*t.Width), Width: t.Width, Height: t.Height, NameSpace: t.NameSpace}
		for i, value := range t.Data {
			out.Data[i] = toByte(float64(value), quant)
		}
		return out, nil

	case *Int16Raster:
		out := &ByteRaster{NoData: t.NoData, Data: make([]uint8, t.Height*t.Width), Width: t.Width, Height: t.Height, NameSpace: t.NameSpace}
		for i, value := range t.Data {
			out.Data[i] = toByte(float64(value), quant)
		}
		return out, nil

	case *UInt16Raster:
		out := &ByteRaster{NoData: t.NoData, Data: make([]uint8, t.Height*t.Width), Width: t.Width, Height: t.Height, NameSpace: t.NameSpace}
		for i, value := range t.Data {
			out.Data[i] = toByte(float64(value), quant)
		}
		return out, nil

	case *Float32Raster:
		out := &ByteRaster{NoData: t.NoData, Data: make([]uint8, t.Height*t.Width), Width: t.Width, Height: t.Height, NameSpace: t.NameSpace}
		for i, value := range t.Data {
			out.Data[i] = toByte(float64(value), quant)
		}
		return out, nil

	default:
		return &ByteRaster{}, fmt.Errorf("Raster type not implemented")
	}
}

// RescaleToUint8 converts scaled digital numbers to reflectance and
// then to the 8 bit display range: DN / q * 255, clipped to [0, 255].
func RescaleToUint8(r Raster, params RescaleParams) (*ByteRaster, error) {
	if r == nil {
		return &ByteRaster{}, fmt.Errorf("nil raster")
	}
	if !WellFormed(r) {
		w, h := r.Dims()
		return &ByteRaster{}, fmt.Errorf("raster holds %d samples, want %dx%d", SampleCount(r), w, h)
	}
	return rescale(r, params)
}

func Rescale(rs []Raster, params RescaleParams) ([]*ByteRaster, error) {
	out := make([]*ByteRaster, len(rs))

	for i, r := range rs {
		br, err := RescaleToUint8(r, params)
		if err != nil {
			return out, err
		}
		out[i] = br
	}

	return out, nil
}
