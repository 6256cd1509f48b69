package processor

import (
	"fmt"
	"math"
	"sort"

	"github.com/nci/s2dash/utils"
)

// Percentiles of the joint sample mapped to the ends of the byte range.
const (
	StretchLow  = 2.5
	StretchHigh = 97.5
)

// Percentile returns the p-th percentile (0 <= p <= 100) of the sorted
// sample, interpolating linearly between the two closest ranks.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	h := float64(n-1) * p / 100
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// StretchRange is the joint [low, high] percentile pair of the input
// rasters.
func StretchRange(rs ...*utils.ByteRaster) (float64, float64) {
	size := 0
	for _, r := range rs {
		size += len(r.Data)
	}
	sample := make([]float64, 0, size)
	for _, r := range rs {
		for _, v := range r.Data {
			sample = append(sample, float64(v))
		}
	}
	sort.Float64s(sample)
	return Percentile(sample, StretchLow), Percentile(sample, StretchHigh)
}

// ContrastStretch rescales the rasters jointly so that the 2.5th
// percentile of all their pixels maps to 0 and the 97.5th to 255,
// clipping outside that range. A flat input, where both percentiles
// coincide, comes out as the flat level.
func ContrastStretch(rs ...*utils.ByteRaster) ([]*utils.ByteRaster, error) {
	if len(rs) == 0 {
		return nil, nil
	}
	rasters := make([]utils.Raster, len(rs))
	for i, r := range rs {
		if r == nil {
			return nil, fmt.Errorf("contrast stretch: nil raster at %d", i)
		}
		rasters[i] = r
	}
	if !utils.SameShape(rasters...) {
		return nil, fmt.Errorf("contrast stretch: %w", ErrShapeMismatch)
	}

	lo, hi := StretchRange(rs...)

	out := make([]*utils.ByteRaster, len(rs))
	for i, r := range rs {
		dst := r.Copy()
		for j, v := range r.Data {
			dst.Data[j] = stretchValue(float64(v), lo, hi)
		}
		out[i] = dst
	}
	return out, nil
}

func stretchValue(v, lo, hi float64) uint8 {
	if hi <= lo {
		return uint8(lo)
	}
	if v <= lo {
		return 0
	}
	if v >= hi {
		return 255
	}
	return uint8((v - lo) * 255 / (hi - lo))
}
