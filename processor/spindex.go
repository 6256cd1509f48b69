package processor

import (
	"fmt"
	"math"
	"time"

	"github.com/nci/s2dash/utils"
)

// IndexRaster is a spectral index computed for one acquisition.
// Samples with Valid false are excluded from display and statistics;
// they hold NaN for a zero denominator or non-finite input, or the
// mask sentinel for masked pixels.
type IndexRaster struct {
	Name          string
	FullName      string
	ColourMap     string
	TimeStamp     time.Time
	Data          []float64
	Valid         []bool
	Height, Width int
}

// ValueAt returns the index value at (x, y). ok is false for excluded
// pixels and coordinates off the raster.
func (r *IndexRaster) ValueAt(x, y int) (float64, bool) {
	if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
		return 0, false
	}
	i := y*r.Width + x
	if !r.Valid[i] {
		return 0, false
	}
	return r.Data[i], true
}

// ValidValues returns the non-excluded samples in raster order.
func (r *IndexRaster) ValidValues() []float64 {
	values := make([]float64, 0, len(r.Data))
	for i, v := range r.Data {
		if r.Valid[i] && !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	return values
}

// Range returns the min and max over valid samples. ok is false when
// every sample is excluded.
func (r *IndexRaster) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i, v := range r.Data {
		if !r.Valid[i] || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		ok = true
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, ok
}

// NormalizedDifference is (b0 - b1) / (b0 + b1). ok is false when the
// denominator is zero or the result is not finite.
func NormalizedDifference(b0, b1 float64) (float64, bool) {
	den := b0 + b1
	if den == 0 {
		return math.NaN(), false
	}
	v := (b0 - b1) / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN(), false
	}
	return v, true
}

// MaskedIndexValue is written over masked samples.
const MaskedIndexValue = 255

// ComputeIndex evaluates the spectral index idx over the scene bands
// and stores the result as the session's last computed index. With
// maskClouds set, pixels flagged in the scene mask are overwritten
// with MaskedIndexValue and excluded.
func ComputeIndex(sess *Session, scene *utils.Scene, idx utils.SpectralIndex, maskClouds bool) (*IndexRaster, error) {
	bands, err := selectBands(scene, idx.Band0, idx.Band1)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", idx.Name, err)
	}

	b0, err := utils.ToFloat64(bands[0])
	if err != nil {
		return nil, err
	}
	b1, err := utils.ToFloat64(bands[1])
	if err != nil {
		return nil, err
	}

	width, height := bands[0].Dims()
	out := &IndexRaster{
		Name:      idx.Name,
		FullName:  idx.FullName,
		ColourMap: idx.ColourMap,
		TimeStamp: scene.TimeStamp,
		Data:      make([]float64, len(b0)),
		Valid:     make([]bool, len(b0)),
		Height:    height,
		Width:     width,
	}

	for i := range b0 {
		var v float64
		ok := true
		if idx.Compiled != nil {
			v, err = utils.EvalBandExpression(idx.Compiled, b0[i], b1[i])
			if err != nil {
				return nil, fmt.Errorf("index %s: %v", idx.Name, err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v, ok = math.NaN(), false
			}
		} else {
			v, ok = NormalizedDifference(b0[i], b1[i])
		}
		out.Data[i] = v
		out.Valid[i] = ok
	}

	if maskClouds && scene.Mask != nil {
		for i, m := range scene.Mask.Data {
			if m != 0 {
				out.Data[i] = MaskedIndexValue
				out.Valid[i] = false
			}
		}
	}

	if sess != nil {
		sess.SetLastIndex(out)
	}
	return out, nil
}
