package processor

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const DefaultHistogramBins = 20

// Histogram holds len(Frequencies)+1 bin edges. The last bin includes
// its upper edge.
type Histogram struct {
	Name        string    `json:"name"`
	Edges       []float64 `json:"edges"`
	Frequencies []float64 `json:"frequencies"`
}

// Empty reports whether every sample was excluded.
func (h *Histogram) Empty() bool {
	return len(h.Frequencies) == 0
}

// Total is the number of samples binned.
func (h *Histogram) Total() float64 {
	return floats.Sum(h.Frequencies)
}

// ComputeHistogram bins the valid samples of r into bins equal width
// buckets spanning their min and max. A constant sample spans
// [v-0.5, v+0.5].
func ComputeHistogram(r *IndexRaster, bins int) (*Histogram, error) {
	if bins <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBins, bins)
	}
	if r == nil {
		return nil, ErrNoIndex
	}

	values := r.ValidValues()
	h := &Histogram{Name: r.Name}
	if len(values) == 0 {
		return h, nil
	}
	sort.Float64s(values)

	lo, hi := values[0], values[len(values)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	h.Edges = floats.Span(make([]float64, bins+1), lo, hi)
	h.Edges[0], h.Edges[bins] = lo, hi

	dividers := make([]float64, len(h.Edges))
	copy(dividers, h.Edges)
	dividers[bins] = math.Nextafter(hi, math.Inf(1))

	h.Frequencies = stat.Histogram(nil, dividers, values, nil)
	return h, nil
}

// Histogram of the last index computed in the session.
func (s *Session) Histogram(bins int) (*Histogram, error) {
	return ComputeHistogram(s.LastIndex(), bins)
}
