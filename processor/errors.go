package processor

import "errors"

// Configuration errors are returned before any pixel is touched.
var (
	ErrUnknownBand        = errors.New("unknown band")
	ErrUnknownCombination = errors.New("unknown band combination")
	ErrUnknownIndex       = errors.New("unknown spectral index")
	ErrShapeMismatch      = errors.New("raster shape mismatch")
	ErrInvalidBins        = errors.New("histogram bins must be positive")
	ErrUnknownTime        = errors.New("unknown time")
)

// ErrNoIndex is returned when a histogram is requested before the
// session computed any spectral index.
var ErrNoIndex = errors.New("no spectral index computed yet")
