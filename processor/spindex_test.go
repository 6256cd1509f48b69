package processor

import (
	"math"
	"testing"

	"github.com/nci/s2dash/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIndex = utils.SpectralIndex{Name: "TEST", FullName: "Test Index", Band0: "b0", Band1: "b1", ColourMap: "RdYlGn"}

func TestComputeIndexZeroDenominator(t *testing.T) {
	scene := sceneOf(int16Raster("b0", 2, 0, 10), int16Raster("b1", 2, 0, -10))

	r, err := ComputeIndex(nil, scene, testIndex, false)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false}, r.Valid)
	assert.True(t, math.IsNaN(r.Data[0]))
	assert.True(t, math.IsNaN(r.Data[1]))

	scene = sceneOf(int16Raster("b0", 2, 0, 10), int16Raster("b1", 2, 0, 10))
	r, err = ComputeIndex(nil, scene, testIndex, false)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, r.Valid)
	assert.Equal(t, 0.0, r.Data[1])
}

func TestComputeIndexNaNStaysLocal(t *testing.T) {
	scene := sceneOf(uint16Raster("b0", 3, 1, 0, 3), uint16Raster("b1", 3, 1, 0, 1))

	r, err := ComputeIndex(nil, scene, testIndex, false)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, r.Valid)
	assert.Equal(t, 0.0, r.Data[0])
	assert.Equal(t, 0.5, r.Data[2])

	v, ok := r.ValueAt(2, 0)
	assert.True(t, ok)
	assert.Equal(t, 0.5, v)
	_, ok = r.ValueAt(1, 0)
	assert.False(t, ok)
}

func TestComputeIndexNonFiniteInput(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	scene := sceneOf(float32Raster("b0", 4, nan, 0.6, inf, 0.3), float32Raster("b1", 4, 0.2, nan, 0.1, 0.1))

	r, err := ComputeIndex(nil, scene, testIndex, false)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, true}, r.Valid)
	assert.InDelta(t, 0.5, r.Data[3], 1e-6)

	for x := 0; x < 3; x++ {
		_, ok := r.ValueAt(x, 0)
		assert.False(t, ok, "x=%d", x)
	}
	assert.Len(t, r.ValidValues(), 1)

	v, ok := NormalizedDifference(math.NaN(), 0.2)
	assert.False(t, ok)
	assert.True(t, math.IsNaN(v))
}

func TestComputeIndexEqualBands(t *testing.T) {
	scene := sceneOf(uint16Raster("b0", 2, 5, 9, 300, 1), uint16Raster("b1", 2, 5, 9, 300, 1))

	r, err := ComputeIndex(nil, scene, testIndex, false)
	require.NoError(t, err)
	for i, v := range r.Data {
		assert.True(t, r.Valid[i])
		assert.Equal(t, 0.0, v)
	}
	assert.Equal(t, 2, r.Height)
}

func TestComputeIndexMasked(t *testing.T) {
	scene := sceneOf(uint16Raster("b0", 2, 13, 17), uint16Raster("b1", 2, 7, 3))
	scene.Mask = byteRaster("mask", 2, 0, 1)

	r, err := ComputeIndex(nil, scene, testIndex, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, r.Data[0], 1e-12)
	assert.InDelta(t, 0.7, r.Data[1], 1e-12)

	r, err = ComputeIndex(nil, scene, testIndex, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, r.Data[0], 1e-12)
	assert.Equal(t, float64(MaskedIndexValue), r.Data[1])
	assert.Equal(t, []bool{true, false}, r.Valid)

	h, err := ComputeHistogram(r, DefaultHistogramBins)
	require.NoError(t, err)
	assert.Equal(t, 1.0, h.Total())
	assert.InDelta(t, -0.2, h.Edges[0], 1e-12)
	assert.InDelta(t, 0.8, h.Edges[len(h.Edges)-1], 1e-12)
}

func TestComputeIndexExpression(t *testing.T) {
	expr, err := utils.ParseBandExpression("(b0 - b1) / (b0 + b1 + 0.5) * 1.5")
	require.NoError(t, err)
	idx := testIndex
	idx.Expression = "(b0 - b1) / (b0 + b1 + 0.5) * 1.5"
	idx.Compiled = expr

	scene := sceneOf(uint16Raster("b0", 2, 3, 0), uint16Raster("b1", 2, 1, 0))
	r, err := ComputeIndex(nil, scene, idx, false)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/4.5*1.5, r.Data[0], 1e-12)
	assert.Equal(t, 0.0, r.Data[1])
	assert.Equal(t, []bool{true, true}, r.Valid)
}

func TestComputeIndexSessionSlot(t *testing.T) {
	scene := twoPixelScene()
	config := utils.DefaultConfig()
	ndvi, _ := config.Index("NDVI")
	ndwi, _ := config.Index("NDWI")

	sess := NewSession("")
	other := NewSession("")
	assert.Nil(t, sess.LastIndex())

	_, err := ComputeIndex(sess, scene, *ndvi, false)
	require.NoError(t, err)
	assert.Equal(t, "NDVI", sess.LastIndex().Name)

	_, err = ComputeIndex(sess, scene, *ndwi, false)
	require.NoError(t, err)
	assert.Equal(t, "NDWI", sess.LastIndex().Name)
	assert.Nil(t, other.LastIndex())

	// a failed computation keeps the previous slot
	bad := *ndvi
	bad.Band0 = "B01"
	_, err = ComputeIndex(sess, scene, bad, false)
	assert.ErrorIs(t, err, ErrUnknownBand)
	assert.Equal(t, "NDWI", sess.LastIndex().Name)
}

func TestIndexRange(t *testing.T) {
	r := &IndexRaster{
		Data:  []float64{math.NaN(), -0.5, 0.25, 255},
		Valid: []bool{false, true, true, false},
		Width: 4, Height: 1,
	}
	lo, hi, ok := r.Range()
	assert.True(t, ok)
	assert.Equal(t, -0.5, lo)
	assert.Equal(t, 0.25, hi)
	assert.Equal(t, []float64{-0.5, 0.25}, r.ValidValues())

	r.Valid = []bool{false, false, false, false}
	_, _, ok = r.Range()
	assert.False(t, ok)
}
