package processor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/nci/s2dash/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGradientRGBAPalette(t *testing.T) {
	black := color.RGBA{0, 0, 0, 255}
	white := color.RGBA{255, 255, 255, 255}

	ramp, err := GradientRGBAPalette(&utils.Palette{Interpolate: true, Colours: []color.RGBA{black, white}})
	require.NoError(t, err)
	require.Len(t, ramp, 256)
	assert.InDelta(t, 0, int(ramp[0].R), 1)
	assert.Equal(t, white, ramp[255])
	for i := 1; i < 256; i++ {
		assert.GreaterOrEqual(t, ramp[i].R, ramp[i-1].R)
	}

	ramp, err = GradientRGBAPalette(&utils.Palette{Colours: []color.RGBA{black, white}})
	require.NoError(t, err)
	assert.Equal(t, black, ramp[127])
	assert.Equal(t, white, ramp[128])

	_, err = GradientRGBAPalette(&utils.Palette{Colours: []color.RGBA{black}})
	assert.Error(t, err)
	_, err = GradientRGBAPalette(nil)
	assert.Error(t, err)
}

func TestCompositePNG(t *testing.T) {
	scene := twoPixelScene()
	scene.Mask = byteRaster("mask", 2, 0, 1)
	opts := defaultOpts
	opts.MaskClouds = true

	c, err := ComposeRGB(scene, utils.TrueColor, opts)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodeCompositePNG(&buf, c))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 1), img.Bounds())

	_, _, _, a := img.At(1, 0).RGBA()
	assert.Equal(t, uint32(0), a)
	_, _, _, a = img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), a)

	buf.Reset()
	require.NoError(t, EncodeCompositeJPEG(&buf, c, color.White, 0))
	_, err = jpeg.Decode(&buf)
	require.NoError(t, err)
}

func TestIndexImage(t *testing.T) {
	palette := utils.BuiltinColourMaps["Greys"]
	ramp, err := GradientRGBAPalette(palette)
	require.NoError(t, err)

	r := indexOf([]float64{-1, 0, 1, math.NaN()}, []bool{true, true, true, false})
	img, err := IndexImage(r, palette)
	require.NoError(t, err)

	assert.Equal(t, color.NRGBA{ramp[0].R, ramp[0].G, ramp[0].B, 255}, img.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{ramp[255].R, ramp[255].G, ramp[255].B, 255}, img.NRGBAAt(2, 0))
	assert.Equal(t, uint8(0), img.NRGBAAt(3, 0).A)

	var buf bytes.Buffer
	require.NoError(t, EncodeIndexPNG(&buf, r, palette))
	assert.ErrorIs(t, EncodeIndexPNG(&buf, nil, palette), ErrNoIndex)
}

func TestHistogramChart(t *testing.T) {
	h, err := ComputeHistogram(indexOf([]float64{1, 2, 2, 3, 4}, nil), 3)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodeHistogramChart(&buf, h, 300, 200))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 300, 200), img.Bounds())

	buf.Reset()
	require.NoError(t, EncodeHistogramChart(&buf, &Histogram{Name: "NDVI"}, 0, 0))
	img, err = png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, DefaultChartWidth, DefaultChartHeight), img.Bounds())

	assert.Equal(t, "Histogram of NDWI values", HistogramTitle("NDWI"))
}
