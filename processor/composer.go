package processor

import (
	"fmt"

	"github.com/nci/s2dash/utils"
)

type ComposeOptions struct {
	Rescale    utils.RescaleParams
	MaskClouds bool
	Sentinel   uint8
}

// Composite is the red, green and blue channels of one band
// combination, ready for RGB rendering.
type Composite struct {
	Name          string
	Label         string
	Red           *Channel
	Green         *Channel
	Blue          *Channel
	Height, Width int
}

func (c *Composite) Channels() []*Channel {
	return []*Channel{c.Red, c.Green, c.Blue}
}

// ValidAt reports whether pixel i is valid in all three channels.
func (c *Composite) ValidAt(i int) bool {
	return c.Red.Valid[i] && c.Green.Valid[i] && c.Blue.Valid[i]
}

// ValueAt returns the display colour at (x, y). ok is false for
// excluded pixels and coordinates off the raster.
func (c *Composite) ValueAt(x, y int) (rgb [3]uint8, ok bool) {
	if x < 0 || y < 0 || x >= c.Width || y >= c.Height {
		return rgb, false
	}
	i := y*c.Width + x
	if !c.ValidAt(i) {
		return rgb, false
	}
	return [3]uint8{c.Red.Data[i], c.Green.Data[i], c.Blue.Data[i]}, true
}

// selectBands looks up the named bands of the scene and checks they
// share one shape.
func selectBands(scene *utils.Scene, names ...string) ([]utils.Raster, error) {
	bands := make([]utils.Raster, len(names))
	for i, name := range names {
		band, ok := scene.Band(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBand, name)
		}
		bands[i] = band
	}
	if !utils.SameShape(bands...) || !utils.WellFormed(bands...) {
		return nil, fmt.Errorf("bands %v: %w", names, ErrShapeMismatch)
	}
	if scene.Mask != nil && len(bands) > 0 && (!utils.SameShape(bands[0], scene.Mask) || !utils.WellFormed(scene.Mask)) {
		return nil, fmt.Errorf("mask of %v: %w", names, ErrShapeMismatch)
	}
	return bands, nil
}

// ComposeRGB rescales the three bands of combo to bytes, stretches
// them with one shared percentile pair and optionally applies the
// scene cloud mask to each channel.
func ComposeRGB(scene *utils.Scene, combo utils.BandCombination, opts ComposeOptions) (*Composite, error) {
	if len(combo.Bands) != 3 {
		return nil, fmt.Errorf("%w: %s needs 3 bands, has %d", ErrUnknownCombination, combo.Name, len(combo.Bands))
	}

	bands, err := selectBands(scene, combo.Bands...)
	if err != nil {
		return nil, err
	}

	scaled, err := utils.Rescale(bands, opts.Rescale)
	if err != nil {
		return nil, err
	}

	stretched, err := ContrastStretch(scaled...)
	if err != nil {
		return nil, err
	}

	var mask *utils.ByteRaster
	if opts.MaskClouds {
		mask = scene.Mask
	}

	channels := make([]*Channel, 3)
	for i, r := range stretched {
		channels[i], err = ApplyCloudMask(r, mask, opts.Sentinel)
		if err != nil {
			return nil, err
		}
	}

	width, height := bands[0].Dims()
	return &Composite{
		Name:   combo.Name,
		Label:  combo.Label(),
		Red:    channels[0],
		Green:  channels[1],
		Blue:   channels[2],
		Width:  width,
		Height: height,
	}, nil
}
