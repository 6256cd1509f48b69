package processor

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/nci/s2dash/utils"
)

// CompositeImage renders the composite as RGB with excluded pixels
// fully transparent.
func CompositeImage(c *Composite) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, c.Width, c.Height))
	for i := 0; i < c.Width*c.Height; i++ {
		if !c.ValidAt(i) {
			continue
		}
		start := i * 4
		dst.Pix[start] = c.Red.Data[i]
		dst.Pix[start+1] = c.Green.Data[i]
		dst.Pix[start+2] = c.Blue.Data[i]
		dst.Pix[start+3] = 0xff
	}
	return dst
}

// IndexImage colour maps the valid samples of r through the palette
// ramp, stretched over their own min and max. Excluded pixels are
// fully transparent.
func IndexImage(r *IndexRaster, palette *utils.Palette) (*image.NRGBA, error) {
	ramp, err := GradientRGBAPalette(palette)
	if err != nil {
		return nil, err
	}

	dst := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	lo, hi, ok := r.Range()
	if !ok {
		return dst, nil
	}

	for i, v := range r.Data {
		if !r.Valid[i] || math.IsNaN(v) {
			continue
		}
		dst.Pix[i*4], dst.Pix[i*4+1], dst.Pix[i*4+2], dst.Pix[i*4+3] = rampColour(ramp, v, lo, hi)
	}
	return dst, nil
}

func rampColour(ramp []color.RGBA, v, lo, hi float64) (uint8, uint8, uint8, uint8) {
	pos := 0
	if hi > lo {
		pos = int((v - lo) / (hi - lo) * float64(len(ramp)-1))
		if pos < 0 {
			pos = 0
		} else if pos >= len(ramp) {
			pos = len(ramp) - 1
		}
	}
	c := ramp[pos]
	return c.R, c.G, c.B, 0xff
}

func EncodeCompositePNG(w io.Writer, c *Composite) error {
	if c == nil {
		return fmt.Errorf("nil composite")
	}
	return png.Encode(w, CompositeImage(c))
}

func EncodeIndexPNG(w io.Writer, r *IndexRaster, palette *utils.Palette) error {
	if r == nil {
		return ErrNoIndex
	}
	img, err := IndexImage(r, palette)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}
