package processor

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
)

const DefaultJPEGQuality = 90

// EncodeCompositeJPEG writes the composite as a JPEG. JPEG has no
// alpha channel, so excluded pixels are drawn in background.
func EncodeCompositeJPEG(w io.Writer, c *Composite, background color.Color, quality int) error {
	if c == nil {
		return fmt.Errorf("nil composite")
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	src := CompositeImage(c)
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, image.Point{}, draw.Over)

	return jpeg.Encode(w, dst, &jpeg.Options{Quality: quality})
}
