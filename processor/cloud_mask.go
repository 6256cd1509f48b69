package processor

import (
	"fmt"

	"github.com/nci/s2dash/utils"
)

// Channel is a display band paired with its validity mask. Excluded
// pixels hold the mask sentinel in Data and false in Valid, so a
// legitimate 255 is never mistaken for a masked pixel.
type Channel struct {
	*utils.ByteRaster
	Valid []bool
}

// NewChannel wraps a copy of r with every pixel valid. It is what
// skipping the cloud mask produces.
func NewChannel(r *utils.ByteRaster) *Channel {
	valid := make([]bool, len(r.Data))
	for i := range valid {
		valid[i] = true
	}
	return &Channel{ByteRaster: r.Copy(), Valid: valid}
}

// ValidCount returns the number of pixels not excluded.
func (c *Channel) ValidCount() int {
	n := 0
	for _, ok := range c.Valid {
		if ok {
			n++
		}
	}
	return n
}

// ApplyCloudMask writes sentinel wherever mask is non-zero and marks
// those pixels excluded. Other pixels keep their value. A nil mask
// leaves the raster untouched.
func ApplyCloudMask(r *utils.ByteRaster, mask *utils.ByteRaster, sentinel uint8) (*Channel, error) {
	if r == nil {
		return nil, fmt.Errorf("cloud mask: nil raster")
	}
	if mask == nil {
		return NewChannel(r), nil
	}
	if !utils.SameShape(r, mask) || len(mask.Data) != len(r.Data) {
		return nil, fmt.Errorf("cloud mask %dx%d over %s %dx%d: %w", mask.Width, mask.Height, r.NameSpace, r.Width, r.Height, ErrShapeMismatch)
	}

	ch := NewChannel(r)
	for i, m := range mask.Data {
		if m != 0 {
			ch.Data[i] = sentinel
			ch.Valid[i] = false
		}
	}
	return ch, nil
}
