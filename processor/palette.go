package processor

import (
	"fmt"
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/nci/s2dash/utils"
)

// InterpolateColor blends a and b in CIE L*a*b* at position i of
// sectionLength, returning an opaque colour.
func InterpolateColor(a, b color.RGBA, i, sectionLength int) color.RGBA {
	ca, _ := colorful.MakeColor(a)
	cb, _ := colorful.MakeColor(b)
	r, g, bl := ca.BlendLab(cb, float64(i)/float64(sectionLength)).Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: bl, A: 255}
}

// GradientRGBAPalette expands a palette into a 256 colour ramp,
// either interpolating between the palette colours or repeating each
// colour over an equal share of the ramp.
func GradientRGBAPalette(palette *utils.Palette) ([]color.RGBA, error) {
	if palette == nil {
		return nil, fmt.Errorf("nil palette")
	}
	if len(palette.Colours) < 2 {
		return nil, fmt.Errorf("The colour palette must contain at least 2 colours.")
	}

	ramp := make([]color.RGBA, 256)

	if palette.Interpolate {
		bins := len(palette.Colours) - 1
		sectionLength := 256 / bins
		bonus := 256 - (sectionLength * bins)
		bonusArr := make([]int, bins)
		for i := 0; i < bonus; i++ {
			bonusArr[i] = 1
		}

		index := 0
		for section, upperColour := range palette.Colours[1:] {
			length := sectionLength + bonusArr[section]
			for i := 0; i < length; i++ {
				ramp[index] = InterpolateColor(palette.Colours[section], upperColour, i, length)
				index++
			}
		}
		ramp[255] = palette.Colours[len(palette.Colours)-1]
	} else {
		bins := len(palette.Colours)
		sectionLength := 256 / bins
		bonus := 256 - (sectionLength * bins)
		bonusArr := make([]int, bins)
		for i := 0; i < bonus; i++ {
			bonusArr[i] = 1
		}

		index := 0
		for section, colour := range palette.Colours {
			for i := 0; i < sectionLength+bonusArr[section]; i++ {
				ramp[index] = colour
				index++
			}
		}
	}

	return ramp, nil
}
