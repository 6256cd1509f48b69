package utils

import (
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// BuiltinColourMaps are the ColorBrewer ramps referenced by the
// default spectral indices, by their usual plotting names.
var BuiltinColourMaps = map[string]*Palette{
	"RdYlGn":  hexPalette("#a50026", "#d73027", "#f46d43", "#fdae61", "#fee08b", "#ffffbf", "#d9ef8b", "#a6d96a", "#66bd63", "#1a9850", "#006837"),
	"RdYlBu":  hexPalette("#a50026", "#d73027", "#f46d43", "#fdae61", "#fee090", "#ffffbf", "#e0f3f8", "#abd9e9", "#74add1", "#4575b4", "#313695"),
	"Greys":   hexPalette("#ffffff", "#f0f0f0", "#d9d9d9", "#bdbdbd", "#969696", "#737373", "#525252", "#252525", "#000000"),
	"Blues":   hexPalette("#f7fbff", "#deebf7", "#c6dbef", "#9ecae1", "#6baed6", "#4292c6", "#2171b5", "#08519c", "#08306b"),
	"Viridis": hexPalette("#440154", "#482878", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"),
}

func hexPalette(hexes ...string) *Palette {
	p := &Palette{Interpolate: true}
	for _, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			panic(err)
		}
		r, g, b := c.RGB255()
		p.Colours = append(p.Colours, color.RGBA{R: r, G: g, B: b, A: 255})
	}
	return p
}
