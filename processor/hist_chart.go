package processor

import (
	"fmt"
	"io"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
	"gonum.org/v1/gonum/floats"
)

const (
	DefaultChartWidth  = 480
	DefaultChartHeight = 320
	chartMargin        = 40
)

// HistogramTitle is the chart title for a histogram of name.
func HistogramTitle(name string) string {
	return fmt.Sprintf("Histogram of %s values", name)
}

// DrawHistogram renders h as a bar chart.
func DrawHistogram(h *Histogram, width, height int) *gg.Context {
	if width <= 2*chartMargin {
		width = DefaultChartWidth
	}
	if height <= 2*chartMargin {
		height = DefaultChartHeight
	}

	dc := gg.NewContext(width, height)
	dc.SetFontFace(basicfont.Face7x13)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(HistogramTitle(h.Name), float64(width)/2, chartMargin/2, 0.5, 0.5)

	left, top := float64(chartMargin), float64(chartMargin)
	plotW := float64(width - 2*chartMargin)
	plotH := float64(height - 2*chartMargin)
	bottom := top + plotH

	if h.Empty() {
		dc.DrawStringAnchored("no valid pixels", float64(width)/2, float64(height)/2, 0.5, 0.5)
		return dc
	}

	maxFreq := floats.Max(h.Frequencies)
	barW := plotW / float64(len(h.Frequencies))

	dc.SetRGB255(70, 130, 180)
	for i, f := range h.Frequencies {
		if maxFreq == 0 || f == 0 {
			continue
		}
		barH := f / maxFreq * plotH
		dc.DrawRectangle(left+float64(i)*barW, bottom-barH, barW-1, barH)
	}
	dc.Fill()

	dc.SetRGB(0, 0, 0)
	dc.SetLineWidth(1)
	dc.DrawLine(left, bottom, left+plotW, bottom)
	dc.DrawLine(left, top, left, bottom)
	dc.Stroke()

	dc.DrawStringAnchored(fmt.Sprintf("%.3g", h.Edges[0]), left, bottom+12, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.3g", h.Edges[len(h.Edges)-1]), left+plotW, bottom+12, 0.5, 0.5)
	dc.DrawStringAnchored(fmt.Sprintf("%.0f", maxFreq), left-4, top, 1, 0.5)
	return dc
}

// EncodeHistogramChart writes the bar chart of h as PNG.
func EncodeHistogramChart(w io.Writer, h *Histogram, width, height int) error {
	if h == nil {
		return ErrNoIndex
	}
	return DrawHistogram(h, width, height).EncodePNG(w)
}
