package processor

import (
	"errors"
	"fmt"
	"time"

	"github.com/nci/s2dash/utils"
)

// Selections are the user's current choices. An Index selects the
// spectral index view; otherwise Combination selects the composite
// view. An empty Time means the latest acquisition.
type Selections struct {
	Time        string `json:"time"`
	Combination string `json:"combination"`
	Index       string `json:"index"`
	MaskClouds  bool   `json:"mask"`
}

const (
	ModeComposite = "composite"
	ModeIndex     = "index"
)

// RenderPayload is everything a view needs to draw one selection.
// Index views carry the true colour composite of the same time as
// the swipe reference.
type RenderPayload struct {
	Mode       string
	TimeStamp  time.Time
	Selections Selections
	Label      string
	Title      string
	Composite  *Composite
	Index      *IndexRaster
	Swipe      *Composite
	ColourMap  *utils.Palette
}

func composeOptions(config *utils.Config, maskClouds bool) ComposeOptions {
	return ComposeOptions{
		Rescale:    utils.RescaleParams{QuantificationValue: config.ServiceConfig.QuantificationValue},
		MaskClouds: maskClouds,
		Sentinel:   config.ServiceConfig.Sentinel(),
	}
}

// Render computes the payload for sel. Catalogue lookups are checked
// before the scene is read. In the index view the session slot is
// overwritten with the new index.
func Render(sess *Session, store utils.RasterStore, config *utils.Config, sel Selections) (*RenderPayload, error) {
	var combo *utils.BandCombination
	var idx *utils.SpectralIndex
	var palette *utils.Palette

	if len(sel.Index) > 0 {
		var ok bool
		idx, ok = config.Index(sel.Index)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownIndex, sel.Index)
		}
		palette, ok = config.ColourMap(idx.ColourMap)
		if !ok {
			return nil, fmt.Errorf("%w: %s colour map %s", ErrUnknownIndex, idx.Name, idx.ColourMap)
		}
	} else {
		name := sel.Combination
		if len(name) == 0 {
			name = utils.TrueColor.Name
		}
		var ok bool
		combo, ok = config.Combination(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCombination, name)
		}
		sel.Combination = name
	}

	ts, err := utils.MatchTime(store.Times(), sel.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownTime, err)
	}
	scene, err := store.GetRaster(ts)
	if err != nil {
		if errors.Is(err, utils.ErrTimeNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrUnknownTime, err)
		}
		return nil, err
	}

	opts := composeOptions(config, sel.MaskClouds)
	payload := &RenderPayload{TimeStamp: ts, Selections: sel}

	if idx != nil {
		index, err := ComputeIndex(sess, scene, *idx, sel.MaskClouds)
		if err != nil {
			return nil, err
		}

		trueColor := utils.TrueColor
		if bc, ok := config.Combination(utils.TrueColor.Name); ok {
			trueColor = *bc
		}
		swipe, err := ComposeRGB(scene, trueColor, opts)
		if err != nil {
			return nil, err
		}

		payload.Mode = ModeIndex
		payload.Index = index
		payload.Swipe = swipe
		payload.ColourMap = palette
		payload.Label = fmt.Sprintf("(%s - %s) / (%s + %s)", idx.Band0, idx.Band1, idx.Band0, idx.Band1)
		if len(idx.Expression) > 0 {
			payload.Label = idx.Expression
		}
		payload.Title = idx.Name
		if len(idx.FullName) > 0 {
			payload.Title = fmt.Sprintf("%s (%s)", idx.FullName, idx.Name)
		}
	} else {
		composite, err := ComposeRGB(scene, *combo, opts)
		if err != nil {
			return nil, err
		}
		payload.Mode = ModeComposite
		payload.Composite = composite
		payload.Label = combo.Label()
		payload.Title = combo.Name
	}

	if sess != nil {
		sess.setSelections(sel)
	}
	return payload, nil
}
