package extractor

import (
	"fmt"
	"sort"
	"time"

	"github.com/nci/s2dash/utils"
)

// LoadScene reads the bands of an acquisition. With bands empty every
// band that can be decoded is read. The cloud mask comes from a "mask"
// band, or is derived from the Fmask band.
func LoadScene(gf *GeoFile, bands []string) (*utils.Scene, error) {
	scene := &utils.Scene{TimeStamp: gf.TimeStamp, Bands: make(map[string]utils.Raster), Footprint: gf.Polygon}

	wanted := make(map[string]bool)
	for _, b := range bands {
		wanted[b] = true
	}

	for _, ds := range gf.DataSets {
		if ds.NameSpace == MaskNameSpace || ds.NameSpace == FmaskNameSpace {
			continue
		}
		if len(wanted) > 0 && !wanted[ds.NameSpace] {
			continue
		}
		if len(wanted) == 0 && ds.Type == "Float32" {
			continue
		}
		r, err := ReadBand(ds.DataSetName, ds.NameSpace, ds.Type, ds.NoData)
		if err != nil {
			return nil, err
		}
		scene.Bands[ds.NameSpace] = r
	}

	for b := range wanted {
		if _, ok := scene.Bands[b]; !ok {
			return nil, fmt.Errorf("%s: band %s not found", gf.FileName, b)
		}
	}

	mask, err := loadMask(gf)
	if err != nil {
		return nil, err
	}
	scene.Mask = mask
	return scene, nil
}

func loadMask(gf *GeoFile) (*utils.ByteRaster, error) {
	ns := MaskNameSpace
	ds, ok := gf.DataSet(ns)
	if !ok {
		ns = FmaskNameSpace
		if ds, ok = gf.DataSet(ns); !ok {
			return nil, nil
		}
	}

	r, err := ReadBand(ds.DataSetName, ns, "Byte", 0)
	if err != nil {
		return nil, err
	}
	br, ok := r.(*utils.ByteRaster)
	if !ok {
		return nil, fmt.Errorf("%s: mask band must be 8 bit, got %T", ds.DataSetName, r)
	}
	if ns == FmaskNameSpace {
		return CloudMaskFromFmask(br), nil
	}
	br.NameSpace = MaskNameSpace
	return br, nil
}

// NewSceneStore returns a store that reads each acquisition on first
// use. Two documents for the same time are an error.
func NewSceneStore(geoFiles []*GeoFile, bands []string) (*utils.LazyStore, error) {
	byTime := make(map[int64]*GeoFile)
	var times []time.Time
	for _, gf := range geoFiles {
		key := gf.TimeStamp.UnixNano()
		if prev, found := byTime[key]; found {
			return nil, fmt.Errorf("%s and %s share time %s", prev.FileName, gf.FileName, gf.TimeStamp.Format(utils.ISOFormat))
		}
		byTime[key] = gf
		times = append(times, gf.TimeStamp)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	return utils.NewLazyStore(times, func(t time.Time) (*utils.Scene, error) {
		gf, ok := byTime[t.UnixNano()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", utils.ErrTimeNotFound, t.Format(utils.ISOFormat))
		}
		return LoadScene(gf, bands)
	}), nil
}
