package processor

import (
	"time"

	"github.com/nci/s2dash/utils"
)

var testTime = time.Date(2023, 1, 5, 10, 56, 21, 0, time.UTC)

func byteRaster(name string, width int, data ...uint8) *utils.ByteRaster {
	return &utils.ByteRaster{Data: data, Width: width, Height: len(data) / width, NameSpace: name}
}

func uint16Raster(name string, width int, data ...uint16) *utils.UInt16Raster {
	return &utils.UInt16Raster{Data: data, Width: width, Height: len(data) / width, NameSpace: name}
}

func int16Raster(name string, width int, data ...int16) *utils.Int16Raster {
	return &utils.Int16Raster{Data: data, Width: width, Height: len(data) / width, NameSpace: name}
}

func float32Raster(name string, width int, data ...float32) *utils.Float32Raster {
	return &utils.Float32Raster{Data: data, Width: width, Height: len(data) / width, NameSpace: name}
}

// sceneOf builds a one row scene from equally sized bands.
func sceneOf(bands ...utils.Raster) *utils.Scene {
	scene := &utils.Scene{TimeStamp: testTime, Bands: map[string]utils.Raster{}}
	for _, b := range bands {
		switch r := b.(type) {
		case *utils.UInt16Raster:
			scene.Bands[r.NameSpace] = r
		case *utils.Int16Raster:
			scene.Bands[r.NameSpace] = r
		case *utils.ByteRaster:
			scene.Bands[r.NameSpace] = r
		case *utils.Float32Raster:
			scene.Bands[r.NameSpace] = r
		}
	}
	return scene
}

// twoPixelScene has every band the default catalogue uses, each
// holding [100, 200].
func twoPixelScene() *utils.Scene {
	var bands []utils.Raster
	for _, name := range []string{"B02", "B03", "B04", "B08", "B8A", "B11", "B12"} {
		bands = append(bands, uint16Raster(name, 2, 100, 200))
	}
	return sceneOf(bands...)
}
