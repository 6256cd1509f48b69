package extractor

import (
	"fmt"
	"image"
	"os"

	"github.com/nci/s2dash/utils"
	"golang.org/x/image/tiff"
)

// ReadBand decodes a single band GeoTIFF. 16 bit files are read as
// UInt16 or, when dataType is "Int16", reinterpreted as signed.
func ReadBand(path, nameSpace, dataType string, noData float64) (utils.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray16:
		if dataType == "Int16" {
			r := &utils.Int16Raster{Data: make([]int16, width*height), Width: width, Height: height, NoData: noData, NameSpace: nameSpace}
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					r.Data[y*width+x] = int16(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
				}
			}
			return r, nil
		}
		r := &utils.UInt16Raster{Data: make([]uint16, width*height), Width: width, Height: height, NoData: noData, NameSpace: nameSpace}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r.Data[y*width+x] = src.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}
		return r, nil

	case *image.Gray:
		r := &utils.ByteRaster{Data: make([]uint8, width*height), Width: width, Height: height, NoData: noData, NameSpace: nameSpace}
		for y := 0; y < height; y++ {
			copy(r.Data[y*width:(y+1)*width], src.Pix[y*src.Stride:y*src.Stride+width])
		}
		return r, nil

	case *image.Paletted:
		r := &utils.ByteRaster{Data: make([]uint8, width*height), Width: width, Height: height, NoData: noData, NameSpace: nameSpace}
		for y := 0; y < height; y++ {
			copy(r.Data[y*width:(y+1)*width], src.Pix[y*src.Stride:y*src.Stride+width])
		}
		return r, nil

	default:
		return nil, fmt.Errorf("%s: unsupported pixel layout %T", path, img)
	}
}

// fmask classes excluded by the cloud mask.
const (
	fmaskNoData = 0
	fmaskCloud  = 2
	fmaskShadow = 3
)

// CloudMaskFromFmask flags no-data, cloud and cloud shadow pixels.
func CloudMaskFromFmask(fmask *utils.ByteRaster) *utils.ByteRaster {
	mask := &utils.ByteRaster{Data: make([]uint8, len(fmask.Data)), Width: fmask.Width, Height: fmask.Height, NameSpace: MaskNameSpace}
	for i, v := range fmask.Data {
		switch v {
		case fmaskNoData, fmaskCloud, fmaskShadow:
			mask.Data[i] = 1
		}
	}
	return mask
}
