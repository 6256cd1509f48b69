package extractor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	geo "github.com/nci/geometry"
	"gopkg.in/yaml.v2"
)

// MaskNameSpace is the band holding the cloud mask of a scene,
// non-zero where a pixel must be excluded.
const MaskNameSpace = "mask"

// FmaskNameSpace is the ARD Fmask classification band.
const FmaskNameSpace = "fmask"

type ArdBand struct {
	Info struct {
		Geotransform []float64 `yaml:"geotransform"`
		Height       int       `yaml:"height"`
		Width        int       `yaml:"width"`
	} `yaml:"info"`

	Path string `yaml:"path"`
}

type ardPoint struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type ArdMetadata struct {
	Format struct {
		Name string `yaml:"name"`
	} `yaml:"format"`

	Extent struct {
		CenterDt string `yaml:"center_dt"`
	} `yaml:"extent"`

	GridSpatial struct {
		Projection struct {
			GeoRefPoints struct {
				Ll ardPoint `yaml:"ll"`
				Lr ardPoint `yaml:"lr"`
				Ul ardPoint `yaml:"ul"`
				Ur ardPoint `yaml:"ur"`
			} `yaml:"geo_ref_points"`
			ValidData struct {
				Coordinates [][][]float64 `yaml:"coordinates"`
			} `yaml:"valid_data"`
			SpatialReference string `yaml:"spatial_reference"`
		} `yaml:"projection"`
	} `yaml:"grid_spatial"`

	Image struct {
		Bands map[string]*ArdBand `yaml:"bands"`
	} `yaml:"image"`
}

// ardBandNames maps ARD measurement names onto Sentinel-2 band ids.
var ardBandNames = map[string]string{
	"nbart_coastal_aerosol": "B01",
	"nbart_blue":            "B02",
	"nbart_green":           "B03",
	"nbart_red":             "B04",
	"nbart_red_edge_1":      "B05",
	"nbart_red_edge_2":      "B06",
	"nbart_red_edge_3":      "B07",
	"nbart_nir_1":           "B08",
	"nbart_nir_2":           "B8A",
	"nbart_swir_2":          "B11",
	"nbart_swir_3":          "B12",
}

// BandNameSpace returns the Sentinel-2 band id of an ARD measurement,
// or the name itself when it has none.
func BandNameSpace(name string) string {
	if ns, ok := ardBandNames[name]; ok {
		return ns
	}
	return name
}

var centerTimeFormats = []string{
	"2006-01-02T15:04:05Z",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999Z",
	"2006-01-02T15:04:05.999999",
}

func parseCenterTime(value string) (time.Time, error) {
	for _, layout := range centerTimeFormats {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp: %q", value)
}

// footprintWKT turns the valid data polygon, or the corner points when
// there is none, into WKT.
func footprintWKT(ard *ArdMetadata) (string, error) {
	proj := ard.GridSpatial.Projection

	var ring [][]float64
	if len(proj.ValidData.Coordinates) > 0 {
		for _, c := range proj.ValidData.Coordinates[0] {
			if len(c) < 2 {
				return "", fmt.Errorf("invalid valid_data coordinate: %v", c)
			}
			ring = append(ring, []float64{c[0], c[1]})
		}
	} else {
		p := proj.GeoRefPoints
		ring = [][]float64{{p.Ul.X, p.Ul.Y}, {p.Ll.X, p.Ll.Y}, {p.Lr.X, p.Lr.Y}, {p.Ur.X, p.Ur.Y}, {p.Ul.X, p.Ul.Y}}
	}

	geoJSON, err := json.Marshal(map[string]interface{}{
		"type":       "Feature",
		"properties": map[string]interface{}{},
		"geometry": map[string]interface{}{
			"type":        "Polygon",
			"coordinates": [][][]float64{ring},
		},
	})
	if err != nil {
		return "", err
	}

	var feat geo.Feature
	if err = json.Unmarshal(geoJSON, &feat); err != nil {
		return "", fmt.Errorf("Problem unmarshalling GeoJSON object: %v", err)
	}
	return feat.Geometry.MarshalWKT(), nil
}

// ExtractSentinel2Yaml reads an ARD style metadata document listing
// the band files of one acquisition.
func ExtractSentinel2Yaml(filename string) (*GeoFile, error) {
	rawData, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	ard := ArdMetadata{}
	if err = yaml.Unmarshal(rawData, &ard); err != nil {
		return nil, fmt.Errorf("%s: %v", filename, err)
	}
	if len(ard.Image.Bands) == 0 {
		return nil, fmt.Errorf("%s: no bands listed", filename)
	}

	timestamp, err := parseCenterTime(ard.Extent.CenterDt)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", filename, err)
	}

	polygon, err := footprintWKT(&ard)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", filename, err)
	}

	dsPath := filepath.Dir(filename)
	geoFile := &GeoFile{FileName: filename, Driver: ard.Format.Name, TimeStamp: timestamp, Polygon: polygon}

	names := make([]string, 0, len(ard.Image.Bands))
	for name := range ard.Image.Bands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		aband := ard.Image.Bands[name]
		if aband == nil || len(aband.Path) == 0 {
			return nil, fmt.Errorf("%s: band %s has no path", filename, name)
		}
		dataType := getBandDataType(name)
		ds := &GeoMetaData{
			DataSetName:  filepath.Join(dsPath, aband.Path),
			NameSpace:    BandNameSpace(name),
			Type:         dataType,
			RasterCount:  1,
			TimeStamps:   []time.Time{timestamp},
			XSize:        int32(aband.Info.Width),
			YSize:        int32(aband.Info.Height),
			GeoTransform: aband.Info.Geotransform,
			Polygon:      polygon,
			ProjWKT:      ard.GridSpatial.Projection.SpatialReference,
		}
		if dataType == "Int16" {
			ds.NoData = -999
		}
		geoFile.DataSets = append(geoFile.DataSets, ds)
	}

	return geoFile, nil
}

func getBandDataType(bandName string) string {
	switch {
	case strings.HasSuffix(bandName, "contiguity"),
		bandName == FmaskNameSpace, bandName == MaskNameSpace, bandName == "terrain_shadow":
		return "Byte"
	case strings.HasPrefix(bandName, "nbar_"), strings.HasPrefix(bandName, "nbart_"):
		return "Int16"
	case bandName == "solar_zenith", bandName == "solar_azimuth",
		bandName == "satellite_azimuth", bandName == "satellite_view",
		bandName == "relative_azimuth", bandName == "relative_slope",
		bandName == "timedelta", bandName == "exiting", bandName == "incident",
		bandName == "azimuthal_exiting", bandName == "azimuthal_incident":
		return "Float32"
	default:
		return "UInt16"
	}
}
