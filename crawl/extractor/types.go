package extractor

import "time"

// GeoMetaData describes one band file of a scene.
type GeoMetaData struct {
	DataSetName  string      `json:"ds_name"`
	NameSpace    string      `json:"namespace,omitempty"`
	Type         string      `json:"array_type"`
	RasterCount  int32       `json:"raster_count"`
	TimeStamps   []time.Time `json:"timestamps"`
	XSize        int32       `json:"x_size"`
	YSize        int32       `json:"y_size"`
	GeoTransform []float64   `json:"geotransform,omitempty"`
	Polygon      string      `json:"polygon"`
	ProjWKT      string      `json:"proj_wkt,omitempty"`
	NoData       float64     `json:"nodata,omitempty"`
}

// GeoFile is the metadata document of one acquisition.
type GeoFile struct {
	FileName  string         `json:"filename,omitempty"`
	Driver    string         `json:"file_type"`
	TimeStamp time.Time      `json:"timestamp"`
	Polygon   string         `json:"polygon"`
	DataSets  []*GeoMetaData `json:"geo_metadata"`
	PosixInfo *PosixInfo     `json:"posix_info,omitempty"`
}

// DataSet returns the band file with the given namespace.
func (gf *GeoFile) DataSet(ns string) (*GeoMetaData, bool) {
	for _, ds := range gf.DataSets {
		if ds.NameSpace == ns {
			return ds, true
		}
	}
	return nil, false
}

type PosixInfo struct {
	FilePath string    `json:"file_path"`
	Size     int64     `json:"size"`
	MTime    time.Time `json:"mtime"`
	ID       string    `json:"id"`
}
