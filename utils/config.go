package utils

import (
	"encoding/json"
	"fmt"
	"image/color"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	goeval "github.com/edisonguo/govaluate"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

var EtcDir = "."
var DataDir = "."

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

const (
	DefaultListenAddress  = ":8080"
	DefaultHistogramBins  = 20
	DefaultMaskSentinel   = 255
	DefaultSessionTTLMins = 60
	DefaultIndexDriver    = "sqlite"
	DefaultCollection     = "s2"
)

// ServiceConfig holds the server settings. An absent mask_sentinel
// selects DefaultMaskSentinel; 0 is a valid sentinel.
type ServiceConfig struct {
	ListenAddress       string  `json:"listen_address"`
	DataDir             string  `json:"data_dir"`
	IndexDriver         string  `json:"index_driver"`
	IndexDSN            string  `json:"index_dsn"`
	Collection          string  `json:"collection"`
	MemcacheURI         string  `json:"memcache_uri"`
	QuantificationValue float64 `json:"quantification_value"`
	HistogramBins       int     `json:"histogram_bins"`
	MaskSentinel        *int    `json:"mask_sentinel,omitempty"`
	SessionTTLMinutes   int     `json:"session_ttl_minutes"`
	LogLevel            string  `json:"log_level"`
	LogDir              string  `json:"log_dir"`
}

// Sentinel is the byte written over masked composite samples.
func (sc ServiceConfig) Sentinel() uint8 {
	if sc.MaskSentinel == nil {
		return DefaultMaskSentinel
	}
	return uint8(*sc.MaskSentinel)
}

// BandCombination names the (red, green, blue) bands of a composite.
type BandCombination struct {
	Name  string   `json:"name"`
	Bands []string `json:"bands"`
}

// Label is the human readable band list, e.g. "B04, B03, B02".
func (bc BandCombination) Label() string {
	return strings.Join(bc.Bands, ", ")
}

// SpectralIndex defines a normalised difference (b0 - b1) / (b0 + b1),
// or a custom band-math expression over b0 and b1.
type SpectralIndex struct {
	Name       string `json:"name"`
	FullName   string `json:"fullname"`
	Band0      string `json:"b0"`
	Band1      string `json:"b1"`
	ColourMap  string `json:"cmap"`
	Expression string `json:"expression,omitempty"`

	Compiled *goeval.EvaluableExpression `json:"-"`
}

type Palette struct {
	Interpolate bool         `json:"interpolate"`
	Colours     []color.RGBA `json:"colours"`
}

// Config is the struct representing the configuration of the
// dashboard server: service settings plus the catalogue of band
// combinations and spectral indices offered to users.
type Config struct {
	ServiceConfig    ServiceConfig       `json:"service_config"`
	BandCombinations []BandCombination   `json:"band_combinations"`
	SpectralIndices  []SpectralIndex     `json:"spectral_indices"`
	Palettes         map[string]*Palette `json:"palettes,omitempty"`
}

// DefaultConfig returns the Sentinel-2 catalogue.
func DefaultConfig() *Config {
	config := &Config{
		BandCombinations: []BandCombination{
			{Name: "True Color", Bands: []string{"B04", "B03", "B02"}},
			{Name: "False Color (Vegetation)", Bands: []string{"B08", "B04", "B03"}},
			{Name: "False Color (Urban)", Bands: []string{"B12", "B11", "B04"}},
			{Name: "Short-Wave Infrared", Bands: []string{"B12", "B08", "B04"}},
			{Name: "Agriculture", Bands: []string{"B11", "B08", "B02"}},
			{Name: "Geology", Bands: []string{"B12", "B11", "B02"}},
			{Name: "Healthy Vegetation", Bands: []string{"B08", "B11", "B02"}},
			{Name: "Snow and Clouds", Bands: []string{"B02", "B11", "B12"}},
		},
		SpectralIndices: []SpectralIndex{
			{Name: "NDVI", FullName: "Normalized Difference Vegetation Index", Band0: "B08", Band1: "B04", ColourMap: "RdYlGn"},
			{Name: "NDBI", FullName: "Normalized Difference Built-up Index", Band0: "B11", Band1: "B08", ColourMap: "Greys"},
			{Name: "NDMI", FullName: "Normalized Difference Moisture Index", Band0: "B8A", Band1: "B11", ColourMap: "RdYlBu"},
			{Name: "NDWI", FullName: "Normalized Difference Water Index", Band0: "B03", Band1: "B08", ColourMap: "Blues"},
		},
	}
	if err := config.Validate(); err != nil {
		panic(err)
	}
	return config
}

// TrueColor is the combination used as the swipe reference under
// spectral index renders.
var TrueColor = BandCombination{Name: "True Color", Bands: []string{"B04", "B03", "B02"}}

func (config *Config) Combination(name string) (*BandCombination, bool) {
	for i := range config.BandCombinations {
		if config.BandCombinations[i].Name == name {
			return &config.BandCombinations[i], true
		}
	}
	return nil, false
}

func (config *Config) Index(name string) (*SpectralIndex, bool) {
	for i := range config.SpectralIndices {
		if strings.EqualFold(config.SpectralIndices[i].Name, name) {
			return &config.SpectralIndices[i], true
		}
	}
	return nil, false
}

// ColourMap resolves a colour map identifier against the config
// palettes first and the built-in maps second.
func (config *Config) ColourMap(name string) (*Palette, bool) {
	if p, ok := config.Palettes[name]; ok && p != nil {
		return p, true
	}
	p, ok := BuiltinColourMaps[name]
	return p, ok
}

func (config *Config) applyDefaults() {
	sc := &config.ServiceConfig
	if len(strings.TrimSpace(sc.ListenAddress)) == 0 {
		sc.ListenAddress = DefaultListenAddress
	}
	if len(sc.DataDir) == 0 {
		sc.DataDir = DataDir
	}
	if len(sc.IndexDriver) == 0 {
		sc.IndexDriver = DefaultIndexDriver
	}
	if len(sc.Collection) == 0 {
		sc.Collection = DefaultCollection
	}
	if sc.QuantificationValue <= 0 {
		sc.QuantificationValue = DefaultQuantificationValue
	}
	if sc.HistogramBins == 0 {
		sc.HistogramBins = DefaultHistogramBins
	}
	if sc.MaskSentinel == nil {
		sentinel := DefaultMaskSentinel
		sc.MaskSentinel = &sentinel
	}
	if sc.SessionTTLMinutes <= 0 {
		sc.SessionTTLMinutes = DefaultSessionTTLMins
	}
	if len(sc.LogLevel) == 0 {
		sc.LogLevel = "info"
	}
}

// Validate checks the catalogue and compiles index expressions.
func (config *Config) Validate() error {
	config.applyDefaults()

	if config.ServiceConfig.HistogramBins < 0 {
		return fmt.Errorf("histogram_bins must be positive, got %d", config.ServiceConfig.HistogramBins)
	}
	if sentinel := *config.ServiceConfig.MaskSentinel; sentinel < 0 || sentinel > 255 {
		return fmt.Errorf("mask_sentinel must fit in a byte, got %d", sentinel)
	}

	seen := make(map[string]bool)
	for _, bc := range config.BandCombinations {
		if len(strings.TrimSpace(bc.Name)) == 0 {
			return fmt.Errorf("band combination without a name: %v", bc.Bands)
		}
		if seen[bc.Name] {
			return fmt.Errorf("duplicated band combination: %s", bc.Name)
		}
		seen[bc.Name] = true
		if len(bc.Bands) != 3 {
			return fmt.Errorf("band combination %s must name exactly 3 bands, got %d", bc.Name, len(bc.Bands))
		}
		for _, b := range bc.Bands {
			if len(strings.TrimSpace(b)) == 0 {
				return fmt.Errorf("band combination %s has an empty band name", bc.Name)
			}
		}
	}

	for _, p := range config.Palettes {
		if p == nil || len(p.Colours) < 2 {
			return fmt.Errorf("The colour palette must contain at least 2 colours.")
		}
	}

	seen = make(map[string]bool)
	for i := range config.SpectralIndices {
		idx := &config.SpectralIndices[i]
		key := strings.ToUpper(idx.Name)
		if len(strings.TrimSpace(idx.Name)) == 0 {
			return fmt.Errorf("spectral index without a name")
		}
		if seen[key] {
			return fmt.Errorf("duplicated spectral index: %s", idx.Name)
		}
		seen[key] = true
		if len(strings.TrimSpace(idx.Band0)) == 0 || len(strings.TrimSpace(idx.Band1)) == 0 {
			return fmt.Errorf("spectral index %s must define b0 and b1", idx.Name)
		}
		if _, ok := config.ColourMap(idx.ColourMap); !ok {
			return fmt.Errorf("spectral index %s: unknown colour map %q", idx.Name, idx.ColourMap)
		}
		expr, err := ParseBandExpression(idx.Expression)
		if err != nil {
			return fmt.Errorf("spectral index %s: %v", idx.Name, err)
		}
		idx.Compiled = expr
	}

	return nil
}

// LoadConfigFile marshalls the config.json document returning an
// instance of a Config variable containing all the values
func (config *Config) LoadConfigFile(configFile string) error {
	*config = Config{}
	cfg, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	err = json.Unmarshal(cfg, config)
	if err != nil {
		return fmt.Errorf("Error at JSON parsing config document: %s. Error: %v", configFile, err)
	}

	if len(config.BandCombinations) == 0 && len(config.SpectralIndices) == 0 {
		def := DefaultConfig()
		config.BandCombinations = def.BandCombinations
		config.SpectralIndices = def.SpectralIndices
	}

	return config.Validate()
}

func DumpConfig(config *Config) (string, error) {
	out, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ConfigHolder gives readers a consistent snapshot while the
// watcher swaps in reloaded configs.
type ConfigHolder struct {
	mu     sync.RWMutex
	config *Config
}

func NewConfigHolder(config *Config) *ConfigHolder {
	return &ConfigHolder{config: config}
}

func (h *ConfigHolder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

func (h *ConfigHolder) Set(config *Config) {
	h.mu.Lock()
	h.config = config
	h.mu.Unlock()
}

func reloadConfig(log zerolog.Logger, configFile string, holder *ConfigHolder) {
	config := &Config{}
	if err := config.LoadConfigFile(configFile); err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("Error in loading config file, keeping current config")
		return
	}
	holder.Set(config)
	log.Info().Str("file", configFile).Msg("config reloaded")
}

// WatchConfig reloads the config file on SIGHUP or when the file is
// written. A config that fails to load leaves the current one in place.
// The returned function stops watching.
func WatchConfig(log zerolog.Logger, configFile string, holder *ConfigHolder) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(configFile)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	// Watch the directory: editors replace files by rename.
	if err = watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-sighup:
				log.Info().Msg("Caught SIGHUP, reloading config...")
				reloadConfig(log, absPath, holder)
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != absPath {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					reloadConfig(log, absPath, holder)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("config watcher error")
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			signal.Stop(sighup)
			close(done)
			watcher.Close()
		})
	}
	return stop, nil
}
