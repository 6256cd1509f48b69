package utils

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrTimeNotFound = errors.New("no scene for requested time")

// Scene holds every band of one acquisition, keyed by band name,
// plus the optional cloud/no-data mask (non-zero = excluded).
type Scene struct {
	TimeStamp time.Time
	Bands     map[string]Raster
	Mask      *ByteRaster
	Footprint string
}

func (s *Scene) Band(name string) (Raster, bool) {
	r, ok := s.Bands[name]
	return r, ok && r != nil
}

func (s *Scene) BandNames() []string {
	names := make([]string, 0, len(s.Bands))
	for name := range s.Bands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dims returns the shape shared by the scene bands.
func (s *Scene) Dims() (int, int) {
	names := s.BandNames()
	if len(names) == 0 {
		return 0, 0
	}
	return s.Bands[names[0]].Dims()
}

// RasterStore is the time indexed, band indexed source of scenes.
type RasterStore interface {
	Times() []time.Time
	GetRaster(t time.Time) (*Scene, error)
}

type MemStore struct {
	mu     sync.RWMutex
	scenes map[int64]*Scene
	times  []time.Time
}

func NewMemStore(scenes ...*Scene) *MemStore {
	s := &MemStore{scenes: make(map[int64]*Scene)}
	for _, scene := range scenes {
		s.Add(scene)
	}
	return s
}

func (s *MemStore) Add(scene *Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scene.TimeStamp.UnixNano()
	if _, found := s.scenes[key]; !found {
		s.times = append(s.times, scene.TimeStamp)
		sort.Slice(s.times, func(i, j int) bool { return s.times[i].Before(s.times[j]) })
	}
	s.scenes[key] = scene
}

func (s *MemStore) Times() []time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]time.Time(nil), s.times...)
}

func (s *MemStore) GetRaster(t time.Time) (*Scene, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scene, ok := s.scenes[t.UnixNano()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTimeNotFound, t.Format(ISOFormat))
	}
	return scene, nil
}

// SceneLoader reads the scene acquired at t from its backing store.
type SceneLoader func(t time.Time) (*Scene, error)

// LazyStore reads each scene once, on first request, and keeps it.
type LazyStore struct {
	mu     sync.Mutex
	times  []time.Time
	load   SceneLoader
	loaded map[int64]*Scene
}

func NewLazyStore(times []time.Time, load SceneLoader) *LazyStore {
	ts := append([]time.Time(nil), times...)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	return &LazyStore{times: ts, load: load, loaded: make(map[int64]*Scene)}
}

func (s *LazyStore) Times() []time.Time {
	return append([]time.Time(nil), s.times...)
}

func (s *LazyStore) GetRaster(t time.Time) (*Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := t.UnixNano()
	if scene, ok := s.loaded[key]; ok {
		return scene, nil
	}

	known := false
	for _, ts := range s.times {
		if ts.Equal(t) {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrTimeNotFound, t.Format(ISOFormat))
	}

	scene, err := s.load(t)
	if err != nil {
		return nil, err
	}
	s.loaded[key] = scene
	return scene, nil
}
