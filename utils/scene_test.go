package utils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScene(ts time.Time) *Scene {
	return &Scene{
		TimeStamp: ts,
		Bands: map[string]Raster{
			"B04": &UInt16Raster{Data: []uint16{1, 2, 3, 4, 5, 6}, Width: 3, Height: 2, NameSpace: "B04"},
			"B02": &UInt16Raster{Data: []uint16{1, 2, 3, 4, 5, 6}, Width: 3, Height: 2, NameSpace: "B02"},
		},
	}
}

func TestMemStore(t *testing.T) {
	t0 := time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2022, 12, 1, 0, 0, 0, 0, time.UTC)

	store := NewMemStore(testScene(t0), testScene(t1))
	times := store.Times()
	require.Len(t, times, 2)
	assert.True(t, times[0].Equal(t1))

	scene, err := store.GetRaster(t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"B02", "B04"}, scene.BandNames())
	w, h := scene.Dims()
	assert.Equal(t, 3, w)
	assert.Equal(t, 2, h)

	_, ok := scene.Band("B08")
	assert.False(t, ok)

	_, err = store.GetRaster(t0.Add(time.Hour))
	assert.ErrorIs(t, err, ErrTimeNotFound)

	store.Add(testScene(t0))
	assert.Len(t, store.Times(), 2)
}

func TestLazyStoreLoadsOnce(t *testing.T) {
	t0 := time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)
	calls := 0
	store := NewLazyStore([]time.Time{t0}, func(ts time.Time) (*Scene, error) {
		calls++
		return testScene(ts), nil
	})

	for i := 0; i < 3; i++ {
		_, err := store.GetRaster(t0)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)

	_, err := store.GetRaster(t0.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, ErrTimeNotFound)
	assert.Equal(t, 1, calls)
}

func TestLazyStoreLoadError(t *testing.T) {
	t0 := time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)
	store := NewLazyStore([]time.Time{t0}, func(ts time.Time) (*Scene, error) {
		return nil, errors.New("unreadable")
	})
	_, err := store.GetRaster(t0)
	assert.EqualError(t, err, "unreadable")
}

func TestRuntimeFileResolver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0755))
	target := filepath.Join(dir, "templates", "dashboard.jet")
	require.NoError(t, os.WriteFile(target, []byte("{{ .Title }}"), 0644))

	resolver := NewRuntimeFileResolver("  :" + dir)
	p, err := resolver.Resolve("templates/dashboard.jet")
	require.NoError(t, err)
	assert.Equal(t, target, p)

	p, err = resolver.Resolve(target)
	require.NoError(t, err)
	assert.Equal(t, target, p)

	_, err = resolver.Resolve("templates/missing.jet")
	assert.Error(t, err)
}
