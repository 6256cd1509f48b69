package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	extr "github.com/nci/s2dash/crawl/extractor"
	"github.com/nci/s2dash/mas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sceneYaml = `
format: {name: GeoTIFF}
extent: {center_dt: '2023-03-01T00:00:00Z'}
grid_spatial:
  projection:
    valid_data:
      type: Polygon
      coordinates: [[[0, 0], [1, 0], [1, 1], [0, 0]]]
image:
  bands:
    nbart_red: {path: red.tif, info: {width: 2, height: 1}}
`

func writeScene(t *testing.T, dir string) string {
	require.NoError(t, os.MkdirAll(dir, 0755))
	doc := filepath.Join(dir, "ARD-METADATA.yaml")
	require.NoError(t, os.WriteFile(doc, []byte(sceneYaml), 0644))
	return doc
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestExtractCommand(t *testing.T) {
	doc := writeScene(t, t.TempDir())

	for _, args := range [][]string{{"extract", doc}, {"extract", "-"}} {
		out, err := run(t, doc+"\n", args...)
		require.NoError(t, err)

		var gf extr.GeoFile
		require.NoError(t, json.Unmarshal([]byte(out), &gf))
		assert.True(t, gf.TimeStamp.Equal(time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)))
		_, ok := gf.DataSet("B04")
		assert.True(t, ok)
	}

	_, err := run(t, "", "extract", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = run(t, "", "extract")
	assert.Error(t, err)
}

func TestFindCommand(t *testing.T) {
	root := t.TempDir()
	writeScene(t, filepath.Join(root, "a"))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "red.tif"), nil, 0644))

	out, err := run(t, "", "find", root, "--pattern", `type == 'd' || path =~ '\\.tif$'`)
	require.NoError(t, err)
	assert.Contains(t, out, "red.tif")
	assert.NotContains(t, out, "ARD-METADATA.yaml")
}

func TestIngestCommand(t *testing.T) {
	root := t.TempDir()
	writeScene(t, filepath.Join(root, "2023-03-01"))
	dsn := filepath.Join(t.TempDir(), "mas.db")

	out, err := run(t, "", "ingest", root, "--dsn", dsn, "--collection", "test")
	require.NoError(t, err)
	assert.Contains(t, out, "1 scenes ingested into test")

	idx, err := mas.Open("sqlite", dsn)
	require.NoError(t, err)
	defer idx.Close()

	times, err := idx.Times(context.Background(), "test", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, times, 1)
}
