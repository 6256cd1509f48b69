package main

import (
	"bytes"
	"encoding/json"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nci/gomemcache/memcache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	proc "github.com/nci/s2dash/processor"
	"github.com/nci/s2dash/utils"
)

var (
	firstTime  = time.Date(2023, 1, 5, 10, 56, 21, 0, time.UTC)
	secondTime = time.Date(2023, 2, 9, 10, 56, 21, 0, time.UTC)
)

func band(name string, data ...uint16) *utils.UInt16Raster {
	return &utils.UInt16Raster{Data: data, Width: 2, Height: 2, NameSpace: name}
}

// testScene is 2x2 with the bottom right pixel under cloud.
func testScene(ts time.Time) *utils.Scene {
	scene := &utils.Scene{TimeStamp: ts, Bands: map[string]utils.Raster{}}
	for _, name := range []string{"B02", "B03", "B04", "B8A", "B11", "B12"} {
		scene.Bands[name] = band(name, 100, 100, 100, 100)
	}
	scene.Bands["B02"] = band("B02", 100, 200, 300, 400)
	scene.Bands["B08"] = band("B08", 300, 400, 500, 600)
	scene.Mask = &utils.ByteRaster{Data: []uint8{0, 0, 0, 1}, Width: 2, Height: 2, NameSpace: "mask"}
	return scene
}

func newTestDashServer() *dashServer {
	store := utils.NewMemStore(testScene(firstTime), testScene(secondTime))
	holder := utils.NewConfigHolder(utils.DefaultConfig())
	return newDashServer(holder, store, zerolog.Nop(), serverOptions{DataDir: ".", MaxRenders: 2})
}

func newTestServer(t *testing.T) (*httptest.Server, *http.Client) {
	s := newTestDashServer()

	server := httptest.NewServer(s.routes())
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return server, &http.Client{Jar: jar}
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, []byte) {
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestCatalog(t *testing.T) {
	server, client := newTestServer(t)

	resp, body := get(t, client, server.URL+"/api/catalog")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cat catalog
	require.NoError(t, json.Unmarshal(body, &cat))
	assert.Equal(t, []string{"2023-01-05T10:56:21.000Z", "2023-02-09T10:56:21.000Z"}, cat.Times)
	assert.Len(t, cat.Combinations, 8)
	assert.Equal(t, catalogItem{Name: "True Color", Label: "B04, B03, B02"}, cat.Combinations[0])
	require.Len(t, cat.Indices, 4)
	assert.Equal(t, "NDVI", cat.Indices[0].Name)
	assert.Equal(t, "(B08 - B04) / (B08 + B04)", cat.Indices[0].Label)
	assert.Equal(t, 20, cat.Bins)
}

func TestDashboardPage(t *testing.T) {
	server, client := newTestServer(t)

	resp, body := get(t, client, server.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	page := string(body)
	assert.Contains(t, page, "False Color (Urban)")
	assert.Contains(t, page, "Normalized Difference Water Index")
	assert.Contains(t, page, ">2023-02-09<")
	assert.NotEmpty(t, resp.Cookies())
}

func TestRenderComposite(t *testing.T) {
	server, client := newTestServer(t)

	resp, body := get(t, client, server.URL+"/api/render?combination=Geology&time=2023-01-05")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var sum renderSummary
	require.NoError(t, json.Unmarshal(body, &sum))
	assert.Equal(t, proc.ModeComposite, sum.Mode)
	assert.Equal(t, "B12, B11, B02", sum.Label)
	assert.Equal(t, "2023-01-05T10:56:21.000Z", sum.Time)
	assert.Equal(t, 2, sum.Width)
	assert.Equal(t, 4, sum.Pixels)
	assert.Equal(t, 4, sum.ValidPixels)
	assert.Empty(t, sum.Swipe)

	// the latest acquisition when no time is given
	_, body = get(t, client, server.URL+"/api/render")
	require.NoError(t, json.Unmarshal(body, &sum))
	assert.Equal(t, "2023-02-09T10:56:21.000Z", sum.Time)
	assert.Equal(t, "True Color", sum.Selections.Combination)

	resp, body = get(t, client, server.URL+sum.Image)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())

	resp, body = get(t, client, server.URL+"/api/render.jpg?combination=Agriculture&quality=80")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = jpeg.Decode(bytes.NewReader(body))
	require.NoError(t, err)

	resp, _ = get(t, client, server.URL+"/api/render.jpg?index=NDVI")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRenderErrors(t *testing.T) {
	server, client := newTestServer(t)

	for uri, status := range map[string]int{
		"/api/render?index=EVI":                http.StatusBadRequest,
		"/api/render?combination=Infrared":     http.StatusBadRequest,
		"/api/render?time=2020-01-01":          http.StatusNotFound,
		"/api/render?time=yesterday":           http.StatusBadRequest,
		"/api/render?mask=maybe":               http.StatusBadRequest,
		"/api/render.png?index=EVI":            http.StatusBadRequest,
		"/api/swipe.png?time=2020-01-01":       http.StatusNotFound,
		"/api/histogram":                       http.StatusConflict,
		"/api/histogram.png":                   http.StatusConflict,
		"/api/pixel?x=0&y=0":                   http.StatusConflict,
		"/api/render?index=NDVI&combination=?": http.StatusBadRequest,
	} {
		resp, body := get(t, client, server.URL+uri)
		assert.Equal(t, status, resp.StatusCode, uri)
		if status != http.StatusOK {
			assert.Contains(t, string(body), `"error"`, uri)
		}
	}
}

func TestIndexHistogramAndPixel(t *testing.T) {
	server, client := newTestServer(t)

	resp, body := get(t, client, server.URL+"/api/render?index=ndvi&mask=true")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var sum renderSummary
	require.NoError(t, json.Unmarshal(body, &sum))
	assert.Equal(t, proc.ModeIndex, sum.Mode)
	assert.Equal(t, "Normalized Difference Vegetation Index (NDVI)", sum.Title)
	assert.Equal(t, 3, sum.ValidPixels)
	assert.NotEmpty(t, sum.Swipe)
	require.Len(t, sum.Range, 2)
	assert.InDelta(t, 0.5, sum.Range[0], 1e-9)

	resp, body = get(t, client, server.URL+"/api/histogram")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var h struct {
		Name        string    `json:"name"`
		Title       string    `json:"title"`
		Edges       []float64 `json:"edges"`
		Frequencies []float64 `json:"frequencies"`
		Empty       bool      `json:"empty"`
		Total       int       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, "NDVI", h.Name)
	assert.Equal(t, "Histogram of NDVI values", h.Title)
	assert.Len(t, h.Frequencies, 20)
	assert.Len(t, h.Edges, 21)
	assert.Equal(t, 3, h.Total)
	assert.False(t, h.Empty)

	_, body = get(t, client, server.URL+"/api/histogram?bins=5")
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Len(t, h.Frequencies, 5)

	resp, _ = get(t, client, server.URL+"/api/histogram?bins=0")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = get(t, client, server.URL+"/api/histogram.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := png.Decode(bytes.NewReader(body))
	require.NoError(t, err)

	resp, body = get(t, client, server.URL+"/api/pixel?x=1&y=0")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var px pixelResponse
	require.NoError(t, json.Unmarshal(body, &px))
	assert.InDelta(t, 0.6, px.Value, 1e-9)

	resp, _ = get(t, client, server.URL+"/api/pixel?x=1&y=1")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = get(t, client, server.URL+"/api/pixel?x=1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// a composite render keeps the last index
	get(t, client, server.URL+"/api/render?combination=Geology")
	resp, _ = get(t, client, server.URL+"/api/histogram")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = get(t, client, server.URL+sum.Swipe)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
}

func TestSessionsAreIndependent(t *testing.T) {
	server, client := newTestServer(t)
	get(t, client, server.URL+"/api/render?index=NDWI")

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	stranger := &http.Client{Jar: jar}
	resp, _ := get(t, stranger, server.URL+"/api/histogram")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = get(t, client, server.URL+"/api/histogram")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEvictedSessionsReleaseState(t *testing.T) {
	s := newTestDashServer()
	server := httptest.NewServer(s.routes())
	defer server.Close()

	const n = 5
	clients := make([]*http.Client, n)
	for i := range clients {
		jar, err := cookiejar.New(nil)
		require.NoError(t, err)
		clients[i] = &http.Client{Jar: jar}
		resp, _ := get(t, clients[i], server.URL+"/api/render?index=NDVI")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, n, s.sessions.Len())

	s.sessions.TTL = time.Millisecond
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, s.sessions.Evict())
	assert.Equal(t, 0, s.sessions.Len())

	// the old cookie no longer names a session
	resp, _ := get(t, clients[0], server.URL+"/api/histogram")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCacheKeyFollowsConfig(t *testing.T) {
	s := newTestDashServer()
	s.mc = memcache.New("127.0.0.1:0")
	sel := proc.Selections{Time: "2023-01-05", Combination: "Geology", MaskClouds: true}

	key, ok := s.cacheKey("render", sel)
	require.True(t, ok)
	again, _ := s.cacheKey("render", sel)
	assert.Equal(t, key, again)

	_, ok = s.cacheKey("render", proc.Selections{Index: "NDVI"})
	assert.False(t, ok)

	conf := utils.DefaultConfig()
	conf.ServiceConfig.QuantificationValue = 5000
	s.config.Set(conf)
	quantKey, ok := s.cacheKey("render", sel)
	require.True(t, ok)
	assert.NotEqual(t, key, quantKey)

	conf = utils.DefaultConfig()
	sentinel := 0
	conf.ServiceConfig.MaskSentinel = &sentinel
	s.config.Set(conf)
	sentinelKey, ok := s.cacheKey("render", sel)
	require.True(t, ok)
	assert.NotEqual(t, key, sentinelKey)
	assert.NotEqual(t, quantKey, sentinelKey)
}

func TestWebSocketRender(t *testing.T) {
	server, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var cookie string
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			cookie = c.Value
		}
	}
	assert.NotEmpty(t, cookie)

	require.NoError(t, conn.WriteJSON(proc.Selections{Index: "NDMI", Time: "2023-01-05"}))
	var sum renderSummary
	require.NoError(t, conn.ReadJSON(&sum))
	assert.Equal(t, proc.ModeIndex, sum.Mode)
	assert.Equal(t, "(B8A - B11) / (B8A + B11)", sum.Label)

	require.NoError(t, conn.WriteJSON(proc.Selections{Combination: "Snow and Clouds"}))
	require.NoError(t, conn.ReadJSON(&sum))
	assert.Equal(t, proc.ModeComposite, sum.Mode)
	assert.Equal(t, "B02, B11, B12", sum.Label)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	var wsErr wsError
	require.NoError(t, conn.ReadJSON(&wsErr))
	assert.Equal(t, http.StatusBadRequest, wsErr.Status)

	require.NoError(t, conn.WriteJSON(proc.Selections{Index: "EVI"}))
	require.NoError(t, conn.ReadJSON(&wsErr))
	assert.Equal(t, http.StatusBadRequest, wsErr.Status)
	assert.Contains(t, wsErr.Error, "EVI")
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, errorStatus(proc.ErrUnknownIndex))
	assert.Equal(t, http.StatusNotFound, errorStatus(utils.ErrTimeNotFound))
	assert.Equal(t, http.StatusConflict, errorStatus(proc.ErrNoIndex))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(proc.ErrShapeMismatch))
}

func TestRootCommandConfigFlags(t *testing.T) {
	dir := t.TempDir()
	confFile := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(confFile, []byte(`{
        "service_config": {"histogram_bins": 10},
        "spectral_indices": [{"name": "NBR", "fullname": "Normalized Burn Ratio", "b0": "B08", "b1": "B12", "cmap": "RdYlGn"}]
    }`), 0644))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--conf", confFile, "--dump_conf"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"NBR"`)
	assert.Contains(t, out.String(), `"histogram_bins": 10`)

	cmd = newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--conf", confFile, "--check_conf"})
	require.NoError(t, cmd.Execute())

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"band_combinations": [{"name": "Two", "bands": ["B04", "B03"]}]}`), 0644))
	cmd = newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--conf", bad, "--check_conf"})
	assert.Error(t, cmd.Execute())

	cmd = newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--conf", filepath.Join(dir, "missing.json"), "--check_conf"})
	assert.Error(t, cmd.Execute())
}

func TestTemplateDir(t *testing.T) {
	abs, err := filepath.Abs("templates")
	require.NoError(t, err)
	assert.Equal(t, abs, templateDir(t.TempDir()))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	missing := filepath.Join(t.TempDir(), "nowhere")
	assert.Equal(t, filepath.Join(missing, "templates"), templateDir(missing))
}
