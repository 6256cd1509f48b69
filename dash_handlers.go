package main

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CloudyKit/jet"
	"github.com/gorilla/websocket"
	"github.com/nci/gomemcache/memcache"
	"golang.org/x/net/context"

	"github.com/nci/s2dash/metrics"
	proc "github.com/nci/s2dash/processor"
	"github.com/nci/s2dash/utils"
)

type ctxKey int

const metricsKey ctxKey = 0

// Spit out a simple JSON-formatted error message for Content-Type: application/json
func httpJSONError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{ "error": %q }`+"\n", err.Error())
}

// errorStatus maps render errors to HTTP status codes: catalogue
// errors are the client's, a missing acquisition or index is state.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, proc.ErrUnknownCombination),
		errors.Is(err, proc.ErrUnknownIndex),
		errors.Is(err, proc.ErrUnknownBand),
		errors.Is(err, proc.ErrInvalidBins):
		return http.StatusBadRequest
	case errors.Is(err, proc.ErrUnknownTime), errors.Is(err, utils.ErrTimeNotFound):
		return http.StatusNotFound
	case errors.Is(err, proc.ErrNoIndex):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func parseRemoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); len(fwd) > 0 {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

// instrument wraps h with the no-cache headers and logs one metrics
// record per request.
func (s *dashServer) instrument(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
		if s.verbose {
			s.Info.Debug().Str("url", r.URL.String()).Msg("request")
		}

		collector := metrics.NewMetricsCollector(s.metricsLogger)
		t0 := time.Now()
		collector.Info.ReqTime = t0.Format(utils.ISOFormat)
		if reqURL, e := url.QueryUnescape(r.URL.String()); e == nil {
			collector.Info.URL.RawURL = reqURL
		} else {
			collector.Info.URL.RawURL = r.URL.String()
		}
		collector.Info.RemoteAddr = parseRemoteAddr(r)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r.WithContext(context.WithValue(r.Context(), metricsKey, collector)))

		collector.Info.HTTPStatus = sw.status
		collector.Info.ReqDuration = time.Since(t0)
		collector.Log()
	}
}

func metricsFromContext(ctx context.Context) *metrics.MetricsCollector {
	if collector, ok := ctx.Value(metricsKey).(*metrics.MetricsCollector); ok {
		return collector
	}
	return metrics.NewMetricsCollector(nil)
}

// session returns the caller's session and, when a new one was
// started, the cookie that names it.
func (s *dashServer) session(r *http.Request) (*proc.Session, *http.Cookie) {
	id := ""
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}
	sess := s.sessions.GetOrCreate(id)
	if sess.ID == id {
		return sess, nil
	}
	return sess, &http.Cookie{Name: sessionCookie, Value: sess.ID, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode}
}

func (s *dashServer) httpSession(w http.ResponseWriter, r *http.Request) *proc.Session {
	sess, cookie := s.session(r)
	if cookie != nil {
		http.SetCookie(w, cookie)
	}
	return sess
}

func (s *dashServer) parseParams(r *http.Request) (utils.DashParams, error) {
	query, err := utils.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return utils.DashParams{}, fmt.Errorf("Failed to parse query: %v", err)
	}
	return utils.DashParamsChecker(query, s.reMap)
}

func selectionsFromParams(params utils.DashParams) proc.Selections {
	var sel proc.Selections
	if params.Time != nil {
		sel.Time = *params.Time
	}
	if params.Combination != nil {
		sel.Combination = *params.Combination
	}
	if params.Index != nil {
		sel.Index = *params.Index
	}
	if params.MaskClouds != nil {
		sel.MaskClouds = *params.MaskClouds
	}
	return sel
}

// render runs one selection through the pipeline. Renders of one
// session are sequential; renders across sessions are bounded by the
// limiter.
func (s *dashServer) render(ctx context.Context, sess *proc.Session, sel proc.Selections) (*proc.RenderPayload, error) {
	if err := s.limiter.Increase(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Decrease()

	if sess != nil {
		sess.Lock()
		defer sess.Unlock()
	}

	t0 := time.Now()
	payload, err := proc.Render(sess, s.store, s.config.Get(), sel)

	info := metricsFromContext(ctx).Info.Render
	info.Duration = time.Since(t0)
	info.Combination, info.Index, info.MaskClouds = sel.Combination, sel.Index, sel.MaskClouds
	if sess != nil {
		info.Session = sess.ID
	}
	if err != nil {
		return nil, err
	}
	info.Time = payload.TimeStamp.Format(utils.ISOFormat)
	info.Pixels, info.ValidPixels = payloadPixels(payload)

	if s.verbose {
		s.Info.Debug().Str("mode", payload.Mode).Str("time", info.Time).Dur("duration", info.Duration).Msg("rendered")
	}
	return payload, nil
}

func compositePixels(c *proc.Composite) (int, int) {
	valid := 0
	for i := 0; i < c.Width*c.Height; i++ {
		if c.ValidAt(i) {
			valid++
		}
	}
	return c.Width * c.Height, valid
}

func payloadPixels(p *proc.RenderPayload) (int, int) {
	if p.Index != nil {
		return p.Index.Width * p.Index.Height, len(p.Index.ValidValues())
	}
	if p.Composite != nil {
		return compositePixels(p.Composite)
	}
	return 0, 0
}

// renderSummary is the JSON form of a render payload: the labels plus
// the URLs the page loads the pictures from.
type renderSummary struct {
	Mode        string          `json:"mode"`
	Time        string          `json:"time"`
	Selections  proc.Selections `json:"selections"`
	Label       string          `json:"label"`
	Title       string          `json:"title"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Pixels      int             `json:"pixels"`
	ValidPixels int             `json:"valid_pixels"`
	Image       string          `json:"image"`
	Swipe       string          `json:"swipe,omitempty"`
	Histogram   string          `json:"histogram,omitempty"`
	Range       []float64       `json:"range,omitempty"`
}

func selectionQuery(sel proc.Selections, ts time.Time) string {
	v := url.Values{}
	v.Set("time", ts.UTC().Format(utils.ISOFormat))
	if len(sel.Index) > 0 {
		v.Set("index", sel.Index)
	} else {
		v.Set("combination", sel.Combination)
	}
	v.Set("mask", strconv.FormatBool(sel.MaskClouds))
	return v.Encode()
}

func summarise(p *proc.RenderPayload) renderSummary {
	query := selectionQuery(p.Selections, p.TimeStamp)
	sum := renderSummary{
		Mode:       p.Mode,
		Time:       p.TimeStamp.UTC().Format(utils.ISOFormat),
		Selections: p.Selections,
		Label:      p.Label,
		Title:      p.Title,
		Image:      "/api/render.png?" + query,
	}
	sum.Pixels, sum.ValidPixels = payloadPixels(p)

	switch p.Mode {
	case proc.ModeIndex:
		sum.Width, sum.Height = p.Index.Width, p.Index.Height
		sum.Swipe = "/api/swipe.png?" + query
		sum.Histogram = "/api/histogram.png"
		if lo, hi, ok := p.Index.Range(); ok {
			sum.Range = []float64{lo, hi}
		}
	case proc.ModeComposite:
		sum.Width, sum.Height = p.Composite.Width, p.Composite.Height
	}
	return sum
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	out, err := json.Marshal(v)
	if err != nil {
		httpJSONError(w, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

type catalogItem struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Title string `json:"title,omitempty"`
}

type catalog struct {
	Times        []string      `json:"times"`
	Combinations []catalogItem `json:"combinations"`
	Indices      []catalogItem `json:"indices"`
	Bins         int           `json:"bins"`
}

func (s *dashServer) catalog() catalog {
	conf := s.config.Get()
	cat := catalog{Bins: conf.ServiceConfig.HistogramBins}
	for _, t := range s.store.Times() {
		cat.Times = append(cat.Times, t.UTC().Format(utils.ISOFormat))
	}
	for _, bc := range conf.BandCombinations {
		cat.Combinations = append(cat.Combinations, catalogItem{Name: bc.Name, Label: bc.Label()})
	}
	for _, idx := range conf.SpectralIndices {
		label := fmt.Sprintf("(%s - %s) / (%s + %s)", idx.Band0, idx.Band1, idx.Band0, idx.Band1)
		if len(idx.Expression) > 0 {
			label = idx.Expression
		}
		cat.Indices = append(cat.Indices, catalogItem{Name: idx.Name, Label: label, Title: idx.FullName})
	}
	return cat
}

func (s *dashServer) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.catalog())
}

func (s *dashServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.httpSession(w, r)

	template, err := s.view.GetTemplate("dashboard.jet")
	if err != nil {
		s.Error.Error().Err(err).Msg("dashboard template")
		http.Error(w, fmt.Sprintf("Dashboard template error: %v", err), http.StatusInternalServerError)
		return
	}

	cat := s.catalog()
	dates := make([]string, len(cat.Times))
	for i, ts := range cat.Times {
		dates[i] = ts[:len("2006-01-02")]
	}

	vars := make(jet.VarMap)
	vars.Set("times", cat.Times)
	vars.Set("dates", dates)
	vars.Set("combinations", cat.Combinations)
	vars.Set("indices", cat.Indices)
	vars.Set("bins", cat.Bins)

	var buf bytes.Buffer
	if err := template.Execute(&buf, vars, nil); err != nil {
		s.Error.Error().Err(err).Msg("dashboard template")
		http.Error(w, fmt.Sprintf("Dashboard template error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *dashServer) handleRender(w http.ResponseWriter, r *http.Request) {
	params, err := s.parseParams(r)
	if err != nil {
		httpJSONError(w, err, http.StatusBadRequest)
		return
	}
	sess := s.httpSession(w, r)

	payload, err := s.render(r.Context(), sess, selectionsFromParams(params))
	if err != nil {
		httpJSONError(w, err, errorStatus(err))
		return
	}
	writeJSON(w, summarise(payload))
}

// cacheKey identifies a composite picture: acquisition, bands, mask
// flag and the rescale settings of the current config. ok is false
// when the selection cannot be cached.
func (s *dashServer) cacheKey(kind string, sel proc.Selections) (string, bool) {
	if s.mc == nil || len(sel.Index) > 0 {
		return "", false
	}
	ts, err := utils.MatchTime(s.store.Times(), sel.Time)
	if err != nil {
		return "", false
	}
	name := sel.Combination
	if len(name) == 0 {
		name = utils.TrueColor.Name
	}
	conf := s.config.Get()
	combo, ok := conf.Combination(name)
	if !ok {
		return "", false
	}
	sc := conf.ServiceConfig
	buff := md5.Sum([]byte(fmt.Sprintf("%s|%s|%s|%s|%t|%g|%d", kind, ts.UTC().Format(utils.ISOFormat), combo.Name, combo.Label(), sel.MaskClouds, sc.QuantificationValue, sc.Sentinel())))
	return hex.EncodeToString(buff[:]), true
}

func (s *dashServer) writeCached(w http.ResponseWriter, r *http.Request, hash, contentType string) bool {
	if len(hash) == 0 {
		return false
	}
	cached, err := s.mc.Get(hash)
	if err != nil {
		return false
	}
	metricsFromContext(r.Context()).Info.Render.CacheHit = true
	w.Header().Set("Content-Type", contentType)
	w.Write(cached.Value)
	return true
}

func (s *dashServer) storeCached(hash string, out []byte) {
	if len(hash) > 0 {
		// don't care about errors; memcache may not necessarily retain this anyway
		s.mc.Set(&memcache.Item{Key: hash, Value: out})
	}
}

func (s *dashServer) handleRenderPNG(w http.ResponseWriter, r *http.Request) {
	s.servePicture(w, r, "render", false)
}

func (s *dashServer) handleSwipePNG(w http.ResponseWriter, r *http.Request) {
	s.servePicture(w, r, "swipe", true)
}

// servePicture renders the selection as PNG. The swipe picture is the
// true colour composite of the same acquisition and does not touch the
// session.
func (s *dashServer) servePicture(w http.ResponseWriter, r *http.Request, kind string, swipe bool) {
	params, err := s.parseParams(r)
	if err != nil {
		httpJSONError(w, err, http.StatusBadRequest)
		return
	}
	sel := selectionsFromParams(params)

	var sess *proc.Session
	if swipe {
		sel.Index, sel.Combination = "", utils.TrueColor.Name
	} else {
		sess = s.httpSession(w, r)
	}

	hash, _ := s.cacheKey(kind, sel)
	if s.writeCached(w, r, hash, "image/png") {
		return
	}

	payload, err := s.render(r.Context(), sess, sel)
	if err != nil {
		httpJSONError(w, err, errorStatus(err))
		return
	}

	var buf bytes.Buffer
	if payload.Mode == proc.ModeIndex {
		err = proc.EncodeIndexPNG(&buf, payload.Index, payload.ColourMap)
	} else {
		err = proc.EncodeCompositePNG(&buf, payload.Composite)
	}
	if err != nil {
		s.Error.Error().Err(err).Msg("png encoding")
		httpJSONError(w, err, http.StatusInternalServerError)
		return
	}

	s.storeCached(hash, buf.Bytes())
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

// handleRenderJPEG serves composites as JPEG with excluded pixels
// drawn black.
func (s *dashServer) handleRenderJPEG(w http.ResponseWriter, r *http.Request) {
	params, err := s.parseParams(r)
	if err != nil {
		httpJSONError(w, err, http.StatusBadRequest)
		return
	}
	sel := selectionsFromParams(params)
	if len(sel.Index) > 0 {
		httpJSONError(w, errors.New("JPEG output is only available for band combinations"), http.StatusBadRequest)
		return
	}
	sess := s.httpSession(w, r)

	hash, _ := s.cacheKey("jpeg", sel)
	if s.writeCached(w, r, hash, "image/jpeg") {
		return
	}

	payload, err := s.render(r.Context(), sess, sel)
	if err != nil {
		httpJSONError(w, err, errorStatus(err))
		return
	}

	quality := proc.DefaultJPEGQuality
	if q, err := strconv.Atoi(r.URL.Query().Get("quality")); err == nil {
		quality = q
	}

	var buf bytes.Buffer
	if err := proc.EncodeCompositeJPEG(&buf, payload.Composite, color.Black, quality); err != nil {
		httpJSONError(w, err, http.StatusInternalServerError)
		return
	}
	s.storeCached(hash, buf.Bytes())
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(buf.Bytes())
}

func (s *dashServer) histogram(r *http.Request) (*proc.Histogram, error) {
	params, err := s.parseParams(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", proc.ErrInvalidBins, err)
	}
	bins := s.config.Get().ServiceConfig.HistogramBins
	if params.Bins != nil {
		bins = *params.Bins
	}

	sess, ok := s.sessions.Get(sessionID(r))
	if !ok {
		return nil, proc.ErrNoIndex
	}
	sess.Lock()
	defer sess.Unlock()
	return sess.Histogram(bins)
}

func sessionID(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

type histogramResponse struct {
	*proc.Histogram
	Title string `json:"title"`
	Empty bool   `json:"empty"`
	Total int    `json:"total"`
}

func (s *dashServer) handleHistogram(w http.ResponseWriter, r *http.Request) {
	h, err := s.histogram(r)
	if err != nil {
		httpJSONError(w, err, errorStatus(err))
		return
	}
	writeJSON(w, histogramResponse{Histogram: h, Title: proc.HistogramTitle(h.Name), Empty: h.Empty(), Total: int(h.Total())})
}

func (s *dashServer) handleHistogramPNG(w http.ResponseWriter, r *http.Request) {
	h, err := s.histogram(r)
	if err != nil {
		httpJSONError(w, err, errorStatus(err))
		return
	}

	var buf bytes.Buffer
	if err := proc.EncodeHistogramChart(&buf, h, proc.DefaultChartWidth, proc.DefaultChartHeight); err != nil {
		httpJSONError(w, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

type pixelResponse struct {
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// handlePixel reports the value of the last index under the cursor.
// Excluded pixels answer 204 so no tooltip is shown.
func (s *dashServer) handlePixel(w http.ResponseWriter, r *http.Request) {
	params, err := s.parseParams(r)
	if err != nil {
		httpJSONError(w, err, http.StatusBadRequest)
		return
	}
	if params.X == nil || params.Y == nil {
		httpJSONError(w, errors.New("pixel requires x and y"), http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.Get(sessionID(r))
	if !ok {
		httpJSONError(w, proc.ErrNoIndex, http.StatusConflict)
		return
	}
	index := sess.LastIndex()
	if index == nil {
		httpJSONError(w, proc.ErrNoIndex, http.StatusConflict)
		return
	}

	value, ok := index.ValueAt(*params.X, *params.Y)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, pixelResponse{X: *params.X, Y: *params.Y, Name: index.Name, Value: value})
}

type wsError struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// handleWebSocket binds the page reactively: every selection message
// is rendered in arrival order and answered with its summary.
func (s *dashServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, cookie := s.session(r)
	header := http.Header{}
	if cookie != nil {
		header.Add("Set-Cookie", cookie.String())
	}

	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.Error.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.Error.Error().Err(err).Str("session", sess.ID).Msg("WebSocket read failed")
			}
			return
		}

		var sel proc.Selections
		if err := json.Unmarshal(msg, &sel); err != nil {
			conn.WriteJSON(wsError{Error: err.Error(), Status: http.StatusBadRequest})
			continue
		}

		ctx := context.WithValue(r.Context(), metricsKey, metrics.NewMetricsCollector(nil))
		payload, err := s.render(ctx, sess, sel)
		if err != nil {
			err = conn.WriteJSON(wsError{Error: err.Error(), Status: errorStatus(err)})
		} else {
			err = conn.WriteJSON(summarise(payload))
		}
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.Error.Error().Err(err).Str("session", sess.ID).Msg("WebSocket write failed")
			}
			return
		}
	}
}
