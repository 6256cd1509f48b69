package mas

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nci/gomemcache/memcache"
	"github.com/nci/s2dash/utils"
	"github.com/rs/zerolog"
)

// Handler serves the index over HTTP. The collection is the URL path:
//
//	GET /s2?timestamps[&time=...][&until=...]  -> {"timestamps": [...]}
//	GET /s2?scene&time=...                    -> scene metadata document
//
// Responses are cached in memcache, when configured, keyed by the md5
// of the request URI.
type Handler struct {
	Index *Index
	MC    *memcache.Client
	Log   zerolog.Logger
}

// Spit out a simple JSON-formatted error message for Content-Type: application/json
func httpJSONError(response http.ResponseWriter, err error, status int) {
	http.Error(response, fmt.Sprintf(`{ "error": %q }`, err.Error()), status)
}

func parseTimeParam(value string) (time.Time, error) {
	if len(value) == 0 {
		return time.Time{}, nil
	}
	if t, err := time.Parse(utils.ISOFormat, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func (h *Handler) ServeHTTP(response http.ResponseWriter, request *http.Request) {
	response.Header().Set("Content-Type", "application/json")

	var hash string
	if h.MC != nil {
		buff := md5.Sum([]byte(request.URL.RequestURI()))
		hash = hex.EncodeToString(buff[:])

		if cached, err := h.MC.Get(hash); err == nil {
			response.Write(cached.Value)
			return
		}
	}

	collection := strings.Trim(request.URL.Path, "/")
	query := request.URL.Query()

	var payload interface{}
	var err error
	status := http.StatusBadRequest

	switch {
	case query.Has("timestamps"):
		var since, until time.Time
		if since, err = parseTimeParam(query.Get("time")); err != nil {
			break
		}
		if until, err = parseTimeParam(query.Get("until")); err != nil {
			break
		}
		var times []time.Time
		times, err = h.Index.Times(request.Context(), collection, since, until)
		if err != nil {
			status = http.StatusInternalServerError
			break
		}
		stamps := make([]string, len(times))
		for i, t := range times {
			stamps[i] = t.Format(utils.ISOFormat)
		}
		payload = map[string][]string{"timestamps": stamps}

	case query.Has("scene"):
		var t time.Time
		if t, err = parseTimeParam(query.Get("time")); err != nil {
			break
		}
		if t.IsZero() {
			err = errors.New("scene requires a time")
			break
		}
		payload, err = h.Index.Lookup(request.Context(), collection, t)
		if errors.Is(err, utils.ErrTimeNotFound) {
			status = http.StatusNotFound
		} else if err != nil {
			status = http.StatusInternalServerError
		}

	default:
		err = errors.New("unknown operation; currently supported: ?timestamps, ?scene")
	}

	if err != nil {
		h.Log.Debug().Err(err).Str("uri", request.URL.RequestURI()).Int("status", status).Msg("metadata request failed")
		httpJSONError(response, err, status)
		return
	}

	out, err := json.Marshal(payload)
	if err != nil {
		httpJSONError(response, err, http.StatusInternalServerError)
		return
	}
	response.Write(out)

	if h.MC != nil {
		// don't care about errors; memcache may not necessarily retain this anyway
		h.MC.Set(&memcache.Item{Key: hash, Value: out})
	}
}
