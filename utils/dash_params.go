package utils

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DashParams contains the serialised version of the selections
// carried by a dashboard request.
type DashParams struct {
	Time        *string `json:"time,omitempty"`
	Combination *string `json:"combination,omitempty"`
	Index       *string `json:"index,omitempty"`
	MaskClouds  *bool   `json:"mask,omitempty"`
	Bins        *int    `json:"bins,omitempty"`
	X           *int    `json:"x,omitempty"`
	Y           *int    `json:"y,omitempty"`
}

// DashRegexpMap maps request parameters to regular expressions for
// validation when parsing. Values that fail are dropped, and error
// free JSON deserialisation into types validates the rest.
var DashRegexpMap = map[string]string{
	"time":        `^\d{4}-(?:1[0-2]|0[1-9])-(?:3[01]|0[1-9]|[12][0-9])(?:T[0-2]\d:[0-5]\d:[0-5]\d(?:\.\d+)?Z)?$`,
	"combination": `^[A-Za-z0-9 ()_,\-]{1,64}$`,
	"index":       `^[A-Za-z0-9_\-]{1,32}$`,
	"mask":        `^(?i)(?:true|false|1|0|on|off)$`,
	"bins":        `^[0-9]{1,4}$`,
	"x":           `^[0-9]+$`,
	"y":           `^[0-9]+$`,
}

func CompileDashRegexMap() map[string]*regexp.Regexp {
	REMap := make(map[string]*regexp.Regexp)
	for key, re := range DashRegexpMap {
		REMap[key] = regexp.MustCompile(re)
	}

	return REMap
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "on":
		return true
	}
	return false
}

// DashParamsChecker checks and marshals the content of the parameters
// of a dashboard request into a DashParams struct.
func DashParamsChecker(params map[string][]string, compREMap map[string]*regexp.Regexp) (DashParams, error) {
	jsonFields := []string{}

	for _, key := range []string{"time", "combination", "index"} {
		if value, ok := params[key]; ok && len(value) > 0 {
			if !compREMap[key].MatchString(value[0]) {
				return DashParams{}, fmt.Errorf("invalid %s: %q", key, value[0])
			}
			jsonFields = append(jsonFields, fmt.Sprintf(`"%s":%s`, key, strconv.Quote(value[0])))
		}
	}

	if mask, ok := params["mask"]; ok && len(mask) > 0 {
		if !compREMap["mask"].MatchString(mask[0]) {
			return DashParams{}, fmt.Errorf("invalid mask: %q", mask[0])
		}
		jsonFields = append(jsonFields, fmt.Sprintf(`"mask":%t`, parseBool(mask[0])))
	}

	for _, key := range []string{"bins", "x", "y"} {
		if value, ok := params[key]; ok && len(value) > 0 {
			if !compREMap[key].MatchString(value[0]) {
				return DashParams{}, fmt.Errorf("invalid %s: %q", key, value[0])
			}
			jsonFields = append(jsonFields, fmt.Sprintf(`"%s":%s`, key, value[0]))
		}
	}

	jsonParams := fmt.Sprintf("{%s}", strings.Join(jsonFields, ","))

	var dashParams DashParams
	err := json.Unmarshal([]byte(jsonParams), &dashParams)
	return dashParams, err
}

// MatchTime resolves a requested time, either a full ISO timestamp or
// a date, against the available acquisition times.
func MatchTime(times []time.Time, value string) (time.Time, error) {
	if len(times) == 0 {
		return time.Time{}, ErrTimeNotFound
	}
	if len(value) == 0 {
		return times[len(times)-1], nil
	}

	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		for _, ts := range times {
			if ts.Equal(t) {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %s", ErrTimeNotFound, value)
	}

	day, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %v", value, err)
	}
	for _, ts := range times {
		y, m, d := ts.UTC().Date()
		if y == day.Year() && m == day.Month() && d == day.Day() {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s", ErrTimeNotFound, value)
}

// ParseQuery parses a raw query string like url.ParseQuery but lower
// cases the keys and lets values carry an escaped ampersand ("\&").
func ParseQuery(query string) (m url.Values, err error) {
	m = make(url.Values)
	for query != "" {
		key := query
		iSep := -1
		for i := 0; i < len(key); i++ {
			if key[i] == '&' {
				if i > 0 && key[i-1] == '\\' {
					continue
				}
				iSep = i
				break
			}
		}
		if iSep >= 0 {
			key, query = key[:iSep], key[iSep+1:]
		} else {
			query = ""
		}
		if key == "" {
			continue
		}
		value := ""
		if i := strings.Index(key, "="); i >= 0 {
			key, value = key[:i], key[i+1:]
			value = strings.Replace(value, "\\&", "&", -1)
		}
		key, err1 := url.QueryUnescape(key)
		if err1 != nil {
			if err == nil {
				err = err1
			}
			continue
		}
		key = strings.ToLower(key)

		value, err1 = url.QueryUnescape(value)
		if err1 != nil {
			if err == nil {
				err = err1
			}
			continue
		}

		m[key] = append(m[key], value)
	}
	return m, err
}
