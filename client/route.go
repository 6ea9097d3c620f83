package client

import (
	"fmt"
	"net/url"
	"regexp"
)

// Params holds the values substituted into a route's path template.
type Params map[string]any

// Route is a single resolved API endpoint.
type Route struct {
	Method string
	Path   string
	URL    string
}

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// NewRoute resolves path against base. Each {name} placeholder is replaced
// by params[name] in a single pass; string values are percent-encoded,
// anything else is substituted as-is. Placeholders without a param are left
// untouched.
func NewRoute(base, method, path string, params Params) Route {
	resolved := placeholderRe.ReplaceAllStringFunc(path, func(m string) string {
		v, ok := params[m[1:len(m)-1]]
		if !ok {
			return m
		}
		if str, ok := v.(string); ok {
			return url.PathEscape(str)
		}
		return fmt.Sprint(v)
	})

	return Route{
		Method: method,
		Path:   path,
		URL:    base + resolved,
	}
}

// Bucket is the rate-limit grouping key. Routes built from the same
// template share it regardless of their parameters.
func (r Route) Bucket() string {
	return r.Path
}

func (r Route) String() string {
	return r.Method + " " + r.URL
}
