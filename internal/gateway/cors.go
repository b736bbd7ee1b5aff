package gateway

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

const (
	corsAllowHeaders = "authorization, x-client-info, apikey, content-type"
	corsAllowMethods = "POST, GET, OPTIONS"
	corsMaxAge       = "86400"
)

// CORS matches request origins against exact strings and ^...$ patterns
type CORS struct {
	exact    map[string]bool
	patterns []*regexp.Regexp
}

// NewCORS compiles the allowed origins. Entries starting with "^" are
// regular expressions; everything else must match exactly.
func NewCORS(origins []string) (*CORS, error) {
	c := &CORS{exact: make(map[string]bool)}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if strings.HasPrefix(o, "^") {
			re, err := regexp.Compile(o)
			if err != nil {
				return nil, fmt.Errorf("invalid origin pattern %q: %w", o, err)
			}
			c.patterns = append(c.patterns, re)
			continue
		}
		c.exact[o] = true
	}
	return c, nil
}

// Allowed reports whether origin may call the API
func (c *CORS) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if c.exact[origin] {
		return true
	}
	for _, re := range c.patterns {
		if re.MatchString(origin) {
			return true
		}
	}
	return false
}

// SetHeaders writes the CORS response headers for origin
func (c *CORS) SetHeaders(h http.Header, origin string) {
	h.Add("Vary", "Origin")
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	if !c.Allowed(origin) {
		h.Set("Access-Control-Allow-Origin", "null")
		return
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Max-Age", corsMaxAge)
}

// Middleware applies CORS headers and answers preflight requests with 204
func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.SetHeaders(w.Header(), r.Header.Get("Origin"))
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
