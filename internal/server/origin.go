package server

import (
	"net/http"
	"net/url"
	"strings"
)

// DefaultAllowedOrigins are the flashcard app hosts and extension schemes
// allowed to open the websocket.
var DefaultAllowedOrigins = []string{
	"file://",
	"chrome-extension://",
	"moz-extension://",
	"localhost",
	"127.0.0.1",
	"lingoflash.netlify.app",
	"lingoflash.yds.today",
}

// originChecker matches the Origin header against scheme entries ("file://")
// and host entries ("localhost").
type originChecker struct {
	schemes map[string]bool
	hosts   map[string]bool
}

func newOriginChecker(allowed []string) *originChecker {
	c := &originChecker{schemes: map[string]bool{}, hosts: map[string]bool{}}
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
		case strings.HasSuffix(entry, "://"):
			c.schemes[strings.TrimSuffix(entry, "://")] = true
		default:
			c.hosts[entry] = true
		}
	}
	return c
}

func (c *originChecker) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	// file:// pages send the opaque origin "null"
	if origin == "null" {
		return c.schemes["file"]
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if c.schemes[strings.ToLower(u.Scheme)] {
		return true
	}
	return c.hosts[strings.ToLower(u.Hostname())]
}
