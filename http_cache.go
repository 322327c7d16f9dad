package acfetch

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// cacheDirectives is the parsed form of a Cache-Control header.
type cacheDirectives struct {
	noStore              bool
	noCache              bool
	maxAge               *time.Duration
	sMaxAge              *time.Duration
	staleWhileRevalidate *time.Duration
	mustRevalidate       bool
}

func parseCacheControl(header string) *cacheDirectives {
	d := &cacheDirectives{}
	if header == "" {
		return d
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if key, value, found := strings.Cut(part, "="); found {
			key = strings.TrimSpace(key)
			value = strings.Trim(strings.TrimSpace(value), "\"")
			seconds, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			dur := time.Duration(seconds) * time.Second
			switch key {
			case "max-age":
				d.maxAge = &dur
			case "s-maxage":
				d.sMaxAge = &dur
			case "stale-while-revalidate":
				d.staleWhileRevalidate = &dur
			}
			continue
		}

		switch part {
		case "no-store":
			d.noStore = true
		case "no-cache":
			d.noCache = true
		case "must-revalidate":
			d.mustRevalidate = true
		}
	}

	return d
}

func parseHTTPDate(header string) *time.Time {
	if header == "" {
		return nil
	}
	if t, err := http.ParseTime(header); err == nil {
		return &t
	}
	return nil
}

// headerExpiry derives freshness bounds from response headers: max-age (or
// s-maxage) wins over Expires, and stale-while-revalidate extends the
// retention window past expiry. ok is false when the headers either forbid
// storing or say nothing about freshness.
func headerExpiry(resp *http.Response, receivedAt time.Time) (expiresAt, staleUntil time.Time, ok bool) {
	d := parseCacheControl(resp.Header.Get("Cache-Control"))
	if d.noStore || d.noCache {
		return time.Time{}, time.Time{}, false
	}

	maxAge := d.maxAge
	if d.sMaxAge != nil {
		maxAge = d.sMaxAge
	}

	switch {
	case maxAge != nil:
		expiresAt = receivedAt.Add(*maxAge)
	default:
		expires := parseHTTPDate(resp.Header.Get("Expires"))
		if expires == nil {
			return time.Time{}, time.Time{}, false
		}
		expiresAt = *expires
	}

	staleUntil = expiresAt
	if d.staleWhileRevalidate != nil && !d.mustRevalidate {
		staleUntil = expiresAt.Add(*d.staleWhileRevalidate)
	}
	return expiresAt, staleUntil, true
}

// addConditionalHeaders turns a refresh request into a conditional one so an
// unchanged resource answers 304 instead of a full body.
func addConditionalHeaders(req *http.Request, entry *CacheEntry) {
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	}
	if entry.LastModified != nil {
		req.Header.Set("If-Modified-Since", entry.LastModified.Format(http.TimeFormat))
	}
}

func isNotModified(resp *http.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotModified
}
