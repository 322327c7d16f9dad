package acfetch

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseCacheControl(t *testing.T) {
	d := parseCacheControl("max-age=60, stale-while-revalidate=30, no-cache")
	if d.maxAge == nil || *d.maxAge != time.Minute {
		t.Errorf("maxAge = %v, want 1m", d.maxAge)
	}
	if d.staleWhileRevalidate == nil || *d.staleWhileRevalidate != 30*time.Second {
		t.Errorf("staleWhileRevalidate = %v, want 30s", d.staleWhileRevalidate)
	}
	if !d.noCache || d.noStore {
		t.Errorf("flags = noCache %v noStore %v", d.noCache, d.noStore)
	}

	if !parseCacheControl("no-store").noStore {
		t.Error("no-store not parsed")
	}
	if parseCacheControl("").maxAge != nil {
		t.Error("empty header produced directives")
	}
	if parseCacheControl("max-age=garbage").maxAge != nil {
		t.Error("unparseable max-age accepted")
	}
	if d := parseCacheControl(`s-maxage="120"`); d.sMaxAge == nil || *d.sMaxAge != 2*time.Minute {
		t.Error("quoted s-maxage not parsed")
	}
}

func TestHeaderExpiry(t *testing.T) {
	now := time.Now()

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Cache-Control", "max-age=60")
	expiresAt, staleUntil, ok := headerExpiry(resp, now)
	if !ok {
		t.Fatal("max-age response reported no freshness")
	}
	if got := expiresAt.Sub(now); got != time.Minute {
		t.Errorf("expiresAt offset = %v, want 1m", got)
	}
	if !staleUntil.Equal(expiresAt) {
		t.Error("staleUntil extended without stale-while-revalidate")
	}

	resp.Header.Set("Cache-Control", "max-age=60, stale-while-revalidate=30")
	expiresAt, staleUntil, ok = headerExpiry(resp, now)
	if !ok || staleUntil.Sub(expiresAt) != 30*time.Second {
		t.Errorf("staleUntil - expiresAt = %v, want 30s", staleUntil.Sub(expiresAt))
	}

	// must-revalidate suppresses the stale window.
	resp.Header.Set("Cache-Control", "max-age=60, stale-while-revalidate=30, must-revalidate")
	expiresAt, staleUntil, _ = headerExpiry(resp, now)
	if !staleUntil.Equal(expiresAt) {
		t.Error("must-revalidate did not suppress stale-while-revalidate")
	}

	// s-maxage wins over max-age.
	resp.Header.Set("Cache-Control", "max-age=60, s-maxage=120")
	expiresAt, _, _ = headerExpiry(resp, now)
	if got := expiresAt.Sub(now); got != 2*time.Minute {
		t.Errorf("s-maxage expiresAt offset = %v, want 2m", got)
	}

	// Expires fallback.
	resp.Header = http.Header{}
	resp.Header.Set("Expires", now.Add(time.Hour).UTC().Format(http.TimeFormat))
	expiresAt, _, ok = headerExpiry(resp, now)
	if !ok {
		t.Fatal("Expires header ignored")
	}
	if got := expiresAt.Sub(now); got < 59*time.Minute || got > time.Hour {
		t.Errorf("Expires offset = %v, want ~1h", got)
	}

	// No freshness information at all.
	resp.Header = http.Header{}
	if _, _, ok := headerExpiry(resp, now); ok {
		t.Error("header-less response reported freshness")
	}

	// no-store forbids storing.
	resp.Header.Set("Cache-Control", "no-store, max-age=60")
	if _, _, ok := headerExpiry(resp, now); ok {
		t.Error("no-store response reported freshness")
	}
}

func TestAddConditionalHeaders(t *testing.T) {
	lm := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entry := &CacheEntry{ETag: `"abc"`, LastModified: &lm}

	req := httptest.NewRequest("GET", "http://example.com/", nil)
	addConditionalHeaders(req, entry)

	if got := req.Header.Get("If-None-Match"); got != `"abc"` {
		t.Errorf("If-None-Match = %q", got)
	}
	if got := req.Header.Get("If-Modified-Since"); got != lm.Format(http.TimeFormat) {
		t.Errorf("If-Modified-Since = %q", got)
	}

	bare := httptest.NewRequest("GET", "http://example.com/", nil)
	addConditionalHeaders(bare, &CacheEntry{})
	if len(bare.Header) != 0 {
		t.Errorf("headers added for an entry without validators: %v", bare.Header)
	}
}
