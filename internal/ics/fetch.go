package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	appLog "calwidget/internal/log"
)

var (
	// ErrNotPublic is returned when the feed endpoint refuses access, which is
	// how Google answers for calendars that are not shared publicly.
	ErrNotPublic = errors.New("calendar feed is not public")
	ErrEmptyURL  = errors.New("source URL is empty")
)

// GoogleFeedURL returns the public iCalendar export URL of a Google calendar.
func GoogleFeedURL(calendarID string) string {
	return "https://calendar.google.com/calendar/ical/" + url.PathEscape(calendarID) + "/public/basic.ics"
}

// Source represents a single calendar feed.
type Source struct {
	// ID is an internal identifier (e.g., config calendar ID).
	ID string
	// URL is the feed endpoint.
	URL string
}

// FetchResult contains the outcome of fetching a single feed.
type FetchResult struct {
	Source    Source
	Body      []byte // feed payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused a cached body (memory, 304 or fallback)
}

// cacheEntry holds HTTP cache metadata for a single feed URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type memEntry struct {
	body      []byte
	fetchedAt time.Time
}

// Fetcher fetches feeds with a short in-memory cache in front of HTTP
// caching (ETag / Last-Modified) and a disk-backed copy of the last body.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	ttl      time.Duration
	now      func() time.Time

	mu  sync.Mutex
	mem map[string]memEntry
}

// NewFetcher creates a new Fetcher.
//
// cacheDir is the base directory where per-URL cache subdirectories and
// metadata will be stored. ttl is how long a body is served from memory
// without touching the network; zero disables the memory cache.
func NewFetcher(cacheDir string, ttl time.Duration) *Fetcher {
	if cacheDir == "" {
		// Fallback to a relative dir so that development runs without
		// root permissions.
		cacheDir = "./var/feed-cache"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir: cacheDir,
		ttl:      ttl,
		now:      time.Now,
		mem:      make(map[string]memEntry),
	}
}

// FetchAll fetches all given sources and returns individual results.
// Errors for individual sources are logged and returned in the error slice.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	results := make([]FetchResult, 0, len(sources))
	errs := make([]error, 0)

	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			errs = append(errs, err)
			appLog.Error("feed fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		results = append(results, res)
	}

	return results, errs
}

// FetchOne returns the feed body, from memory when it is younger than the
// TTL, otherwise over HTTP.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, ErrEmptyURL
	}
	if body, ok := f.fromMemory(src.URL); ok {
		appLog.Debug("feed served from memory", "id", src.ID)
		return FetchResult{Source: src, Body: body, FromCache: true}, nil
	}
	return f.fetch(ctx, src)
}

// Refresh bypasses the memory cache; the scheduler uses it to keep feeds warm.
func (f *Fetcher) Refresh(ctx context.Context, sources []Source) []error {
	errs := make([]error, 0)
	for _, src := range sources {
		if _, err := f.fetch(ctx, src); err != nil {
			appLog.Error("feed refresh failed", err, "id", src.ID, "url", redactURL(src.URL))
			errs = append(errs, err)
		}
	}
	return errs
}

func (f *Fetcher) fromMemory(u string) ([]byte, bool) {
	if f.ttl <= 0 {
		return nil, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.mem[u]
	if !ok || f.now().Sub(e.fetchedAt) >= f.ttl {
		return nil, false
	}
	return e.body, true
}

func (f *Fetcher) remember(u string, body []byte) {
	f.mu.Lock()
	f.mem[u] = memEntry{body: body, fetchedAt: f.now()}
	f.mu.Unlock()
}

// fetch performs the conditional GET, honoring ETag and Last-Modified.
func (f *Fetcher) fetch(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, ErrEmptyURL
	}

	cachePath, err := f.cachePathForURL(src.URL)
	if err != nil {
		return FetchResult{}, err
	}

	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}

	// Conditional headers from cache metadata.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("feed fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		// Network error; if we have a cached body, fall back to it.
		if len(cachedBody) > 0 {
			appLog.Error("feed fetch network error, using cached body", err, "id", src.ID, "url", redactURL(src.URL))
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, readErr
		}

		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("feed cache save failed", err, "id", src.ID, "url", redactURL(src.URL))
		}
		f.remember(src.URL, body)

		appLog.Info("feed fetch success", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode, "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		f.remember(src.URL, cachedBody)
		appLog.Info("feed fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		// Non-OK status: if we have cached data, fall back to it.
		if len(cachedBody) > 0 {
			appLog.Error("feed fetch non-OK, using cached body", errors.New(resp.Status), "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode)
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
			return FetchResult{}, fmt.Errorf("%s: %w", src.ID, ErrNotPublic)
		}
		return FetchResult{}, fmt.Errorf("%s: unexpected status %s", src.ID, resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(u string) (string, error) {
	if u == "" {
		return "", ErrEmptyURL
	}
	sum := sha256.Sum256([]byte(u))
	// Use first 16 hex chars as directory name.
	dir := hex.EncodeToString(sum[:8])
	return filepath.Join(f.cacheDir, dir), nil
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body. Both go through
	// rename so concurrent readers see either the old file or the new one.
	if err := writeFileAtomic(cachePath, "body.ics", body); err != nil {
		return err
	}

	meta.UpdatedAt = f.now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(cachePath, "meta.json", data)
}

// writeFileAtomic writes data to dir/name via a temp file in the same
// directory and a rename. The final file has 0600 permissions.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, filepath.Join(dir, name))
}

// redactURL keeps only scheme and host; Google feed paths embed the
// calendar id and sometimes a private key.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}
