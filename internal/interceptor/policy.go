package interceptor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"reviews_app/internal/adapters/observability"
	"reviews_app/internal/domain"
)

// Cache names. Only the static shell cache is versioned.
const (
	CachePrefix = "reviews-app--"
	ImageCache  = CachePrefix + "imgs"
	FontsCache  = CachePrefix + "fonts"
	MapCache    = CachePrefix + "mapAPI"
)

// WidthHeader records the width a cached photo was fetched at.
const WidthHeader = "X-Image-Width"

func StaticCacheName(version string) string { return CachePrefix + "static-" + version }

// routes holds the same-origin URL patterns for one base path.
type routes struct {
	origin *url.URL
	base   string
	detail *regexp.Regexp
	image  *regexp.Regexp
}

func newRoutes(origin *url.URL, base string) routes {
	base = strings.TrimRight(base, "/")
	q := regexp.QuoteMeta(base)
	return routes{
		origin: origin,
		base:   base,
		detail: regexp.MustCompile(`^` + q + `/restaurant(\.html)?$`),
		image:  regexp.MustCompile(`^` + q + `/assets/img/(.+)-(\d+)w\.(jpg|webp|png)$`),
	}
}

func (r routes) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, r.origin.Scheme) && strings.EqualFold(u.Host, r.origin.Host)
}

// resolve turns an app-relative path like "./restaurant" into a cache key.
func (r routes) resolve(rel string) string {
	root := *r.origin
	root.Path = r.base + "/"
	ref, err := url.Parse(rel)
	if err != nil {
		return root.String() + strings.TrimPrefix(rel, "./")
	}
	return cacheKey(root.ResolveReference(ref))
}

func (r routes) detailKey() string      { return r.resolve("./restaurant") }
func (r routes) placeholderKey() string { return r.resolve("./assets/offline.png") }
func (r routes) shellKey() string       { return r.resolve("./") }

// photoKey strips the width suffix, so every width of a photo shares a key.
func (r routes) photoKey(u *url.URL) (key string, width int, matched bool) {
	m := r.image.FindStringSubmatch(u.Path)
	if m == nil {
		return "", 0, false
	}
	width, _ = strconv.Atoi(m[2])
	k := *u
	k.Path = r.base + "/assets/img/" + m[1] + "." + m[3]
	k.RawPath = ""
	k.RawQuery = ""
	return cacheKey(&k), width, true
}

// ---- policies ----

// RoundTrip applies the generation's interception policies.
func (g *Generation) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		observability.ObserveIntercept("passthrough", fromNetwork)
		return g.upstream.RoundTrip(req)
	}
	u := req.URL
	switch {
	case g.routes.sameOrigin(u) && g.routes.detail.MatchString(u.Path):
		return g.detailPage(req)
	case g.routes.sameOrigin(u) && g.routes.image.MatchString(u.Path):
		return g.photo(req)
	case g.fontHosts[strings.ToLower(u.Hostname())]:
		return g.networkFirst(req, FontsCache, "fonts")
	case g.mapHosts[strings.ToLower(u.Hostname())]:
		return g.networkFirst(req, MapCache, "map")
	case g.routes.sameOrigin(u):
		return g.cacheFirst(req)
	}
	observability.ObserveIntercept("passthrough", fromNetwork)
	return g.upstream.RoundTrip(req)
}

// detailPage serves every detail URL, whatever its query, from one entry.
func (g *Generation) detailPage(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := g.routes.detailKey()
	if sr, hit, err := g.match(ctx, g.staticName, key); err == nil && hit {
		observability.ObserveIntercept("detail", fromCache)
		return toResponse(req, sr, fromCache), nil
	}
	resp, err := g.fetch(ctx, req, key)
	if err != nil {
		observability.ObserveIntercept("detail", "error")
		return nil, err
	}
	observability.ObserveIntercept("detail", fromNetwork)
	return resp, nil
}

// photo keeps at most one width per photo, only ever replacing it with a
// larger one.
func (g *Generation) photo(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key, want, _ := g.routes.photoKey(req.URL)
	cached, hit, err := g.match(ctx, ImageCache, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("image cache lookup failed")
	}
	if hit && cachedWidth(cached) >= want {
		observability.ObserveIntercept("image", fromCache)
		return toResponse(req, cached, fromCache), nil
	}

	resp, err := g.fetch(ctx, req, cacheKey(req.URL))
	if err != nil {
		if hit {
			observability.ObserveIntercept("image", fromCache)
			return toResponse(req, cached, fromCache), nil
		}
		return g.placeholder(req, "image", err)
	}
	if !ok(resp.StatusCode) {
		observability.ObserveIntercept("image", fromNetwork)
		return resp, nil
	}
	sr, err := capture(resp)
	if err != nil {
		return nil, err
	}
	sr.Header.Set(WidthHeader, strconv.Itoa(want))
	if perr := g.upgradeImage(ctx, key, want, sr); perr != nil {
		log.Warn().Err(perr).Str("key", key).Msg("image cache put failed")
	}
	observability.ObserveIntercept("image", fromNetwork)
	return toResponse(req, sr, fromNetwork), nil
}

// upgradeImage stores sr under key unless an entry at least as wide got
// there while sr was being fetched.
func (g *Generation) upgradeImage(ctx context.Context, key string, want int, sr *domain.StoredResponse) error {
	g.imageMu.Lock()
	defer g.imageMu.Unlock()
	cached, hit, err := g.match(ctx, ImageCache, key)
	if err != nil {
		return err
	}
	if hit && cachedWidth(cached) >= want {
		log.Debug().Str("key", key).Int("width", want).Msg("wider image already cached")
		return nil
	}
	return g.put(ctx, ImageCache, key, sr)
}

func cachedWidth(sr *domain.StoredResponse) int {
	w, err := strconv.Atoi(sr.Header.Get(WidthHeader))
	if err != nil {
		return 0
	}
	return w
}

// networkFirst stores successes in cacheName and falls back to that cache
// only.
func (g *Generation) networkFirst(req *http.Request, cacheName, policy string) (*http.Response, error) {
	ctx := req.Context()
	key := cacheKey(req.URL)
	resp, err := g.fetch(ctx, req, key)
	if err == nil {
		if !ok(resp.StatusCode) {
			observability.ObserveIntercept(policy, fromNetwork)
			return resp, nil
		}
		sr, cerr := capture(resp)
		if cerr != nil {
			return nil, cerr
		}
		if perr := g.put(ctx, cacheName, key, sr); perr != nil {
			log.Warn().Err(perr).Str("cache", cacheName).Msg("cache put failed")
		}
		observability.ObserveIntercept(policy, fromNetwork)
		return toResponse(req, sr, fromNetwork), nil
	}
	if sr, hit, merr := g.match(ctx, cacheName, key); merr == nil && hit {
		observability.ObserveIntercept(policy, fromCache)
		return toResponse(req, sr, fromCache), nil
	}
	observability.ObserveIntercept(policy, "error")
	return nil, err
}

// cacheFirst answers from any cache, then the network. Offline, navigations
// get the app shell and images the placeholder.
func (g *Generation) cacheFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := cacheKey(req.URL)
	sr, hit, err := g.storage.Match(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache lookup failed")
	}
	if hit {
		observability.ObserveIntercept("static", fromCache)
		return toResponse(req, sr, fromCache), nil
	}
	resp, err := g.fetch(ctx, req, key)
	if err == nil {
		observability.ObserveIntercept("static", fromNetwork)
		return resp, nil
	}
	switch {
	case isNavigation(req):
		if shell, hit, _ := g.match(ctx, g.staticName, g.routes.shellKey()); hit {
			observability.ObserveIntercept("static", fromPlaceholder)
			return toResponse(req, shell, fromPlaceholder), nil
		}
	case isImage(req):
		return g.placeholder(req, "static", err)
	}
	observability.ObserveIntercept("static", "error")
	return nil, err
}

func (g *Generation) placeholder(req *http.Request, policy string, cause error) (*http.Response, error) {
	sr, hit, err := g.match(req.Context(), g.staticName, g.routes.placeholderKey())
	if err != nil || !hit {
		observability.ObserveIntercept(policy, "error")
		return nil, cause
	}
	observability.ObserveIntercept(policy, fromPlaceholder)
	return toResponse(req, sr, fromPlaceholder), nil
}

func isNavigation(req *http.Request) bool {
	return req.Header.Get("Sec-Fetch-Mode") == "navigate" ||
		strings.Contains(req.Header.Get("Accept"), "text/html")
}

func isImage(req *http.Request) bool {
	if strings.HasPrefix(req.Header.Get("Accept"), "image/") {
		return true
	}
	switch strings.ToLower(extension(req.URL)) {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif", ".svg":
		return true
	}
	return false
}

func extension(u *url.URL) string {
	i := strings.LastIndexByte(u.Path, '.')
	if i < 0 || strings.Contains(u.Path[i:], "/") {
		return ""
	}
	return u.Path[i:]
}

// fetch GETs target through the upstream transport with req's headers.
func (g *Generation) fetch(ctx context.Context, req *http.Request, target string) (*http.Response, error) {
	out, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	out.Header = req.Header.Clone()
	resp, err := g.upstream.RoundTrip(out)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", domain.ErrTransport, target, err)
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	resp.Header.Set(SourceHeader, fromNetwork)
	return resp, nil
}

func (g *Generation) match(ctx context.Context, cacheName, key string) (*domain.StoredResponse, bool, error) {
	c, err := g.storage.Open(ctx, cacheName)
	if err != nil {
		return nil, false, err
	}
	return c.Match(ctx, key)
}

func (g *Generation) put(ctx context.Context, cacheName, key string, sr *domain.StoredResponse) error {
	c, err := g.storage.Open(ctx, cacheName)
	if err != nil {
		return err
	}
	return c.Put(ctx, key, sr)
}
