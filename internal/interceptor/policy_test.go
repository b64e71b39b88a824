package interceptor_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"reviews_app/internal/domain"
	"reviews_app/internal/interceptor"
)

func TestImage_CacheOnlyGrowsTowardLargestWidth(t *testing.T) {
	h := newHarness(t)
	h.register(t, "v1")
	ctx := context.Background()

	if _, body, err := h.get(t, origin+"/assets/img/1-400w.jpg"); err != nil || !strings.HasSuffix(body, "1-400w.jpg") {
		t.Fatalf("400w: %q %v", body, err)
	}
	if _, body, err := h.get(t, origin+"/assets/img/1-800w.jpg"); err != nil || !strings.HasSuffix(body, "1-800w.jpg") {
		t.Fatalf("800w: %q %v", body, err)
	}

	resp, body, err := h.get(t, origin+"/assets/img/1-300w.jpg")
	if err != nil {
		t.Fatalf("300w: %v", err)
	}
	if !strings.HasSuffix(body, "1-800w.jpg") || resp.Header.Get(interceptor.SourceHeader) != "cache" {
		t.Fatalf("300w should be served the cached 800w image, got %q (%s)", body, resp.Header.Get(interceptor.SourceHeader))
	}
	if n := h.net.count("GET", origin+"/assets/img/1-300w.jpg"); n != 0 {
		t.Fatalf("smaller width was fetched %d times", n)
	}

	imgs, _ := h.storage.Open(ctx, interceptor.ImageCache)
	keys, _ := imgs.Keys(ctx)
	if len(keys) != 1 || keys[0] != origin+"/assets/img/1.jpg" {
		t.Fatalf("image cache keys = %v", keys)
	}
	sr, _, _ := imgs.Match(ctx, keys[0])
	if sr.Header.Get(interceptor.WidthHeader) != "800" {
		t.Fatalf("cached width = %q", sr.Header.Get(interceptor.WidthHeader))
	}
}

// gatedNet holds requests for one URL until release is closed.
type gatedNet struct {
	*fakeNet
	url     string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedNet) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.String() == g.url {
		close(g.entered)
		<-g.release
	}
	return g.fakeNet.RoundTrip(req)
}

func TestImage_LateSmallerFetchDoesNotShrinkCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	small := origin + "/assets/img/1-400w.jpg"
	net := &gatedNet{fakeNet: h.net, url: small, entered: make(chan struct{}), release: make(chan struct{})}
	proc := interceptor.New(interceptor.Config{Origin: origin, Upstream: net}, h.storage, nil)
	if err := proc.Register(ctx, "v1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	get := func(u string) error {
		req, _ := http.NewRequest(http.MethodGet, u, nil)
		resp, err := proc.RoundTrip(req)
		if err == nil {
			resp.Body.Close()
		}
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := get(small); err != nil {
			t.Errorf("400w: %v", err)
		}
	}()
	select {
	case <-net.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("400w fetch never started")
	}
	if err := get(origin + "/assets/img/1-800w.jpg"); err != nil {
		t.Fatalf("800w: %v", err)
	}
	close(net.release)
	wg.Wait()

	imgs, _ := h.storage.Open(ctx, interceptor.ImageCache)
	sr, ok, _ := imgs.Match(ctx, origin+"/assets/img/1.jpg")
	if !ok {
		t.Fatal("image not cached")
	}
	if sr.Header.Get(interceptor.WidthHeader) != "800" {
		t.Fatalf("cached width after a late 400w fetch = %q", sr.Header.Get(interceptor.WidthHeader))
	}
}

func TestImage_OfflinePlaceholder(t *testing.T) {
	h := newHarness(t)
	h.register(t, "v1")
	h.net.setOffline(true)

	resp, body, err := h.get(t, origin+"/assets/img/2-400w.webp")
	if err != nil {
		t.Fatalf("expected placeholder, got %v", err)
	}
	if body != "net:"+origin+"/assets/offline.png" || resp.Header.Get(interceptor.SourceHeader) != "placeholder" {
		t.Fatalf("unexpected placeholder: %q", body)
	}
}

func TestDetailRoute_ServedFromCanonicalEntry(t *testing.T) {
	h := newHarness(t)
	h.register(t, "v1")
	h.net.setOffline(true)

	for _, u := range []string{
		origin + "/restaurant",
		origin + "/restaurant?id=3",
		origin + "/restaurant.html?id=7",
		origin + "/restaurant.html",
	} {
		_, body, err := h.get(t, u)
		if err != nil {
			t.Fatalf("%s: %v", u, err)
		}
		if body != "net:"+origin+"/restaurant" {
			t.Fatalf("%s served %q", u, body)
		}
	}
}

func TestNonGET_PassesThrough(t *testing.T) {
	h := newHarness(t)
	h.register(t, "v1")

	req, _ := http.NewRequest(http.MethodPost, origin+"/index.html", strings.NewReader("x"))
	resp, err := h.proc.RoundTrip(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if h.net.count(http.MethodPost, origin+"/index.html") != 1 {
		t.Fatalf("POST must reach the network even when the URL is cached")
	}

	h.net.setOffline(true)
	req, _ = http.NewRequest(http.MethodPut, origin+"/index.html", nil)
	if _, err := h.proc.RoundTrip(req); err == nil {
		t.Fatalf("PUT offline must fail instead of being answered from cache")
	}
}

func TestSameOrigin_CacheFirst(t *testing.T) {
	h := newHarness(t)
	h.register(t, "v1")
	before := h.net.count("GET", origin+"/index.html")

	resp, _, err := h.get(t, origin+"/index.html")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.Header.Get(interceptor.SourceHeader) != "cache" || h.net.count("GET", origin+"/index.html") != before {
		t.Fatalf("precached asset should come from the cache")
	}

	h.net.setOffline(true)
	_, body, err := h.get(t, origin+"/about", "Accept", "text/html")
	if err != nil || body != "net:"+origin+"/" {
		t.Fatalf("offline navigation should get the app shell, got %q %v", body, err)
	}
	if _, _, err := h.get(t, origin+"/data.json"); err == nil {
		t.Fatalf("offline uncached data must fail")
	}
}

func TestThirdParty_SeparateCaches(t *testing.T) {
	h := newHarness(t)
	h.register(t, "v1")
	ctx := context.Background()

	font := "https://fonts.gstatic.com/s/roboto/v18/roboto.woff2"
	tile := "https://api.tiles.mapbox.com/v4/mapbox.streets/16/1/2.jpg70"
	for _, u := range []string{font, tile} {
		if _, _, err := h.get(t, u); err != nil {
			t.Fatalf("%s: %v", u, err)
		}
	}

	fonts, _ := h.storage.Open(ctx, interceptor.FontsCache)
	maps, _ := h.storage.Open(ctx, interceptor.MapCache)
	fk, _ := fonts.Keys(ctx)
	mk, _ := maps.Keys(ctx)
	if len(fk) != 1 || fk[0] != font {
		t.Fatalf("fonts cache = %v", fk)
	}
	// the tile plus the precached leaflet stylesheet
	if len(mk) != 2 {
		t.Fatalf("map cache = %v", mk)
	}

	// an entry for the font URL in the map cache is never a fallback for it
	other := "https://fonts.googleapis.com/css?family=Roboto"
	_ = maps.Put(ctx, other, &domain.StoredResponse{Status: 200, Body: []byte("wrong cache")})

	h.net.setOffline(true)
	if _, body, err := h.get(t, font); err != nil || body != "net:"+font {
		t.Fatalf("offline font should come from the fonts cache, got %q %v", body, err)
	}
	if _, body, err := h.get(t, other); err == nil {
		t.Fatalf("font request was answered from the map cache: %q", body)
	}
}

func TestCrossOrigin_NotAllowListed_PassesThrough(t *testing.T) {
	h := newHarness(t)
	h.register(t, "v1")
	ctx := context.Background()

	u := "http://localhost:1337/restaurants"
	if _, _, err := h.get(t, u); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok, _ := h.storage.Match(ctx, u); ok {
		t.Fatalf("API responses must not be cached by the interceptor")
	}
	h.net.setOffline(true)
	if _, _, err := h.get(t, u); err == nil {
		t.Fatalf("offline API request should fail")
	}
}
