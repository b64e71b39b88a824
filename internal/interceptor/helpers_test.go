package interceptor_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"

	redisad "reviews_app/internal/adapters/redis"
	"reviews_app/internal/interceptor"
)

const origin = "http://app.test"

// fakeNet answers every GET with "net:<url>" unless offline.
type fakeNet struct {
	mu      sync.Mutex
	offline bool
	hits    map[string]int
	status  map[string]int
}

func newFakeNet() *fakeNet {
	return &fakeNet{hits: map[string]int{}, status: map[string]int{}}
}

func (f *fakeNet) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := req.URL.String()
	f.hits[req.Method+" "+u]++
	if f.offline {
		return nil, errors.New("dial tcp: network is unreachable")
	}
	code := http.StatusOK
	if c, ok := f.status[u]; ok {
		code = c
	}
	return &http.Response{
		StatusCode: code,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("net:" + u)),
		Request:    req,
	}, nil
}

func (f *fakeNet) setOffline(v bool) {
	f.mu.Lock()
	f.offline = v
	f.mu.Unlock()
}

func (f *fakeNet) count(method, u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[method+" "+u]
}

type harness struct {
	net     *fakeNet
	storage *redisad.Storage
	proc    *interceptor.Process
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	h := &harness{net: newFakeNet(), storage: redisad.New(mr.Addr(), "", 0)}
	syncer := interceptor.NewSyncer(h.storage, 0)
	h.proc = interceptor.New(interceptor.Config{
		Origin:   origin,
		Upstream: h.net,
		ThirdPartyPrecache: []string{
			"https://unpkg.com/leaflet@1.3.1/dist/leaflet.css",
		},
	}, h.storage, syncer)
	return h
}

func (h *harness) register(t *testing.T, version string) {
	t.Helper()
	if err := h.proc.Register(context.Background(), version); err != nil {
		t.Fatalf("register %s: %v", version, err)
	}
}

// get sends a GET through the process and returns status, body and source.
func (h *harness) get(t *testing.T, u string, hdr ...string) (*http.Response, string, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := h.proc.RoundTrip(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b), nil
}
