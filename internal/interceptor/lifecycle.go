package interceptor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"reviews_app/internal/domain"
)

// State is a generation's lifecycle state.
type State int32

const (
	Installing State = iota
	Installed        // waiting for the active generation to let go
	Activating
	Activated
	Redundant
)

func (s State) String() string {
	switch s {
	case Installing:
		return "installing"
	case Installed:
		return "installed"
	case Activating:
		return "activating"
	case Activated:
		return "activated"
	case Redundant:
		return "redundant"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// DefaultPrecache is the app shell every generation installs.
var DefaultPrecache = []string{
	"./",
	"./index.html",
	"./restaurant",
	"./restaurant.html",
	"./assets/data/restaurants.json",
	"./assets/offline.png",
}

var (
	DefaultFontHosts = []string{"fonts.googleapis.com", "fonts.gstatic.com"}
	DefaultMapHosts  = []string{"api.tiles.mapbox.com", "unpkg.com"}
)

type Config struct {
	// Origin is the app's scheme://host[:port].
	Origin string
	// Base is the path the app is mounted under; empty at the root.
	Base    string
	Version string
	// Precache lists app-relative shell assets; nil means DefaultPrecache.
	Precache []string
	// ThirdPartyPrecache lists absolute font or map URLs fetched at install.
	ThirdPartyPrecache []string
	FontHosts          []string
	MapHosts           []string
	// Upstream performs real network requests; nil means http.DefaultTransport.
	Upstream http.RoundTripper
}

// Generation is one installed version of the static shell and its
// interception policies.
type Generation struct {
	version    string
	staticName string
	state      atomic.Int32

	routes    routes
	precache  []string
	extra     []string
	fontHosts map[string]bool
	mapHosts  map[string]bool
	storage   domain.CacheStorage
	upstream  http.RoundTripper

	// imageMu guards the width check and put on the shared image cache.
	imageMu *sync.Mutex
}

func newGeneration(cfg Config, storage domain.CacheStorage) (*Generation, error) {
	if strings.TrimSpace(cfg.Version) == "" {
		return nil, errors.New("shell version is required")
	}
	origin, err := url.Parse(cfg.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid app origin %q", cfg.Origin)
	}
	origin.Path, origin.RawQuery, origin.Fragment = "", "", ""

	g := &Generation{
		version:    cfg.Version,
		staticName: StaticCacheName(cfg.Version),
		routes:     newRoutes(origin, cfg.Base),
		precache:   cfg.Precache,
		extra:      cfg.ThirdPartyPrecache,
		fontHosts:  hostSet(cfg.FontHosts, DefaultFontHosts),
		mapHosts:   hostSet(cfg.MapHosts, DefaultMapHosts),
		storage:    storage,
		upstream:   cfg.Upstream,
		imageMu:    &sync.Mutex{},
	}
	if g.precache == nil {
		g.precache = DefaultPrecache
	}
	if g.upstream == nil {
		g.upstream = http.DefaultTransport
	}
	g.state.Store(int32(Installing))
	return g, nil
}

func hostSet(hosts, def []string) map[string]bool {
	if len(hosts) == 0 {
		hosts = def
	}
	m := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		m[strings.ToLower(h)] = true
	}
	return m
}

func (g *Generation) Version() string { return g.version }
func (g *Generation) State() State    { return State(g.state.Load()) }

func (g *Generation) setState(s State) {
	prev := State(g.state.Swap(int32(s)))
	log.Info().Str("version", g.version).Str("from", prev.String()).Str("to", s.String()).Msg("interceptor lifecycle")
}

// cacheNames lists the caches this generation owns.
func (g *Generation) cacheNames() []string {
	return []string{g.staticName, ImageCache, FontsCache, MapCache}
}

// install fetches every shell asset and stores them only if all succeed.
func (g *Generation) install(ctx context.Context) error {
	type entry struct {
		cache, key string
		resp       *domain.StoredResponse
	}
	var entries []entry
	fetchAll := func(cache string, keys []string) error {
		for _, k := range keys {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, k, nil)
			if err != nil {
				return err
			}
			resp, err := g.fetch(ctx, req, k)
			if err != nil {
				return err
			}
			if !ok(resp.StatusCode) {
				resp.Body.Close()
				return fmt.Errorf("precache %s: status %d", k, resp.StatusCode)
			}
			sr, err := capture(resp)
			if err != nil {
				return fmt.Errorf("precache %s: %w", k, err)
			}
			entries = append(entries, entry{cache, k, sr})
		}
		return nil
	}

	shell := make([]string, len(g.precache))
	for i, p := range g.precache {
		shell[i] = g.routes.resolve(p)
	}
	if err := fetchAll(g.staticName, shell); err != nil {
		g.setState(Redundant)
		return fmt.Errorf("install %s: %w", g.version, err)
	}
	for _, raw := range g.extra {
		u, err := url.Parse(raw)
		if err != nil {
			g.setState(Redundant)
			return fmt.Errorf("install %s: %w", g.version, err)
		}
		cache := g.staticName
		switch h := strings.ToLower(u.Hostname()); {
		case g.fontHosts[h]:
			cache = FontsCache
		case g.mapHosts[h]:
			cache = MapCache
		}
		if err := fetchAll(cache, []string{cacheKey(u)}); err != nil {
			g.setState(Redundant)
			return fmt.Errorf("install %s: %w", g.version, err)
		}
	}

	for _, e := range entries {
		if err := g.put(ctx, e.cache, e.key, e.resp); err != nil {
			_, _ = g.storage.Delete(ctx, g.staticName)
			g.setState(Redundant)
			return fmt.Errorf("install %s: %w", g.version, err)
		}
	}
	g.setState(Installed)
	return nil
}

// activate deletes every app cache this generation does not own.
func (g *Generation) activate(ctx context.Context) error {
	g.setState(Activating)
	keep := map[string]bool{}
	for _, n := range g.cacheNames() {
		keep[n] = true
	}
	names, err := g.storage.Names(ctx)
	if err != nil {
		return fmt.Errorf("activate %s: %w", g.version, err)
	}
	for _, n := range names {
		if !strings.HasPrefix(n, CachePrefix) || keep[n] {
			continue
		}
		if _, err := g.storage.Delete(ctx, n); err != nil {
			return fmt.Errorf("activate %s: delete %s: %w", g.version, n, err)
		}
		log.Info().Str("cache", n).Msg("stale cache deleted")
	}
	g.setState(Activated)
	return nil
}

// ---- process ----

// Status is a snapshot of the process for the control channel.
type Status struct {
	Active  string `json:"active,omitempty"`
	Waiting string `json:"waiting,omitempty"`
	State   string `json:"state"`
	Clients int    `json:"clients"`
}

// Process owns the active and waiting generations. It is safe for
// concurrent use; requests in flight keep the generation they started with.
type Process struct {
	base    Config
	storage domain.CacheStorage
	syncer  *Syncer

	imageMu sync.Mutex

	mu      sync.Mutex
	active  *Generation
	waiting *Generation
	clients int
}

func New(cfg Config, storage domain.CacheStorage, syncer *Syncer) *Process {
	return &Process{base: cfg, storage: storage, syncer: syncer}
}

// Register installs version. The first generation activates at once; a
// later one waits until SkipWaiting or until no clients are attached.
func (p *Process) Register(ctx context.Context, version string) error {
	cfg := p.base
	cfg.Version = version

	p.mu.Lock()
	if p.active != nil && p.active.version == version {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	g, err := newGeneration(cfg, p.storage)
	if err != nil {
		return err
	}
	// generations share the image cache, so they share its lock too
	g.imageMu = &p.imageMu
	if err := g.install(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if prev := p.waiting; prev != nil {
		prev.setState(Redundant)
	}
	p.waiting = g
	if p.active == nil || p.clients == 0 {
		return p.promoteLocked(ctx)
	}
	log.Info().Str("version", version).Msg("new version waiting")
	return nil
}

// SkipWaiting promotes the waiting generation now.
func (p *Process) SkipWaiting(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.promoteLocked(ctx)
}

func (p *Process) promoteLocked(ctx context.Context) error {
	next := p.waiting
	if next == nil {
		return nil
	}
	if err := next.activate(ctx); err != nil {
		return err
	}
	if p.active != nil {
		p.active.setState(Redundant)
	}
	p.active, p.waiting = next, nil
	return nil
}

// Attach records a controlled client (a page).
func (p *Process) Attach() {
	p.mu.Lock()
	p.clients++
	p.mu.Unlock()
}

// Detach drops a client; the last one to leave lets a waiting version in.
func (p *Process) Detach(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clients > 0 {
		p.clients--
	}
	if p.clients == 0 {
		return p.promoteLocked(ctx)
	}
	return nil
}

func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{State: "none", Clients: p.clients}
	if p.active != nil {
		st.Active = p.active.version
		st.State = p.active.State().String()
	}
	if p.waiting != nil {
		st.Waiting = p.waiting.version
	}
	return st
}

func (p *Process) current() *Generation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// RoundTrip routes req through the active generation, or straight to the
// network before any generation is active.
func (p *Process) RoundTrip(req *http.Request) (*http.Response, error) {
	if g := p.current(); g != nil {
		return g.RoundTrip(req)
	}
	up := p.base.Upstream
	if up == nil {
		up = http.DefaultTransport
	}
	return up.RoundTrip(req)
}

// ---- message channel ----

const (
	ActionSkipWaiting = "skipWaiting"
	ActionSync        = "sync"
	ActionAttach      = "attach"
	ActionDetach      = "detach"
)

// Message is what a page posts to the process.
type Message struct {
	Action string `json:"action"`
	Tag    string `json:"tag,omitempty"`
}

var ErrUnknownAction = errors.New("unknown action")

func (p *Process) Post(ctx context.Context, m Message) error {
	switch m.Action {
	case ActionSkipWaiting:
		return p.SkipWaiting(ctx)
	case ActionSync:
		if p.syncer == nil {
			return errors.New("background sync is not configured")
		}
		return p.syncer.Request(ctx, m.Tag)
	case ActionAttach:
		p.Attach()
		return nil
	case ActionDetach:
		return p.Detach(ctx)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, m.Action)
}
