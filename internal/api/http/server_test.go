package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"storesearch/searchclient/internal/catalog"
	"storesearch/searchclient/internal/domain"
	"storesearch/searchclient/internal/search"
)

type fakeCatalog struct {
	mu      sync.Mutex
	queries []domain.Query
	fail    map[domain.SearchScope]error
}

func (f *fakeCatalog) Search(ctx context.Context, query domain.Query) ([]domain.StoreItem, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	err := f.fail[query.Scope]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	switch query.Scope {
	case domain.ScopeMovies:
		return []domain.StoreItem{{ID: 1, Name: query.Term + " movie", Kind: "feature-movie"}}, nil
	case domain.ScopeMusic:
		return []domain.StoreItem{{ID: 2, Name: query.Term + " song", Kind: "song"}, {ID: 3, Name: query.Term + " album", Kind: "album"}}, nil
	case domain.ScopeApps:
		return []domain.StoreItem{{ID: 4, Name: query.Term + " app", Kind: "software"}}, nil
	case domain.ScopeBooks:
		return []domain.StoreItem{{ID: 5, Name: query.Term + " book", Kind: "ebook"}}, nil
	}
	return nil, nil
}

func (f *fakeCatalog) Queries() []domain.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Query(nil), f.queries...)
}

type fakeAssets struct {
	asset catalog.Asset
	err   error
	urls  []string
}

func (f *fakeAssets) FetchAsset(ctx context.Context, rawURL string) (catalog.Asset, error) {
	f.urls = append(f.urls, rawURL)
	return f.asset, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cat search.Catalog, options ...ServerOption) *Server {
	t.Helper()
	options = append([]ServerOption{WithLogger(quietLogger())}, options...)
	server := NewServer(cat, options...)
	t.Cleanup(server.Close)
	return server
}

func allowAllURLs(context.Context, *url.URL) error { return nil }

func pngAsset(t *testing.T, width, height int) catalog.Asset {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	asset, err := catalog.DecodeAsset(buf.Bytes())
	if err != nil {
		t.Fatalf("decode asset: %v", err)
	}
	return asset
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, &fakeCatalog{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	server := newTestServer(t, &fakeCatalog{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected caller request id echoed, got %q", got)
	}
}

func TestScopesEndpoint(t *testing.T) {
	server := newTestServer(t, &fakeCatalog{})
	req := httptest.NewRequest(http.MethodGet, "/search/scopes", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []domain.ScopeInfo `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 5 {
		t.Fatalf("unexpected items count: %d", len(payload.Items))
	}
	if payload.Items[0].Name != "all" || len(payload.Items[0].Expands) != 4 || !payload.Items[0].Layout.OrthogonalScroll {
		t.Fatalf("unexpected all scope: %#v", payload.Items[0])
	}
	if payload.Items[3].MediaType != "software" {
		t.Fatalf("unexpected apps media type: %#v", payload.Items[3])
	}
}

func TestScopesHealthEndpoint(t *testing.T) {
	health := search.NewHealth()
	health.Record(domain.ScopeMusic, "batman", nil, 50*time.Millisecond, time.Now())
	server := newTestServer(t, &fakeCatalog{}, WithHealth(health))
	req := httptest.NewRequest(http.MethodGet, "/search/scopes/health", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []search.ScopeDiagnostics `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 4 || payload.Items[1].Scope != "music" || payload.Items[1].TotalRequests != 1 {
		t.Fatalf("unexpected diagnostics: %#v", payload.Items)
	}
}

func TestSearchStreamRejectsBadRequests(t *testing.T) {
	server := newTestServer(t, &fakeCatalog{})
	targets := []string{
		"/search/stream",
		"/search/stream?q=%20%20",
		"/search/stream?q=batman&scope=podcasts",
		"/search/stream?q=" + strings.Repeat("a", 501),
	}
	for _, target := range targets {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	newTestServer(t, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/stream?q=x", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without catalog, got %d", rec.Code)
	}
}

func TestSearchStreamSendsPhases(t *testing.T) {
	fake := &fakeCatalog{fail: map[domain.SearchScope]error{
		domain.ScopeBooks: fmt.Errorf("%w: HTTP 503", catalog.ErrNotFound),
	}}
	server := newTestServer(t, fake)
	req := httptest.NewRequest(http.MethodGet, "/search/stream?q=batman&scope=all", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !containsAll(body, []string{"event: bootstrap", "event: update", "event: done"}) {
		t.Fatalf("unexpected stream body: %s", body)
	}

	last := lastUpdate(t, body)
	if !last.Final || last.Generation != 1 || last.Term != "batman" {
		t.Fatalf("unexpected final snapshot: %#v", last)
	}
	if len(last.Sections) != 3 || last.Sections[0].Category != domain.CategoryMovies || last.Sections[2].Category != domain.CategoryApps {
		t.Fatalf("unexpected sections: %#v", last.Sections)
	}
	if len(fake.Queries()) != 4 {
		t.Fatalf("expected 4 scope queries, got %d", len(fake.Queries()))
	}
}

func TestSearchStreamSingleScope(t *testing.T) {
	fake := &fakeCatalog{}
	server := newTestServer(t, fake, WithSearchConfig(search.Config{SingleLimit: 7}))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/stream?q=batman&scope=Music", nil))
	last := lastUpdate(t, rec.Body.String())
	if last.Scope != domain.ScopeMusic || last.ItemCount() != 2 {
		t.Fatalf("unexpected snapshot: %#v", last)
	}
	queries := fake.Queries()
	if len(queries) != 1 || queries[0].Limit != 7 {
		t.Fatalf("expected one query with configured limit, got %#v", queries)
	}
}

func lastUpdate(t *testing.T, body string) domain.Snapshot {
	t.Helper()
	var last string
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if line == "event: update" && i+1 < len(lines) {
			last = strings.TrimPrefix(lines[i+1], "data: ")
		}
	}
	if last == "" {
		t.Fatalf("no update event in body: %s", body)
	}
	var snapshot domain.Snapshot
	if err := json.Unmarshal([]byte(last), &snapshot); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	return snapshot
}

func TestImageProxyServesAsset(t *testing.T) {
	assets := &fakeAssets{asset: pngAsset(t, 200, 100)}
	server := newTestServer(t, &fakeCatalog{}, WithAssets(assets))
	server.checkURL = allowAllURLs

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/image?url=https://art.example/a.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !bytes.Equal(rec.Body.Bytes(), assets.asset.Data) {
		t.Fatalf("expected original bytes without size parameter")
	}
	if len(assets.urls) != 1 || assets.urls[0] != "https://art.example/a.png" {
		t.Fatalf("unexpected fetched urls: %v", assets.urls)
	}
}

func TestImageProxyResizes(t *testing.T) {
	assets := &fakeAssets{asset: pngAsset(t, 200, 100)}
	server := newTestServer(t, &fakeCatalog{}, WithAssets(assets))
	server.checkURL = allowAllURLs

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/image?url=https://art.example/a.png&size=50", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if format != "png" || cfg.Width != 50 || cfg.Height != 25 {
		t.Fatalf("unexpected thumbnail %s %dx%d", format, cfg.Width, cfg.Height)
	}
}

func TestImageProxyRejectsUnsafeTargets(t *testing.T) {
	assets := &fakeAssets{}
	server := newTestServer(t, &fakeCatalog{}, WithAssets(assets))
	for _, target := range []string{
		"/search/image",
		"/search/image?url=ftp://art.example/a.png",
		"/search/image?url=http://127.0.0.1/a.png",
		"/search/image?url=http://10.1.2.3/a.png",
		"/search/image?url=http://printer.local/a.png",
		"/search/image?url=http://localhost:8080/a.png",
	} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
	if len(assets.urls) != 0 {
		t.Fatalf("blocked targets must not be fetched: %v", assets.urls)
	}
}

func TestImageProxyUpstreamFailure(t *testing.T) {
	assets := &fakeAssets{err: fmt.Errorf("%w: HTTP 404", catalog.ErrAssetMissing)}
	server := newTestServer(t, &fakeCatalog{}, WithAssets(assets))
	server.checkURL = allowAllURLs

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/image?url=https://art.example/a.png", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "404") {
		t.Fatalf("upstream details leaked: %s", rec.Body.String())
	}
}

func TestImageProxyNotConfigured(t *testing.T) {
	server := newTestServer(t, &fakeCatalog{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/image?url=https://art.example/a.png", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	server := newTestServer(t, &fakeCatalog{}, WithRateLimit(0.001, 1))
	handler := server.Handler()

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/search/scopes", nil))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/search/scopes", nil))

	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 200 then 429, got %d then %d", first.Code, second.Code)
	}
	health := httptest.NewRecorder()
	handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("health must bypass the rate limit, got %d", health.Code)
	}
}

func TestNormalizeRoute(t *testing.T) {
	cases := map[string]string{
		"/health":               "/health",
		"/search/stream":        "/search/stream",
		"/search/scopes/health": "/search/scopes",
		"/search/ws":            "/search/ws",
		"/admin":                "/other",
	}
	for path, want := range cases {
		if got := normalizeRoute(path); got != want {
			t.Fatalf("normalizeRoute(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(quietLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search/scopes", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func containsAll(value string, required []string) bool {
	for _, part := range required {
		if !strings.Contains(value, part) {
			return false
		}
	}
	return true
}
