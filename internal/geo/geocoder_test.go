package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"dispatchd/internal/config"
)

func testGeocoderConfig(baseURL string) config.Geocoder {
	return config.Geocoder{
		BaseURL:    baseURL,
		MinSpacing: time.Millisecond,
		Timeout:    2 * time.Second,
	}
}

func TestResolveCachesHits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("format = %q, want json", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"38.3032","lon":"-77.4605"}]`))
	}))
	defer srv.Close()

	g := NewGeocoder(testGeocoderConfig(srv.URL), nil)
	ctx := context.Background()

	pt, ok, err := g.Resolve(ctx, "123 Main St, Fredericksburg, VA 22401")
	if err != nil || !ok {
		t.Fatalf("Resolve: ok=%v err=%v", ok, err)
	}
	if pt.Lat != 38.3032 || pt.Lng != -77.4605 {
		t.Fatalf("pt = %+v", pt)
	}

	// Same address with different casing and spacing hits the cache.
	if _, ok, err = g.Resolve(ctx, "  123 MAIN st,  Fredericksburg, VA 22401"); err != nil || !ok {
		t.Fatalf("cached Resolve: ok=%v err=%v", ok, err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("external calls = %d, want 1", n)
	}
}

func TestResolveMissIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewGeocoder(testGeocoderConfig(srv.URL), nil)
	_, ok, err := g.Resolve(context.Background(), "nowhere at all")
	if err != nil {
		t.Fatalf("miss should not error: %v", err)
	}
	if ok {
		t.Fatal("miss reported as found")
	}
}

func TestResolveServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGeocoder(testGeocoderConfig(srv.URL), nil)
	if _, _, err := g.Resolve(context.Background(), "123 Main St"); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestResolveEmptyAddress(t *testing.T) {
	g := NewGeocoder(testGeocoderConfig("http://unused.invalid"), nil)
	if _, ok, err := g.Resolve(context.Background(), "   "); ok || err != nil {
		t.Fatalf("blank address: ok=%v err=%v", ok, err)
	}
}

func TestResolveBadCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"north","lon":"west"}]`))
	}))
	defer srv.Close()

	g := NewGeocoder(testGeocoderConfig(srv.URL), nil)
	if _, _, err := g.Resolve(context.Background(), "123 Main St"); err == nil {
		t.Fatal("expected parse error for non-numeric coordinates")
	}
}

func TestNormalizeAddress(t *testing.T) {
	if got := NormalizeAddress("  123  Main St,\tFredericksburg  "); got != "123 main st, fredericksburg" {
		t.Fatalf("NormalizeAddress = %q", got)
	}
}
