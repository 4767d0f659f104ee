package choices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/toolup-org/toolup/internal/recipe"
)

func TestListStaticVersions(t *testing.T) {
	t.Parallel()
	l := NewVersionLister(nil, "")
	got, err := l.List(context.Background(), &recipe.VersionStrategy{
		Mode:   "static",
		Static: []string{"1.2.3", "1.2.2"},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Value != "1.2.3" {
		t.Fatalf("expected static list preserved, got %+v", got)
	}
}

func TestListPackageManagerSentinel(t *testing.T) {
	t.Parallel()
	l := NewVersionLister(nil, "")
	got, err := l.List(context.Background(), &recipe.VersionStrategy{Mode: "package_manager"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Value != "package-manager" {
		t.Fatalf("expected sentinel entry, got %+v", got)
	}
}

func TestListDynamicSortsAndFlagsPrereleases(t *testing.T) {
	t.Parallel()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path != "/repos/sharkdp/bat/releases" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"tag_name": "v0.24.0", "prerelease": false},
			{"tag_name": "v0.25.0-rc.1", "prerelease": false},
			{"tag_name": "v0.25.0", "prerelease": false},
			{"tag_name": "v0.26.0", "draft": true}
		]`))
	}))
	defer srv.Close()

	l := NewVersionLister(srv.Client(), srv.URL)
	strategy := &recipe.VersionStrategy{Mode: "dynamic", Repo: "sharkdp/bat"}
	got, err := l.List(context.Background(), strategy)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected draft dropped, got %+v", got)
	}
	if got[0].Value != "v0.25.0" {
		t.Fatalf("expected newest stable first, got %+v", got)
	}
	var rc *Version
	for i := range got {
		if got[i].Value == "v0.25.0-rc.1" {
			rc = &got[i]
		}
	}
	if rc == nil || !rc.Prerelease || rc.Warning == "" {
		t.Fatalf("expected rc tagged as pre-release with warning, got %+v", rc)
	}

	// Second call hits the cache.
	if _, err := l.List(context.Background(), strategy); err != nil {
		t.Fatalf("cached list: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one API call, got %d", hits)
	}
}

func TestListDynamicCacheTTLExpiry(t *testing.T) {
	t.Parallel()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`[{"tag_name": "v1.0.0"}]`))
	}))
	defer srv.Close()

	l := NewVersionLister(srv.Client(), srv.URL)
	now := time.Now()
	l.nowFn = func() time.Time { return now }

	strategy := &recipe.VersionStrategy{Mode: "dynamic", Repo: "o/r", CacheTTL: 30}
	for i := 0; i < 2; i++ {
		if _, err := l.List(context.Background(), strategy); err != nil {
			t.Fatalf("list: %v", err)
		}
	}
	if hits != 1 {
		t.Fatalf("expected cache within ttl, got %d hits", hits)
	}
	now = now.Add(31 * time.Second)
	if _, err := l.List(context.Background(), strategy); err != nil {
		t.Fatalf("list after expiry: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected refetch after ttl, got %d hits", hits)
	}
}

func TestListDynamicRateLimit(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	l := NewVersionLister(srv.Client(), srv.URL)
	_, err := l.List(context.Background(), &recipe.VersionStrategy{Mode: "dynamic", Repo: "o/r"})
	if err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestListUnknownMode(t *testing.T) {
	t.Parallel()
	l := NewVersionLister(nil, "")
	if _, err := l.List(context.Background(), &recipe.VersionStrategy{Mode: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
