// SPDX-License-Identifier: AGPL-3.0-or-later
package choices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/toolup-org/toolup/internal/recipe"
)

const defaultReleaseTTL = 10 * time.Minute

// Version is one installable version surfaced to the user.
type Version struct {
	Value      string `json:"value"`
	Prerelease bool   `json:"prerelease,omitempty"`
	Warning    string `json:"warning,omitempty"`
}

// VersionLister enumerates installable versions for the three strategies:
// a static list, deferring to the package manager, or fetching releases from
// a remote API with a per-repo TTL cache.
type VersionLister struct {
	client  *http.Client
	baseURL string
	nowFn   func() time.Time

	mu    sync.Mutex
	cache map[string]cachedReleases
}

type cachedReleases struct {
	versions []Version
	at       time.Time
}

// NewVersionLister returns a lister against the GitHub releases API. baseURL
// is overridable for tests and mirrors.
func NewVersionLister(client *http.Client, baseURL string) *VersionLister {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &VersionLister{
		client:  client,
		baseURL: baseURL,
		nowFn:   time.Now,
		cache:   make(map[string]cachedReleases),
	}
}

// List resolves the strategy into a concrete version list. The
// package_manager mode yields a single sentinel entry meaning "whatever the
// package manager ships".
func (l *VersionLister) List(ctx context.Context, strategy *recipe.VersionStrategy) ([]Version, error) {
	if strategy == nil {
		return nil, nil
	}
	switch strategy.Mode {
	case "static":
		out := make([]Version, 0, len(strategy.Static))
		for _, v := range strategy.Static {
			out = append(out, Version{Value: v})
		}
		return out, nil
	case "package_manager":
		return []Version{{Value: "package-manager"}}, nil
	case "dynamic":
		return l.listDynamic(ctx, strategy)
	default:
		return nil, fmt.Errorf("unknown version mode %q", strategy.Mode)
	}
}

// ReleaseURL is the releases endpoint a dynamic strategy resolves against.
func (l *VersionLister) ReleaseURL(strategy *recipe.VersionStrategy) string {
	return fmt.Sprintf("%s/repos/%s/releases", l.baseURL, strategy.Repo)
}

func (l *VersionLister) listDynamic(ctx context.Context, strategy *recipe.VersionStrategy) ([]Version, error) {
	ttl := defaultReleaseTTL
	if strategy.CacheTTL > 0 {
		ttl = time.Duration(strategy.CacheTTL) * time.Second
	}

	l.mu.Lock()
	if entry, ok := l.cache[strategy.Repo]; ok && l.nowFn().Sub(entry.at) < ttl {
		l.mu.Unlock()
		return entry.versions, nil
	}
	l.mu.Unlock()

	url := l.ReleaseURL(strategy)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "toolup")
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching releases: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("release API rate limit exceeded; set GITHUB_TOKEN for higher limits")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading releases: %w", err)
	}
	var raw []struct {
		TagName    string `json:"tag_name"`
		Prerelease bool   `json:"prerelease"`
		Draft      bool   `json:"draft"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parsing releases: %w", err)
	}

	versions := make([]Version, 0, len(raw))
	for _, rel := range raw {
		if rel.Draft {
			continue
		}
		v := Version{Value: rel.TagName, Prerelease: rel.Prerelease}
		if sv, err := semver.NewVersion(rel.TagName); err == nil && sv.Prerelease() != "" {
			v.Prerelease = true
		}
		if v.Prerelease {
			v.Warning = "pre-release; may be unstable"
		}
		versions = append(versions, v)
	}
	sortVersions(versions)

	l.mu.Lock()
	l.cache[strategy.Repo] = cachedReleases{versions: versions, at: l.nowFn()}
	l.mu.Unlock()
	return versions, nil
}

// sortVersions orders newest first by semver when the tags parse; unparsable
// tags keep their API order at the tail.
func sortVersions(versions []Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, errI := semver.NewVersion(versions[i].Value)
		vj, errJ := semver.NewVersion(versions[j].Value)
		if errI != nil || errJ != nil {
			return false
		}
		return vi.GreaterThan(vj)
	})
}
