// SPDX-License-Identifier: AGPL-3.0-or-later
package choices

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const probeCacheTTL = 60 * time.Second

// Prober answers "is this host reachable" with a HEAD request, caching the
// answer per host. It is scoped to one resolution call chain; there is no
// package-level cache.
type Prober struct {
	client *http.Client
	nowFn  func() time.Time

	mu    sync.Mutex
	cache map[string]probeEntry
}

type probeEntry struct {
	reachable bool
	reason    string
	at        time.Time
}

// NewProber returns a prober with a short per-request timeout. A nil client
// gets a default.
func NewProber(client *http.Client) *Prober {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Prober{
		client: client,
		nowFn:  time.Now,
		cache:  make(map[string]probeEntry),
	}
}

// Reachable probes the host (cached for up to 60s) and returns the failure
// reason when it is not reachable.
func (p *Prober) Reachable(ctx context.Context, host string) (bool, string) {
	host = strings.TrimSpace(host)
	if host == "" {
		return true, ""
	}
	target := host
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return false, "invalid host: " + err.Error()
	}
	key := u.Host

	p.mu.Lock()
	if entry, ok := p.cache[key]; ok && p.nowFn().Sub(entry.at) < probeCacheTTL {
		p.mu.Unlock()
		return entry.reachable, entry.reason
	}
	p.mu.Unlock()

	reachable, reason := p.probe(ctx, target)

	p.mu.Lock()
	p.cache[key] = probeEntry{reachable: reachable, reason: reason, at: p.nowFn()}
	p.mu.Unlock()
	return reachable, reason
}

func (p *Prober) probe(ctx context.Context, target string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	// Any HTTP answer means the host is reachable; 4xx/5xx still prove
	// connectivity.
	return true, ""
}
