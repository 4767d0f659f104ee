// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache prefetches a plan's remote artifacts so the plan can run
// later without network access. Artifacts are stored content-addressed under
// the cache directory and plans are rewritten to point at the local copies.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/toolup-org/toolup/internal/paths"
	"github.com/toolup-org/toolup/internal/types"
)

// curlPipeRe matches the curl-or-wget piped-to-shell install idiom so the
// script can be cached, checksummed and run from disk instead of straight off
// the wire.
var curlPipeRe = regexp.MustCompile(`(?:curl\s+[^|]*?(https?://\S+)[^|]*|wget\s+[^|]*?-O\s*-\s+[^|]*?(https?://\S+)[^|]*)\|\s*(?:sudo\s+)?(?:ba)?sh\b`)

// Cache stores fetched artifacts under a single directory.
type Cache struct {
	Dir        string
	HTTPClient *http.Client
}

// New returns a cache rooted at dir, defaulting to the toolup cache
// directory.
func New(dir string) *Cache {
	if dir == "" {
		dir = paths.CacheDir()
	}
	return &Cache{Dir: dir, HTTPClient: &http.Client{Timeout: 30 * time.Minute}}
}

// pathFor is content-addressed on the URL so repeated prefetches of the same
// artifact reuse one file.
func (c *Cache) pathFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	name := filepath.Base(url)
	if name == "" || name == "." || name == "/" {
		name = "artifact"
	}
	return filepath.Join(c.Dir, hex.EncodeToString(sum[:8])+"-"+name)
}

// Prefetch downloads every remote artifact the plan references and returns
// how many were fetched. Checksums declared on download steps are verified at
// fetch time so a bad artifact never enters the cache.
func (c *Cache) Prefetch(ctx context.Context, plan *types.Plan) (int, error) {
	if err := os.MkdirAll(c.Dir, 0o700); err != nil {
		return 0, err
	}
	fetched := 0
	for _, step := range plan.Steps {
		urls := artifactURLs(step)
		for u, sum := range urls {
			if err := c.fetch(ctx, u, sum); err != nil {
				return fetched, fmt.Errorf("prefetch %s for step %s: %w", u, step.ID, err)
			}
			fetched++
		}
	}
	return fetched, nil
}

// artifactURLs lists the remote artifacts one step would pull at run time,
// mapped to their expected checksum (empty when the step declares none).
func artifactURLs(step types.Step) map[string]string {
	out := make(map[string]string)
	switch step.Type {
	case types.StepDownload:
		if step.Download != nil && step.Download.URL != "" {
			out[step.Download.URL] = step.Download.SHA256
		}
	case types.StepCommand, types.StepRepo:
		if m := curlPipeRe.FindStringSubmatch(step.Command); m != nil {
			url := m[1]
			if url == "" {
				url = m[2]
			}
			out[url] = ""
		}
	}
	return out
}

func (c *Cache) fetch(ctx context.Context, url, wantSHA256 string) error {
	dest := c.pathFor(url)
	if _, err := os.Stat(dest); err == nil {
		if wantSHA256 == "" {
			return nil
		}
		if err := verifySHA256(dest, wantSHA256); err == nil {
			return nil
		}
		os.Remove(dest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if wantSHA256 != "" {
		if err := verifySHA256(tmp, wantSHA256); err != nil {
			os.Remove(tmp)
			return err
		}
	}
	return os.Rename(tmp, dest)
}

// Rewrite returns a copy of the plan whose download steps point at cached
// local files and whose piped-to-shell installs run the cached script from
// disk. Steps without a cached artifact pass through unchanged.
func (c *Cache) Rewrite(plan *types.Plan) *types.Plan {
	out := *plan
	out.Steps = make([]types.Step, len(plan.Steps))
	copy(out.Steps, plan.Steps)

	for i, step := range out.Steps {
		switch step.Type {
		case types.StepDownload:
			if step.Download == nil || step.Download.URL == "" {
				continue
			}
			local := c.pathFor(step.Download.URL)
			if _, err := os.Stat(local); err != nil {
				continue
			}
			d := *step.Download
			d.URL = "file://" + local
			out.Steps[i].Download = &d
		case types.StepCommand, types.StepRepo:
			m := curlPipeRe.FindStringSubmatch(step.Command)
			if m == nil {
				continue
			}
			url := m[1]
			if url == "" {
				url = m[2]
			}
			local := c.pathFor(url)
			if _, err := os.Stat(local); err != nil {
				continue
			}
			out.Steps[i].Command = curlPipeRe.ReplaceAllString(step.Command, "sh "+local)
		}
	}
	return &out
}

// Purge removes every cached artifact and returns how many files were
// deleted.
func (c *Cache) Purge() (int, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.Dir, e.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func verifySHA256(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", path, strings.ToLower(want), got)
	}
	return nil
}
