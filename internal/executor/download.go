// SPDX-License-Identifier: AGPL-3.0-or-later
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/toolup-org/toolup/internal/types"
)

const freeSpaceMargin = 1.2

// runDownload fetches an artifact with optional resume, checksum verification
// and authentication. A mismatching checksum leaves no file behind.
func (x *Executor) runDownload(ctx context.Context, step types.Step, res types.StepResult) types.StepResult {
	spec := step.Download
	if spec == nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: missing download spec", step.ID)
		return res
	}

	if spec.SizeHint > 0 {
		needed := int64(float64(spec.SizeHint) * freeSpaceMargin)
		free, err := freeSpace(filepath.Dir(spec.Dest))
		if err == nil && free < uint64(needed) {
			res.OK = false
			res.Error = fmt.Sprintf("step %s: not enough disk space: need %d bytes, %d free", step.ID, needed, free)
			return res
		}
	}

	if err := os.MkdirAll(filepath.Dir(spec.Dest), 0o755); err != nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: create dest dir: %v", step.ID, err)
		return res
	}

	if err := x.fetch(ctx, spec); err != nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
		return res
	}

	if spec.SHA256 != "" {
		if err := verifySHA256(spec.Dest, spec.SHA256); err != nil {
			os.Remove(spec.Dest)
			os.Remove(spec.Dest + ".stamp")
			res.OK = false
			res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
			return res
		}
	}

	if spec.Mode != 0 {
		if err := os.Chmod(spec.Dest, os.FileMode(spec.Mode)); err != nil {
			res.OK = false
			res.Error = fmt.Sprintf("step %s: chmod: %v", step.ID, err)
			return res
		}
	}

	// Freshness marker consulted by staleness checks in the offline cache.
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	_ = os.WriteFile(spec.Dest+".stamp", []byte(stamp), 0o644)

	if spec.RunWithShell != "" {
		run := step
		run.Cwd = filepath.Dir(spec.Dest)
		out := x.exec(ctx, run, spec.RunWithShell+" "+spec.Dest)
		return x.finish(step, res, out, "")
	}

	res.OK = true
	res.Message = "downloaded " + spec.Dest
	return res
}

// fetch performs the HTTP transfer, resuming a partial file with a byte-range
// request when resume is enabled.
func (x *Executor) fetch(ctx context.Context, spec *types.DownloadSpec) error {
	// file:// URLs come from offline-cache plan rewrites; copy locally.
	if local, ok := strings.CutPrefix(spec.URL, "file://"); ok {
		src, err := os.Open(local)
		if err != nil {
			return fmt.Errorf("opening cached artifact: %w", err)
		}
		defer src.Close()
		dst, err := os.Create(spec.Dest)
		if err != nil {
			return fmt.Errorf("creating download file: %w", err)
		}
		defer dst.Close()
		if _, err := io.Copy(dst, src); err != nil {
			return fmt.Errorf("copying cached artifact: %w", err)
		}
		return nil
	}

	var offset int64
	if spec.Resume {
		if st, err := os.Stat(spec.Dest); err == nil && st.Size() > 0 {
			offset = st.Size()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("User-Agent", "toolup")
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	switch {
	case spec.AuthBearer != "":
		req.Header.Set("Authorization", "Bearer "+spec.AuthBearer)
	case spec.AuthBasic != "":
		req.Header.Set("Authorization", "Basic "+spec.AuthBasic)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	client := x.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", spec.URL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		offset = 0 // server ignored the range; restart from scratch
	case http.StatusPartialContent:
	default:
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(spec.Dest, flags, 0o644)
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("writing download: %w", err)
	}
	return nil
}

// verifySHA256 compares the file digest with the declared checksum.
func verifySHA256(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("computing checksum: %w", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, want) {
		return &ChecksumMismatchError{Path: path, Want: strings.ToLower(want), Got: got}
	}
	return nil
}
