// SPDX-License-Identifier: AGPL-3.0-or-later
package executor

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/toolup-org/toolup/internal/types"
)

const githubAPIBase = "https://api.github.com"

type ghRelease struct {
	TagName string    `json:"tag_name"`
	Assets  []ghAsset `json:"assets"`
}

type ghAsset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
}

// runGithubRelease resolves a release asset by OS/arch pattern matching,
// downloads it, verifies the checksum, extracts the archive, locates the
// target binary and installs it, elevating only when the target directory is
// not writable.
func (x *Executor) runGithubRelease(ctx context.Context, step types.Step, res types.StepResult) types.StepResult {
	spec := step.Release
	if spec == nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: missing release spec", step.ID)
		return res
	}

	release, err := x.fetchGithubRelease(ctx, spec)
	if err != nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
		return res
	}

	asset, err := selectAsset(release.Assets, spec.AssetPattern)
	if err != nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
		return res
	}

	workDir, err := os.MkdirTemp("", "toolup-release-")
	if err != nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
		return res
	}
	defer os.RemoveAll(workDir)

	archivePath := filepath.Join(workDir, asset.Name)
	dl := step
	dl.Download = &types.DownloadSpec{URL: asset.DownloadURL, Dest: archivePath, SHA256: spec.SHA256}
	if err := x.fetch(ctx, dl.Download); err != nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
		return res
	}
	if spec.SHA256 != "" {
		if err := verifySHA256(archivePath, spec.SHA256); err != nil {
			os.Remove(archivePath)
			res.OK = false
			res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
			return res
		}
	}

	binPath, err := extractBinary(archivePath, workDir, spec.Binary)
	if err != nil {
		res.OK = false
		res.Error = fmt.Sprintf("step %s: %v", step.ID, err)
		return res
	}

	target := filepath.Join(spec.TargetDir, spec.Binary)
	if dirWritable(spec.TargetDir) {
		if err := copyFile(binPath, target, 0o755); err != nil {
			res.OK = false
			res.Error = fmt.Sprintf("step %s: install binary: %v", step.ID, err)
			return res
		}
	} else {
		elevated := step
		elevated.NeedsSudo = true
		if !x.Profile.IsRoot && x.SudoPassword == "" {
			res.OK = false
			res.NeedsSudo = true
			res.Error = (&SudoRequiredError{Step: step.ID}).Error()
			return res
		}
		out := x.exec(ctx, elevated, fmt.Sprintf("install -m 0755 %s %s", binPath, target))
		if out.Err != nil {
			return x.finish(step, res, out, "")
		}
	}

	res.OK = true
	res.Message = fmt.Sprintf("installed %s %s to %s", spec.Binary, release.TagName, target)
	return res
}

func (x *Executor) fetchGithubRelease(ctx context.Context, spec *types.ReleaseSpec) (*ghRelease, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", githubAPIBase, spec.Repo)
	if spec.Tag != "" {
		url = fmt.Sprintf("%s/repos/%s/releases/tags/%s", githubAPIBase, spec.Repo, spec.Tag)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "toolup")
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	client := x.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching release: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("release not found for %s", spec.Repo)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading release: %w", err)
	}
	var release ghRelease
	if err := json.Unmarshal(body, &release); err != nil {
		return nil, fmt.Errorf("parsing release JSON: %w", err)
	}
	return &release, nil
}

// selectAsset matches an asset by explicit pattern first, then by an
// OS/arch token scan.
func selectAsset(assets []ghAsset, pattern string) (*ghAsset, error) {
	if pattern != "" {
		expanded := strings.NewReplacer("{os}", runtime.GOOS, "{arch}", runtime.GOARCH).Replace(pattern)
		for i := range assets {
			if assets[i].Name == expanded {
				return &assets[i], nil
			}
		}
		for i := range assets {
			if strings.Contains(assets[i].Name, expanded) {
				return &assets[i], nil
			}
		}
	}

	osToken := runtime.GOOS
	archTokens := []string{runtime.GOARCH}
	if runtime.GOARCH == "amd64" {
		archTokens = append(archTokens, "x86_64")
	}
	if runtime.GOARCH == "arm64" {
		archTokens = append(archTokens, "aarch64")
	}
	for i := range assets {
		name := strings.ToLower(assets[i].Name)
		if !strings.Contains(name, osToken) {
			continue
		}
		for _, arch := range archTokens {
			if strings.Contains(name, arch) && isArchive(name) {
				return &assets[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no release asset matches %s/%s", runtime.GOOS, runtime.GOARCH)
}

func isArchive(name string) bool {
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz") || strings.HasSuffix(name, ".zip")
}

// extractBinary pulls the named binary out of a tar.gz or zip archive.
func extractBinary(archivePath, destDir, binary string) (string, error) {
	if strings.HasSuffix(archivePath, ".zip") {
		return extractFromZip(archivePath, destDir, binary)
	}
	return extractFromTarGz(archivePath, destDir, binary)
}

func extractFromTarGz(archivePath, destDir, binary string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading tar entry: %w", err)
		}
		if filepath.Base(hdr.Name) != binary {
			continue
		}
		destPath := filepath.Join(destDir, binary)
		out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			return "", fmt.Errorf("creating binary file: %w", err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return "", fmt.Errorf("extracting binary: %w", err)
		}
		out.Close()
		return destPath, nil
	}
	return "", fmt.Errorf("binary %s not found in archive", binary)
}

func extractFromZip(archivePath, destDir, binary string) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening zip archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if filepath.Base(f.Name) != binary {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("opening zip entry: %w", err)
		}
		destPath := filepath.Join(destDir, binary)
		out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			rc.Close()
			return "", fmt.Errorf("creating binary file: %w", err)
		}
		if _, err := io.Copy(out, rc); err != nil {
			out.Close()
			rc.Close()
			return "", fmt.Errorf("extracting binary: %w", err)
		}
		out.Close()
		rc.Close()
		return destPath, nil
	}
	return "", fmt.Errorf("binary %s not found in zip archive", binary)
}

func dirWritable(dir string) bool {
	probe := filepath.Join(dir, ".toolup-write-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
