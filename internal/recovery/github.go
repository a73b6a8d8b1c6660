package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	hashiVersion "github.com/hashicorp/go-version"

	"github.com/lucid-fabrics/proxmac/internal/version"
)

// OpenCore images are published as release assets alongside each tagged
// release of the project itself.
var githubReleasesURL = "https://api.github.com/repos/lucid-fabrics/osx-proxmox-next/releases"

type githubRelease struct {
	TagName string               `json:"tag_name"`
	Assets  []githubReleaseAsset `json:"assets"`
}

type githubReleaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// FetchOpenCoreISO ensures an OpenCore image for the given macOS version
// is present under destDir and returns its path. The image is downloaded
// from a GitHub release matching the running binary's version, falling
// back to the newest release that carries the asset. An already-present
// image is reused as-is, and a file lock serializes concurrent fetchers
// targeting the same cache directory.
func (client *Client) FetchOpenCoreISO(ctx context.Context, macosName string, destDir string) (string, error) {
	assetName := fmt.Sprintf("opencore-%s.iso", macosName)
	dest := filepath.Join(destDir, assetName)

	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	lock := flock.New(dest + ".lock")

	acquired, err := lock.TryLockContext(ctx, time.Second)
	if err != nil {
		return "", err
	}
	if !acquired {
		return "", fmt.Errorf("failed to acquire a lock on %s", lock.Path())
	}
	defer func() {
		_ = lock.Unlock()
	}()

	// Another fetcher may have finished the download while we were
	// waiting for the lock.
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	releases, err := client.listReleases(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to list releases: %v", ErrProtocol, err)
	}

	assetURL, tagName, err := chooseReleaseAsset(releases, assetName, version.Version)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	client.logger.Infof("downloading %s from release %s...", assetName, tagName)

	if err := client.DownloadAsset(ctx, assetURL, "", dest); err != nil {
		return "", err
	}

	return dest, nil
}

func (client *Client) listReleases(ctx context.Context) ([]githubRelease, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, githubReleasesURL, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/vnd.github+json")

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", response.StatusCode)
	}

	var releases []githubRelease

	if err := json.NewDecoder(response.Body).Decode(&releases); err != nil {
		return nil, err
	}

	return releases, nil
}

// chooseReleaseAsset prefers the release tagged with our own version and
// otherwise falls back to the newest release that carries the asset.
func chooseReleaseAsset(
	releases []githubRelease,
	assetName string,
	ownVersion string,
) (string, string, error) {
	type candidate struct {
		tag *hashiVersion.Version
		url string
	}

	var candidates []candidate

	for _, release := range releases {
		url := release.assetURL(assetName)
		if url == "" {
			continue
		}

		tag, err := hashiVersion.NewVersion(release.TagName)
		if err != nil {
			continue
		}

		if own, err := hashiVersion.NewVersion(ownVersion); err == nil && tag.Equal(own) {
			return url, release.TagName, nil
		}

		candidates = append(candidates, candidate{tag: tag, url: url})
	}

	if len(candidates) == 0 {
		return "", "", fmt.Errorf("no release carries asset %q", assetName)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].tag.GreaterThan(candidates[j].tag)
	})

	return candidates[0].url, "v" + candidates[0].tag.String(), nil
}

func (release githubRelease) assetURL(assetName string) string {
	for _, asset := range release.Assets {
		if asset.Name == assetName {
			return asset.BrowserDownloadURL
		}
	}

	return ""
}
