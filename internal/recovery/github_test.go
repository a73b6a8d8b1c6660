package recovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChooseReleaseAsset(t *testing.T) {
	releases := []githubRelease{
		{TagName: "v1.2.0", Assets: []githubReleaseAsset{
			{Name: "opencore-sonoma.iso", BrowserDownloadURL: "http://example.com/v1.2.0/opencore-sonoma.iso"},
		}},
		{TagName: "v1.4.0", Assets: []githubReleaseAsset{
			{Name: "opencore-sonoma.iso", BrowserDownloadURL: "http://example.com/v1.4.0/opencore-sonoma.iso"},
		}},
		{TagName: "v1.3.0", Assets: []githubReleaseAsset{
			{Name: "opencore-sonoma.iso", BrowserDownloadURL: "http://example.com/v1.3.0/opencore-sonoma.iso"},
			{Name: "opencore-tahoe.iso", BrowserDownloadURL: "http://example.com/v1.3.0/opencore-tahoe.iso"},
		}},
	}

	// The release matching our own version wins.
	url, tag, err := chooseReleaseAsset(releases, "opencore-sonoma.iso", "1.3.0")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/v1.3.0/opencore-sonoma.iso", url)
	require.Equal(t, "v1.3.0", tag)

	// Otherwise the newest release carrying the asset does.
	url, tag, err = chooseReleaseAsset(releases, "opencore-sonoma.iso", "unknown")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/v1.4.0/opencore-sonoma.iso", url)
	require.Equal(t, "v1.4.0", tag)

	// Assets missing from the newest release fall back to an older one.
	url, tag, err = chooseReleaseAsset(releases, "opencore-tahoe.iso", "unknown")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/v1.3.0/opencore-tahoe.iso", url)
	require.Equal(t, "v1.3.0", tag)

	_, _, err = chooseReleaseAsset(releases, "opencore-sequoia.iso", "unknown")
	require.Error(t, err)
}

func TestFetchOpenCoreISO(t *testing.T) {
	imageContents := testBlob(8192)

	var server *httptest.Server

	server = httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch request.URL.Path {
		case "/releases":
			require.Equal(t, "application/vnd.github+json", request.Header.Get("Accept"))

			releases := []githubRelease{
				{TagName: "v2.0.0", Assets: []githubReleaseAsset{
					{Name: "opencore-sonoma.iso", BrowserDownloadURL: server.URL + "/opencore-sonoma.iso"},
				}},
			}
			require.NoError(t, json.NewEncoder(writer).Encode(releases))
		case "/opencore-sonoma.iso":
			_, _ = writer.Write(imageContents)
		default:
			http.NotFound(writer, request)
		}
	}))
	defer server.Close()

	previousURL := githubReleasesURL
	githubReleasesURL = server.URL + "/releases"
	t.Cleanup(func() {
		githubReleasesURL = previousURL
	})

	destDir := t.TempDir()

	client := NewClient()
	path, err := client.FetchOpenCoreISO(context.Background(), "sonoma", destDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(destDir, "opencore-sonoma.iso"), path)

	downloaded, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, imageContents, downloaded)

	// A cached image short-circuits the whole fetch.
	server.Close()
	path, err = client.FetchOpenCoreISO(context.Background(), "sonoma", destDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(destDir, "opencore-sonoma.iso"), path)
}
