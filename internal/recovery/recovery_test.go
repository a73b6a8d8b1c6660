package recovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastRetries(t *testing.T) {
	previousDelay := downloadDelay
	downloadDelay = time.Millisecond
	t.Cleanup(func() {
		downloadDelay = previousDelay
	})
}

func TestRequestImage(t *testing.T) {
	var requestBody string

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path == "/" {
			http.SetCookie(writer, &http.Cookie{Name: "session", Value: "deadbeef"})

			return
		}

		require.Equal(t, http.MethodPost, request.Method)
		require.Equal(t, "/InstallationPayload/RecoveryImage", request.URL.Path)
		require.Equal(t, "InternetRecovery/1.0", request.Header.Get("User-Agent"))
		require.Equal(t, "text/plain", request.Header.Get("Content-Type"))
		require.Contains(t, request.Header.Get("Cookie"), "session=deadbeef")

		bodyBytes, err := io.ReadAll(request.Body)
		require.NoError(t, err)
		requestBody = string(bodyBytes)

		// No AT line: public images need no asset token.
		fmt.Fprintf(writer, "AU: http://example.com/BaseSystem.dmg\n"+
			"CU: http://example.com/BaseSystem.chunklist\nCT: chunktoken\n")
	}))
	defer server.Close()

	client := NewClient(WithServiceRoot(server.URL + "/"))

	info, err := client.RequestImage(context.Background(), "Mac-827FAC58A8FDFA22", "default")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/BaseSystem.dmg", info.AssetURL)
	require.Empty(t, info.AssetToken)
	require.Equal(t, "http://example.com/BaseSystem.chunklist", info.ChunklistURL)
	require.Equal(t, "chunktoken", info.ChunklistToken)

	// The service parses the body positionally, so both the field order
	// and the zero-serial placeholder matter.
	lines := strings.Split(requestBody, "\n")
	require.Len(t, lines, 6)
	require.Regexp(t, "^cid=[0-9A-F]{16}$", lines[0])
	require.Equal(t, "sn=00000000000000000", lines[1])
	require.Equal(t, "bid=Mac-827FAC58A8FDFA22", lines[2])
	require.Regexp(t, "^k=[0-9A-F]{64}$", lines[3])
	require.Equal(t, "os=default", lines[4])
	require.Regexp(t, "^fg=[0-9A-F]{64}$", lines[5])
}

func TestRequestImageWithoutAssetURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path == "/" {
			return
		}

		fmt.Fprintf(writer, "CU: http://example.com/BaseSystem.chunklist\n")
	}))
	defer server.Close()

	client := NewClient(WithServiceRoot(server.URL + "/"))

	_, err := client.RequestImage(context.Background(), "Mac-827FAC58A8FDFA22", "default")
	require.ErrorIs(t, err, ErrProtocol)
}

func TestRequestImageServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path == "/" {
			return
		}

		http.Error(writer, "INTERNAL SERVER ERROR", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(WithServiceRoot(server.URL + "/"))

	_, err := client.RequestImage(context.Background(), "Mac-827FAC58A8FDFA22", "default")
	require.ErrorIs(t, err, ErrProtocol)
}

// The first response is cut off mid-body and the retry must resume from
// the last received byte instead of starting over.
func TestDownloadAssetResumesAfterInterruption(t *testing.T) {
	fastRetries(t)

	blob := testBlob(64 * 1024)
	cutoff := 10_000

	var requests int
	var resumedFrom string

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requests++

		require.Equal(t, "AssetToken=token123", request.Header.Get("Cookie"))

		if requests == 1 {
			// Advertise the full length but send only a prefix, which the
			// client sees as an unexpected EOF.
			writer.Header().Set("Content-Length", fmt.Sprint(len(blob)))
			_, _ = writer.Write(blob[:cutoff])

			return
		}

		resumedFrom = request.Header.Get("Range")
		writer.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", cutoff, len(blob)-1, len(blob)))
		writer.WriteHeader(http.StatusPartialContent)
		_, _ = writer.Write(blob[cutoff:])
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "BaseSystem.dmg")

	client := NewClient()
	require.NoError(t, client.DownloadAsset(context.Background(), server.URL, "token123", dest))

	require.Equal(t, 2, requests)
	require.Equal(t, fmt.Sprintf("bytes=%d-", cutoff), resumedFrom)

	downloaded, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, blob, downloaded)
}

// A server that ignores the range request gets a full restart, not a
// corrupted concatenation.
func TestDownloadAssetRestartsWhenRangeIgnored(t *testing.T) {
	fastRetries(t)

	blob := testBlob(32 * 1024)

	var requests int

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requests++

		if requests == 1 {
			writer.Header().Set("Content-Length", fmt.Sprint(len(blob)))
			_, _ = writer.Write(blob[:100])

			return
		}

		_, _ = writer.Write(blob)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "BaseSystem.dmg")

	client := NewClient()
	require.NoError(t, client.DownloadAsset(context.Background(), server.URL, "", dest))

	downloaded, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, blob, downloaded)
}

func TestDownloadAssetGivesUp(t *testing.T) {
	fastRetries(t)

	var requests int

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requests++

		http.Error(writer, "Service Unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "BaseSystem.dmg")

	client := NewClient()
	err := client.DownloadAsset(context.Background(), server.URL, "", dest)
	require.ErrorIs(t, err, ErrTransferInterrupted)
	require.Equal(t, downloadAttempts, requests)

	require.NoFileExists(t, dest)
}

func TestConvertDMGNotInstalled(t *testing.T) {
	// A PATH with no dmg2img in it, the exact situation on a fresh host.
	t.Setenv("PATH", t.TempDir())

	client := NewClient()
	err := client.ConvertDMG(context.Background(), "in.dmg", "out.img")
	require.ErrorIs(t, err, ErrDmg2imgNotFound)
	require.Contains(t, err.Error(), "apt install dmg2img")
}

func TestConvertDMGFailureRemovesPartialOutput(t *testing.T) {
	dir := t.TempDir()

	// A converter that produces a partial output and then fails.
	fakeConverter := filepath.Join(dir, "dmg2img")
	require.NoError(t, os.WriteFile(fakeConverter,
		[]byte("#!/bin/sh\necho 'ERROR: DMG file corrupted' >&2\ntouch \"$2\"\nexit 1\n"), 0o755))

	previousCommand := dmg2imgCommandName
	dmg2imgCommandName = fakeConverter
	t.Cleanup(func() {
		dmg2imgCommandName = previousCommand
	})

	rawPath := filepath.Join(dir, "out.img")

	client := NewClient()
	err := client.ConvertDMG(context.Background(), filepath.Join(dir, "in.dmg"), rawPath)
	require.ErrorIs(t, err, ErrConversionFailed)
	require.Contains(t, err.Error(), "DMG file corrupted")

	require.NoFileExists(t, rawPath)
}

func testBlob(size int) []byte {
	blob := make([]byte, size)

	for i := range blob {
		blob[i] = byte(i % 251)
	}

	return blob
}
