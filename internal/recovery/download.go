package recovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/dustin/go-humanize"
)

const downloadAttempts = 5

// Shortened in tests.
var downloadDelay = 2 * time.Second

// DownloadAsset downloads a URL to dest with resumable transfer: a
// transient interruption is retried up to 5 times, each attempt resuming
// from the last received byte instead of restarting. An AssetToken
// cookie is attached when the service advertised one. Exhausting the
// retries is fatal.
func (client *Client) DownloadAsset(ctx context.Context, url string, assetToken string, dest string) error {
	partPath := dest + ".part"

	err := retry.Do(func() error {
		return client.downloadResumable(ctx, url, assetToken, partPath)
	}, retry.OnRetry(func(attempt uint, err error) {
		client.logger.Warnf("download of %s interrupted (attempt %d/%d), resuming: %v",
			url, attempt+1, downloadAttempts, err)
	}), retry.Context(ctx), retry.Attempts(downloadAttempts), retry.Delay(downloadDelay),
		retry.DelayType(retry.FixedDelay), retry.LastErrorOnly(true))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransferInterrupted, url, err)
	}

	return os.Rename(partPath, dest)
}

func (client *Client) downloadResumable(ctx context.Context, url string, assetToken string, partPath string) error {
	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	request.Header.Set("User-Agent", userAgent)
	if assetToken != "" {
		request.Header.Set("Cookie", "AssetToken="+assetToken)
	}
	if offset > 0 {
		request.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		// The server ignored the range request; start over.
		if offset > 0 {
			if err := file.Truncate(0); err != nil {
				return err
			}
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				return err
			}

			offset = 0
		}
	case http.StatusPartialContent:
		// Resuming from offset.
	case http.StatusRequestedRangeNotSatisfiable:
		// Already fully downloaded on a previous attempt.
		return nil
	default:
		return fmt.Errorf("HTTP %d", response.StatusCode)
	}

	written, err := io.Copy(file, response.Body)
	if err != nil {
		return err
	}

	client.logger.Debugf("received %s from %s (resumed at offset %d)",
		humanize.Bytes(uint64(written)), url, offset)

	return nil
}
