// Package recovery retrieves macOS recovery images from Apple's
// osrecovery service and converts them into raw, mountable disk images.
//
// The wire protocol is reverse-engineered, not documented: the request
// body is newline-separated key=value lines (not URL-encoded) and the
// response is line-oriented "KEY: VALUE" pairs in the body (not HTTP
// headers). Implementations must match it exactly.
package recovery

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrProtocol            = errors.New("unexpected recovery service response")
	ErrTransferInterrupted = errors.New("download interrupted")
	ErrConversionFailed    = errors.New("failed to convert recovery image")
)

const (
	defaultServiceRoot = "http://osrecovery.apple.com/"
	imageRequestPath   = "InstallationPayload/RecoveryImage"

	userAgent = "InternetRecovery/1.0"

	// The serial field is always a 17-character zero placeholder; the
	// service does not validate it.
	zeroSerial = "00000000000000000"
)

type Client struct {
	serviceRoot string
	httpClient  *http.Client
	logger      *zap.SugaredLogger
}

type Option func(*Client)

func WithServiceRoot(serviceRoot string) Option {
	return func(client *Client) {
		client.serviceRoot = serviceRoot
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		client.httpClient = httpClient
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(client *Client) {
		client.logger = logger
	}
}

func NewClient(opts ...Option) *Client {
	client := &Client{
		serviceRoot: defaultServiceRoot,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.httpClient == nil {
		client.httpClient = http.DefaultClient
	}
	if client.logger == nil {
		client.logger = zap.NewNop().Sugar()
	}

	return client
}

// ImageInfo is the parsed response of a recovery image request.
type ImageInfo struct {
	AssetURL       string
	AssetToken     string
	ChunklistURL   string
	ChunklistToken string
}

// session obtains a session cookie from the service root. The service
// tolerates requests without one, so failures here are non-fatal.
func (client *Client) session(ctx context.Context) string {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.serviceRoot, nil)
	if err != nil {
		return ""
	}
	request.Header.Set("User-Agent", userAgent)

	response, err := client.httpClient.Do(request)
	if err != nil {
		client.logger.Debugf("failed to obtain a session cookie, proceeding without one: %v", err)

		return ""
	}
	defer response.Body.Close()

	for _, cookie := range response.Cookies() {
		if cookie.Name == "session" {
			return cookie.Name + "=" + cookie.Value
		}
	}

	return ""
}

// RequestImage asks the service for the recovery image matching the
// given board ID on the given OS channel ("default" or "latest").
func (client *Client) RequestImage(ctx context.Context, boardID string, osChannel string) (*ImageInfo, error) {
	session := client.session(ctx)

	// Each of the three random fields is freshly generated per request.
	body := strings.Join([]string{
		"cid=" + randomHex(8),
		"sn=" + zeroSerial,
		"bid=" + boardID,
		"k=" + randomHex(32),
		"os=" + osChannel,
		"fg=" + randomHex(32),
	}, "\n")

	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		client.serviceRoot+imageRequestPath, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("User-Agent", userAgent)
	request.Header.Set("Content-Type", "text/plain")
	if session != "" {
		request.Header.Set("Cookie", session)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrProtocol, response.StatusCode,
			strings.TrimSpace(string(responseBody)))
	}

	info := parseImageInfo(string(responseBody))
	if info.AssetURL == "" {
		return nil, fmt.Errorf("%w: no asset URL (AU) in response: %s", ErrProtocol,
			strings.TrimSpace(string(responseBody)))
	}

	return info, nil
}

// parseImageInfo parses the line-oriented "KEY: VALUE" response body.
func parseImageInfo(body string) *ImageInfo {
	info := &ImageInfo{}

	for _, line := range strings.Split(body, "\n") {
		key, value, found := strings.Cut(line, ": ")
		if !found {
			continue
		}

		switch key {
		case "AU":
			info.AssetURL = strings.TrimSpace(value)
		case "AT":
			info.AssetToken = strings.TrimSpace(value)
		case "CU":
			info.ChunklistURL = strings.TrimSpace(value)
		case "CT":
			info.ChunklistToken = strings.TrimSpace(value)
		}
	}

	return info
}

func randomHex(nBytes int) string {
	raw := make([]byte, nBytes)
	// crypto/rand never fails on supported platforms.
	_, _ = rand.Read(raw)

	return strings.ToUpper(hex.EncodeToString(raw))
}
