package recovery

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"howett.net/plist"
)

// The merged software-update catalog covering every macOS release line.
const defaultCatalogURL = "https://swscan.apple.com/content/catalogs/others/" +
	"index-15-14-13-12-10.16-10.15-10.14-10.13-10.12-10.11-10.10-10.9-" +
	"mountainlion-lion-snowleopard-leopard.merged-1.sucatalog.gz"

// Small installer packages are stub downloads, not the real thing.
const minInstallerSize = 5_000_000_000

var catalogURL = defaultCatalogURL

var titleRegexp = regexp.MustCompile(`(?i)<title>(.*?)</title>`)

type catalog struct {
	Products map[string]catalogProduct `plist:"Products"`
}

type catalogProduct struct {
	PostDate      time.Time         `plist:"PostDate"`
	Packages      []catalogPackage  `plist:"Packages"`
	Distributions map[string]string `plist:"Distributions"`
}

type catalogPackage struct {
	URL  string `plist:"URL"`
	Size int64  `plist:"Size"`
}

// FindInstallerURL locates the newest InstallAssistant.pkg whose
// distribution title matches the given macOS label in Apple's
// software-update catalog.
func (client *Client) FindInstallerURL(ctx context.Context, label string) (string, error) {
	catalogBytes, err := client.getBytes(ctx, catalogURL)
	if err != nil {
		return "", fmt.Errorf("%w: failed to fetch the software-update catalog: %v", ErrProtocol, err)
	}

	gzipReader, err := gzip.NewReader(strings.NewReader(string(catalogBytes)))
	if err != nil {
		return "", fmt.Errorf("%w: catalog is not gzip-compressed: %v", ErrProtocol, err)
	}
	catalogPlist, err := io.ReadAll(gzipReader)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decompress the catalog: %v", ErrProtocol, err)
	}

	var parsed catalog
	if _, err := plist.Unmarshal(catalogPlist, &parsed); err != nil {
		return "", fmt.Errorf("%w: failed to parse the catalog: %v", ErrProtocol, err)
	}

	type candidate struct {
		postDate   time.Time
		packageURL string
	}

	var candidates []candidate

	for _, product := range parsed.Products {
		var packageURL string

		for _, pkg := range product.Packages {
			if strings.Contains(pkg.URL, "InstallAssistant.pkg") && pkg.Size > minInstallerSize {
				packageURL = pkg.URL

				break
			}
		}
		if packageURL == "" {
			continue
		}

		distributionURL := product.Distributions["English"]
		if distributionURL == "" {
			distributionURL = product.Distributions["en"]
		}
		if distributionURL == "" {
			continue
		}

		distribution, err := client.getBytes(ctx, distributionURL)
		if err != nil {
			client.logger.Debugf("skipping product with unreadable distribution %s: %v",
				distributionURL, err)

			continue
		}

		match := titleRegexp.FindSubmatch(distribution)
		if match == nil || !strings.Contains(strings.ToLower(string(match[1])), strings.ToLower(label)) {
			continue
		}

		candidates = append(candidates, candidate{
			postDate:   product.PostDate,
			packageURL: packageURL,
		})
	}

	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no installer for %q in the software-update catalog", ErrProtocol, label)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].postDate.After(candidates[j].postDate)
	})

	return candidates[0].packageURL, nil
}

func (client *Client) getBytes(ctx context.Context, url string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("User-Agent", userAgent)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", response.StatusCode)
	}

	return io.ReadAll(response.Body)
}
