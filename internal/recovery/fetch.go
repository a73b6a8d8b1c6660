package recovery

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lucid-fabrics/proxmac/internal/macosver"
)

// Result points at the artifacts a fetch produced inside the scratch
// directory: the intermediate compressed image and the final raw image.
type Result struct {
	DMGPath string
	RawPath string
}

// Fetch retrieves the recovery base system for a macOS version and
// converts it to a raw disk image under destDir. For versions osrecovery
// cannot serve, the image is built from a full installer found through
// the software-update catalog instead.
func (client *Client) Fetch(ctx context.Context, version macosver.Version, destDir string) (*Result, error) {
	if version.FullInstaller {
		return client.fetchFullInstaller(ctx, version, destDir)
	}

	info, err := client.RequestImage(ctx, version.BoardID, version.RecoveryOS)
	if err != nil {
		return nil, err
	}

	result := &Result{
		DMGPath: filepath.Join(destDir, version.Name+"-BaseSystem.dmg"),
		RawPath: filepath.Join(destDir, version.Name+"-recovery.img"),
	}

	if err := client.DownloadAsset(ctx, info.AssetURL, info.AssetToken, result.DMGPath); err != nil {
		return nil, err
	}

	// The chunklist is advertised alongside the image on most channels;
	// fetch it for later integrity checking, but don't require it.
	if info.ChunklistURL != "" {
		chunklistPath := filepath.Join(destDir, version.Name+"-BaseSystem.chunklist")

		if err := client.DownloadAsset(ctx, info.ChunklistURL, info.ChunklistToken, chunklistPath); err != nil {
			client.logger.Warnf("failed to download the chunklist: %v", err)
		}
	}

	if err := client.ConvertDMG(ctx, result.DMGPath, result.RawPath); err != nil {
		return nil, err
	}

	return result, nil
}

func (client *Client) fetchFullInstaller(ctx context.Context, version macosver.Version, destDir string) (*Result, error) {
	// Distribution titles carry no major number ("macOS Tahoe").
	title := strings.TrimRight(version.Label, " 0123456789")

	packageURL, err := client.FindInstallerURL(ctx, title)
	if err != nil {
		return nil, err
	}

	packagePath := filepath.Join(destDir, version.Name+"-InstallAssistant.pkg")
	if err := client.DownloadAsset(ctx, packageURL, "", packagePath); err != nil {
		return nil, err
	}

	dmgPath := filepath.Join(destDir, version.Name+"-SharedSupport.dmg")
	if err := extractXAREntry(packagePath, "SharedSupport.dmg", dmgPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}

	result := &Result{
		DMGPath: dmgPath,
		RawPath: filepath.Join(destDir, version.Name+"-full-installer.img"),
	}

	if err := client.ConvertDMG(ctx, result.DMGPath, result.RawPath); err != nil {
		return nil, err
	}

	return result, nil
}
