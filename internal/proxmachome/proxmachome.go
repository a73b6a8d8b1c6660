package proxmachome

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrFailed = errors.New("failed to retrieve the home directory path")

func Path() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: failed to retrieve current user's home directory %v",
			ErrFailed, err)
	}

	proxmacDir := filepath.Join(homeDir, ".proxmac")

	if err := os.Mkdir(proxmacDir, 0700); err != nil && !os.IsExist(err) {
		return "", fmt.Errorf("%w: cannot create directory %s: %v",
			ErrFailed, proxmacDir, err)
	}

	return proxmacDir, nil
}

// CachePath returns the directory where downloaded assets (OpenCore
// images, recovery images) are kept between runs.
func CachePath() (string, error) {
	homeDir, err := Path()
	if err != nil {
		return "", err
	}

	cacheDir := filepath.Join(homeDir, "cache")

	if err := os.Mkdir(cacheDir, 0700); err != nil && !os.IsExist(err) {
		return "", fmt.Errorf("%w: cannot create directory %s: %v",
			ErrFailed, cacheDir, err)
	}

	return cacheDir, nil
}
