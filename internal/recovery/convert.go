package recovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Overridable in tests.
var dmg2imgCommandName = "dmg2img"

var ErrDmg2imgNotFound = errors.New("dmg2img command not found")

// ConvertDMG converts the downloaded proprietary disk-image container to
// a raw sector image via dmg2img. A conversion failure is fatal and
// removes the partial output — a half-converted image would fail much
// later, at boot.
func (client *Client) ConvertDMG(ctx context.Context, dmgPath string, rawPath string) error {
	cmd := exec.CommandContext(ctx, dmg2imgCommandName, dmgPath, rawPath)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	client.logger.Debugf("running '%s %s %s'", dmg2imgCommandName, dmgPath, rawPath)

	if err := cmd.Run(); err != nil {
		_ = os.Remove(rawPath)

		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: install it with \"apt install dmg2img\"", ErrDmg2imgNotFound)
		}

		return fmt.Errorf("%w: %q", ErrConversionFailed,
			firstNonEmptyLine(stderr.String(), stdout.String()))
	}

	return nil
}

func firstNonEmptyLine(outputs ...string) string {
	for _, output := range outputs {
		for _, line := range strings.Split(output, "\n") {
			if line != "" {
				return line
			}
		}
	}

	return ""
}
