package provision

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lucid-fabrics/proxmac/internal/pve"
)

// Step is one unit of a provisioning plan: either a host command
// (Command set) or a native action (Run set).
type Step struct {
	Title string

	// Command is a qm invocation, without the leading "qm".
	Command []string

	// Run performs actions a single host command cannot express, such
	// as building a disk image.
	Run func(ctx context.Context) error
}

func (step Step) describe() string {
	if step.Command != nil {
		return "qm " + strings.Join(step.Command, " ")
	}

	return "(native step)"
}

type StepResult struct {
	Title   string
	Command string
	Err     error
}

type Plan struct {
	Steps []Step
}

// Apply executes the plan in order and stops at the first failing step.
// In dry-run mode every step is only logged.
func (plan *Plan) Apply(ctx context.Context, logger *zap.SugaredLogger, dryRun bool) ([]StepResult, error) {
	var results []StepResult

	for i, step := range plan.Steps {
		if dryRun {
			logger.Infof("[%d/%d] DRY-RUN %s: %s", i+1, len(plan.Steps), step.Title, step.describe())
			results = append(results, StepResult{Title: step.Title, Command: step.describe()})

			continue
		}

		logger.Infof("[%d/%d] %s", i+1, len(plan.Steps), step.Title)

		var err error

		if step.Run != nil {
			err = step.Run(ctx)
		} else {
			_, _, err = pve.Qm(ctx, logger, step.Command...)
		}

		results = append(results, StepResult{Title: step.Title, Command: step.describe(), Err: err})

		if err != nil {
			return results, fmt.Errorf("step %q failed: %w", step.Title, err)
		}
	}

	return results, nil
}
