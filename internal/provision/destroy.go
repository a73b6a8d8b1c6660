package provision

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/lucid-fabrics/proxmac/internal/pve"
)

// BuildDestroyPlan tears a VM down: a stop first, since Proxmox refuses
// to destroy a running VM.
func BuildDestroyPlan(vmid int, purge bool) *Plan {
	destroyCommand := []string{"destroy", strconv.Itoa(vmid)}
	if purge {
		destroyCommand = append(destroyCommand, "--purge")
	}

	return &Plan{
		Steps: []Step{
			{Title: "stop the VM", Command: []string{"stop", strconv.Itoa(vmid)}},
			{Title: "destroy the VM", Command: destroyCommand},
		},
	}
}

// Destroy removes a VM after confirming it exists. A stop failure on an
// already-stopped VM is tolerated.
func Destroy(ctx context.Context, logger *zap.SugaredLogger, vmid int, purge bool, dryRun bool) error {
	info, err := pve.FetchVMInfo(ctx, logger, vmid)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("no VM with ID %d", vmid)
	}

	plan := BuildDestroyPlan(vmid, purge)

	if !info.Running {
		plan.Steps = plan.Steps[1:]
	}

	_, err = plan.Apply(ctx, logger, dryRun)

	return err
}
