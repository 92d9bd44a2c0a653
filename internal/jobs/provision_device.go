package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/registry"
)

// ProvisionDevice assigns a management address to a device and pushes its
// base configuration. It carries an admin credential, so it cannot be
// scheduled, and every run needs a sign-off from network operations.
type ProvisionDevice struct{}

func NewProvisionDevice() *ProvisionDevice { return &ProvisionDevice{} }

func (j *ProvisionDevice) Meta() registry.JobMeta {
	return registry.JobMeta{
		ID:          "provision-device",
		Name:        "Provision device",
		Description: "Assigns a management address to a device and applies its base configuration.",
		Vars: []registry.VarSpec{
			{Name: "device", Kind: registry.VarObject, Required: true, ObjectType: "device",
				Description: "Device to provision."},
			{Name: "management_address", Kind: registry.VarNetwork, Required: true,
				Description: "Management IP address or prefix to assign."},
			{Name: "admin_password", Kind: registry.VarString, Required: true,
				Description: "Initial admin credential pushed to the device."},
			{Name: "config_template", Kind: registry.VarFile, Required: false,
				Description: "Optional configuration template to apply."},
		},
		ApproverGroups:        []string{"network-operations"},
		ApprovalRequired:      true,
		HasSensitiveVariables: true,
		DryRunDefault:         true,
		SoftTimeLimit:         10 * time.Minute,
		HardTimeLimit:         15 * time.Minute,
	}
}

func (j *ProvisionDevice) Run(ctx context.Context, rc *registry.RunContext) (any, error) {
	deviceID := rc.Args["device"].(string)
	address := rc.Args["management_address"].(string)

	rc.Log.Object(ctx, model.LogInfo,
		fmt.Sprintf("provisioning with management address %s", address), "device", deviceID)

	if rc.DryRun {
		rc.Log.Info(ctx, "dry run, no configuration pushed")
		return map[string]any{"device": deviceID, "dry_run": true}, nil
	}

	steps := []string{
		"reserving management address",
		"pushing base configuration",
		"verifying reachability",
	}
	for _, step := range steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		rc.Log.Info(ctx, step)
	}

	rc.Log.Object(ctx, model.LogSuccess, "device provisioned", "device", deviceID)
	return map[string]any{"device": deviceID, "management_address": address}, nil
}
