package jobs

import (
	"github.com/edvin/jobrunner/internal/registry"
)

// Deps wires job bodies to the infrastructure they use.
type Deps struct {
	Objects     ObjectLister
	Snapshots   SnapshotStore
	ObjectTypes []string
}

// RegisterAll registers every shipped job body.
func RegisterAll(reg *registry.Registry, deps Deps) error {
	runners := []registry.Runner{
		NewExportObjectList(deps.Objects),
		NewInventoryBackup(deps.Objects, deps.Snapshots, deps.ObjectTypes),
		NewProvisionDevice(),
		NewComplianceAudit(deps.Objects),
		NewPingSweep(),
	}
	for _, r := range runners {
		if err := reg.Register(r); err != nil {
			return err
		}
	}
	return nil
}
