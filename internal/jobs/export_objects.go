// Package jobs holds the job bodies this deployment ships. Each body is
// a registry.Runner: metadata plus a Run function that receives validated
// arguments and a run context. Adding a job means adding a Runner here
// and wiring it in RegisterAll.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/registry"
)

// ObjectLister lists inventory objects. *core.ObjectRefService satisfies it.
type ObjectLister interface {
	ListIDs(ctx context.Context, objectType string) ([]string, error)
}

// ExportObjectList walks every inventory object of one type and emits an
// object-tagged log line per record, returning the id list as output.
type ExportObjectList struct {
	objects ObjectLister
}

func NewExportObjectList(objects ObjectLister) *ExportObjectList {
	return &ExportObjectList{objects: objects}
}

func (j *ExportObjectList) Meta() registry.JobMeta {
	return registry.JobMeta{
		ID:          "export-object-list",
		Name:        "Export object list",
		Description: "Exports the ids of every inventory object of a given type.",
		Vars: []registry.VarSpec{
			{Name: "object_type", Kind: registry.VarString, Required: true,
				Description: "Inventory object type to export."},
		},
		SoftTimeLimit: 5 * time.Minute,
		HardTimeLimit: 10 * time.Minute,
	}
}

func (j *ExportObjectList) Run(ctx context.Context, rc *registry.RunContext) (any, error) {
	objectType := rc.Args["object_type"].(string)
	rc.Log.Info(ctx, fmt.Sprintf("exporting %s objects", objectType))

	ids, err := j.objects.ListIDs(ctx, objectType)
	if err != nil {
		return nil, fmt.Errorf("list %s objects: %w", objectType, err)
	}
	for _, id := range ids {
		rc.Log.Object(ctx, model.LogDebug, "exported", objectType, id)
	}

	rc.Log.Success(ctx, fmt.Sprintf("exported %d objects", len(ids)))
	return map[string]any{"object_type": objectType, "count": len(ids), "ids": ids}, nil
}
