package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edvin/jobrunner/internal/registry"
)

// SnapshotStore persists a backup payload. *filestore.Store satisfies it.
type SnapshotStore interface {
	SaveInput(ctx context.Context, resultID, varName, filename string, data []byte) (string, error)
}

// InventoryBackup snapshots the inventory into object storage. It is a
// singleton: two concurrent snapshots would race on the same object keys.
type InventoryBackup struct {
	objects ObjectLister
	store   SnapshotStore
	types   []string
}

func NewInventoryBackup(objects ObjectLister, store SnapshotStore, objectTypes []string) *InventoryBackup {
	return &InventoryBackup{objects: objects, store: store, types: objectTypes}
}

func (j *InventoryBackup) Meta() registry.JobMeta {
	return registry.JobMeta{
		ID:            "inventory-backup",
		Name:          "Inventory backup",
		Description:   "Snapshots all inventory objects into object storage.",
		IsSingleton:   true,
		SoftTimeLimit: 20 * time.Minute,
		HardTimeLimit: 30 * time.Minute,
	}
}

func (j *InventoryBackup) Run(ctx context.Context, rc *registry.RunContext) (any, error) {
	snapshot := make(map[string][]string, len(j.types))
	for _, t := range j.types {
		ids, err := j.objects.ListIDs(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", t, err)
		}
		snapshot[t] = ids
		rc.Log.Info(ctx, fmt.Sprintf("captured %d %s objects", len(ids), t))
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	if rc.DryRun {
		rc.Log.Info(ctx, fmt.Sprintf("dry run, would store %d bytes", len(payload)))
		return map[string]any{"dry_run": true, "bytes": len(payload)}, nil
	}

	key, err := j.store.SaveInput(ctx, rc.ResultID, "snapshot", "inventory.json", payload)
	if err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}
	rc.Log.Success(ctx, "snapshot stored at "+key)
	return map[string]any{"key": key, "bytes": len(payload)}, nil
}
