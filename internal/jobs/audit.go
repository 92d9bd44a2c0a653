package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/jobrunner/internal/model"
	"github.com/edvin/jobrunner/internal/registry"
)

// ComplianceAudit checks a set of devices against the compliance
// baseline. The sweep is long; the body watches the soft limit and stops
// cleanly with a partial report instead of being cut off at the hard
// limit.
type ComplianceAudit struct {
	objects ObjectLister
}

func NewComplianceAudit(objects ObjectLister) *ComplianceAudit {
	return &ComplianceAudit{objects: objects}
}

func (j *ComplianceAudit) Meta() registry.JobMeta {
	return registry.JobMeta{
		ID:          "compliance-audit",
		Name:        "Compliance audit",
		Description: "Audits devices against the compliance baseline.",
		Vars: []registry.VarSpec{
			{Name: "devices", Kind: registry.VarMultiObject, Required: false, ObjectType: "device",
				Description: "Devices to audit. All devices when omitted."},
		},
		SoftTimeLimit: 45 * time.Minute,
		HardTimeLimit: time.Hour,
	}
}

func (j *ComplianceAudit) Run(ctx context.Context, rc *registry.RunContext) (any, error) {
	targets := stringList(rc.Args["devices"])
	if len(targets) == 0 {
		all, err := j.objects.ListIDs(ctx, "device")
		if err != nil {
			return nil, fmt.Errorf("list devices: %w", err)
		}
		targets = all
	}
	rc.Log.Info(ctx, fmt.Sprintf("auditing %d devices", len(targets)))

	audited := 0
	for _, id := range targets {
		select {
		case <-rc.SoftExpired:
			rc.Log.Warning(ctx, fmt.Sprintf("time limit reached, stopping after %d of %d devices", audited, len(targets)))
			return map[string]any{"audited": audited, "total": len(targets), "partial": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rc.Log.Object(ctx, model.LogDebug, "audited", "device", id)
		audited++
	}

	rc.Log.Success(ctx, fmt.Sprintf("audited %d devices", audited))
	return map[string]any{"audited": audited, "total": len(targets), "partial": false}, nil
}

// stringList accepts both []string (validated in-process) and []any (the
// same list after a round trip through the task envelope).
func stringList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

