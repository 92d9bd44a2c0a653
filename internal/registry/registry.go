package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/edvin/jobrunner/internal/core"
	"github.com/edvin/jobrunner/internal/model"
)

// Definitions is the slice of the job definition store the registry
// needs. *core.JobDefinitionService satisfies it.
type Definitions interface {
	GetByID(ctx context.Context, id string) (*model.JobDefinition, error)
	Sync(ctx context.Context, j *model.JobDefinition) error
	MarkNotInstalled(ctx context.Context, registeredIDs []string) error
}

// Registry is the explicit load-once table mapping job identifiers to
// their entry points and metadata. It is rebuilt on process start and on
// explicit Refresh; there is no other global job state.
type Registry struct {
	mu       sync.RWMutex
	runners  map[string]Runner
	defs     Definitions
	resolver ObjectResolver
}

func New(defs Definitions, resolver ObjectResolver) *Registry {
	return &Registry{
		runners:  make(map[string]Runner),
		defs:     defs,
		resolver: resolver,
	}
}

// Register adds a job body to the table. Duplicate identifiers are a
// programming error surfaced at startup.
func (r *Registry) Register(runner Runner) error {
	meta := runner.Meta()
	if meta.ID == "" {
		return fmt.Errorf("register job: empty identifier")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runners[meta.ID]; exists {
		return fmt.Errorf("register job %q: already registered", meta.ID)
	}
	r.runners[meta.ID] = runner
	return nil
}

// Lookup returns the runner for a job identifier.
func (r *Registry) Lookup(id string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[id]
	if !ok {
		return nil, fmt.Errorf("job %q: %w", id, core.ErrNotFound)
	}
	return runner, nil
}

// IDs returns the registered job identifiers in stable order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.runners))
	for id := range r.runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Refresh syncs the definition table with the registered job bodies:
// upserts every registered job and flags definitions whose code is gone
// as not-installed.
func (r *Registry) Refresh(ctx context.Context) error {
	ids := r.IDs()
	for _, id := range ids {
		runner, err := r.Lookup(id)
		if err != nil {
			return err
		}
		meta := runner.Meta()
		def := &model.JobDefinition{
			ID:                    meta.ID,
			Name:                  meta.Name,
			Description:           meta.Description,
			IsSingleton:           meta.IsSingleton,
			HasSensitiveVariables: meta.HasSensitiveVariables,
			ApprovalRequired:      meta.ApprovalRequired,
			DryRunDefault:         meta.DryRunDefault,
			SoftTimeLimitSeconds:  int(meta.SoftTimeLimit.Seconds()),
			HardTimeLimitSeconds:  int(meta.HardTimeLimit.Seconds()),
		}
		if err := r.defs.Sync(ctx, def); err != nil {
			return err
		}
	}
	if err := r.defs.MarkNotInstalled(ctx, ids); err != nil {
		return err
	}
	return nil
}

// Definition returns the persisted definition for a registered job.
func (r *Registry) Definition(ctx context.Context, id string) (*model.JobDefinition, error) {
	if _, err := r.Lookup(id); err != nil {
		return nil, err
	}
	return r.defs.GetByID(ctx, id)
}

// ValidateInputs checks raw arguments against the job's declared variable
// schema and returns the typed argument snapshot. The job must be enabled;
// a disabled job fails fast with a validation error naming it. This is a
// precondition check, not a transient failure, and is never retried.
func (r *Registry) ValidateInputs(ctx context.Context, id string, raw map[string]any) (map[string]any, error) {
	runner, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	def, err := r.defs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !def.Enabled {
		return nil, core.Validationf("job %q is disabled", id)
	}
	if !def.Installed {
		return nil, core.Validationf("job %q is not installed", id)
	}

	meta := runner.Meta()
	typed := make(map[string]any, len(meta.Vars))
	declared := make(map[string]bool, len(meta.Vars))

	for _, spec := range meta.Vars {
		declared[spec.Name] = true
		value, present := raw[spec.Name]
		if !present {
			if spec.Default != nil {
				typed[spec.Name] = spec.Default
				continue
			}
			if spec.Required {
				return nil, core.Validationf("variable %q is required for job %q", spec.Name, id)
			}
			continue
		}
		v, err := validateVar(ctx, r.resolver, spec, value)
		if err != nil {
			return nil, err
		}
		typed[spec.Name] = v
	}

	for name := range raw {
		if !declared[name] {
			return nil, core.Validationf("job %q does not declare a variable %q", id, name)
		}
	}
	return typed, nil
}
