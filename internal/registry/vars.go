package registry

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/edvin/jobrunner/internal/core"
)

// VarKind enumerates the typed variable kinds a job may declare.
type VarKind string

const (
	VarString      VarKind = "string"
	VarObject      VarKind = "object-reference"
	VarMultiObject VarKind = "multi-object-reference"
	VarFile        VarKind = "file"
	VarNetwork     VarKind = "network"
)

// VarSpec declares one typed input of a job. ObjectType names the
// inventory object type for the reference kinds.
type VarSpec struct {
	Name        string
	Kind        VarKind
	Required    bool
	Default     any
	Description string
	ObjectType  string
}

// ObjectResolver checks that an object-reference value points at an
// existing inventory record.
type ObjectResolver interface {
	Exists(ctx context.Context, objectType, id string) (bool, error)
}

// validateVar checks one raw value against its spec and returns the typed
// value to store in the argument snapshot.
func validateVar(ctx context.Context, resolver ObjectResolver, spec VarSpec, raw any) (any, error) {
	switch spec.Kind {
	case VarString, VarFile:
		s, ok := raw.(string)
		if !ok {
			return nil, core.Validationf("variable %q must be a string", spec.Name)
		}
		return s, nil

	case VarNetwork:
		s, ok := raw.(string)
		if !ok {
			return nil, core.Validationf("variable %q must be an IP address or prefix", spec.Name)
		}
		if _, err := netip.ParseAddr(s); err == nil {
			return s, nil
		}
		if _, err := netip.ParsePrefix(s); err == nil {
			return s, nil
		}
		return nil, core.Validationf("variable %q: %q is not a valid IP address or prefix", spec.Name, s)

	case VarObject:
		id, ok := raw.(string)
		if !ok {
			return nil, core.Validationf("variable %q must be an object id", spec.Name)
		}
		if err := resolveRef(ctx, resolver, spec, id); err != nil {
			return nil, err
		}
		return id, nil

	case VarMultiObject:
		items, ok := raw.([]any)
		if !ok {
			return nil, core.Validationf("variable %q must be a list of object ids", spec.Name)
		}
		ids := make([]string, 0, len(items))
		for _, item := range items {
			id, ok := item.(string)
			if !ok {
				return nil, core.Validationf("variable %q must contain only object ids", spec.Name)
			}
			if err := resolveRef(ctx, resolver, spec, id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil

	default:
		return nil, core.Validationf("variable %q has unknown kind %q", spec.Name, spec.Kind)
	}
}

func resolveRef(ctx context.Context, resolver ObjectResolver, spec VarSpec, id string) error {
	found, err := resolver.Exists(ctx, spec.ObjectType, id)
	if err != nil {
		return fmt.Errorf("resolve variable %q: %w", spec.Name, err)
	}
	if !found {
		return core.Validationf("variable %q: no %s with id %q", spec.Name, spec.ObjectType, id)
	}
	return nil
}
