package core

import (
	"context"
	"fmt"
)

// ObjectRefService resolves object-reference variables against the
// inventory record store. Only existence checks are needed here; the full
// record-store schema lives outside this subsystem.
type ObjectRefService struct {
	db DB
}

func NewObjectRefService(db DB) *ObjectRefService {
	return &ObjectRefService{db: db}
}

// Exists reports whether an inventory object of the given type and id is
// present.
func (s *ObjectRefService) Exists(ctx context.Context, objectType, id string) (bool, error) {
	var found bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM inventory_objects WHERE object_type = $1 AND id = $2)`,
		objectType, id,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("resolve %s %s: %w", objectType, id, err)
	}
	return found, nil
}

// ListIDs returns the ids of every inventory object of one type, used by
// job bodies that sweep the inventory.
func (s *ObjectRefService) ListIDs(ctx context.Context, objectType string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id FROM inventory_objects WHERE object_type = $1 ORDER BY id`, objectType)
	if err != nil {
		return nil, fmt.Errorf("list %s objects: %w", objectType, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan object id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate object ids: %w", err)
	}
	return ids, nil
}
