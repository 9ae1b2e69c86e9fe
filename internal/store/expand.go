package store

import (
	"context"
	"errors"

	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/types"
)

// expand replaces stored relation ids with references carrying a display
// title, the target's first image and a snapshot of its own non-relation
// fields. Snapshots never include relations, so expansion is one level deep.
func (s *Store) expand(ctx context.Context, es *schema.EntitySchema, inst *types.Instance) {
	for _, f := range es.Fields {
		if f.Kind != schema.KindRelation {
			continue
		}
		v, ok := inst.Fields[f.Name]
		if !ok || v == nil {
			continue
		}
		if f.Many() {
			ids, _ := types.RefsOf(v)
			refs := make([]types.Ref, 0, len(ids))
			for _, r := range ids {
				refs = append(refs, s.ref(ctx, f.Target, r.ID))
			}
			inst.Fields[f.Name] = refs
			continue
		}
		if r, ok := types.RefOf(v); ok {
			inst.Fields[f.Name] = s.ref(ctx, f.Target, r.ID)
		}
	}
}

func (s *Store) ref(ctx context.Context, t types.EntityType, id string) types.Ref {
	ref := types.Ref{ID: id, Type: t}
	target, ok := s.reg.Lookup(t)
	if !ok {
		return ref
	}
	fields, err := s.load(ctx, s.db, t, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("expanding relation", "type", t, "id", id, "error", err)
		}
		return ref
	}

	snap := make(map[string]any, len(fields))
	for _, f := range target.Fields {
		v, ok := fields[f.Name]
		if !ok || f.Kind == schema.KindRelation || schema.IsEmpty(v) {
			continue
		}
		snap[f.Name] = v
		if ref.Image == "" && f.Kind == schema.KindImage {
			if src, ok := v.(string); ok {
				ref.Image = src
			}
		}
	}
	ref.Display = schema.HeadingOf(id, snap).Title
	ref.Snapshot = snap
	return ref
}
