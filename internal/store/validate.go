package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/entitykit/internal/edit"
	"github.com/matthewbaird/entitykit/internal/schema"
	"github.com/matthewbaird/entitykit/internal/types"
)

// fieldErrors collects messages per field in the order they were found.
type fieldErrors map[string][]string

func (fe fieldErrors) add(field, format string, args ...any) {
	fe[field] = append(fe[field], fmt.Sprintf(format, args...))
}

// normalize validates a complete field map against its schema and rewrites it
// into its stored form: options and dates canonicalised, relations reduced to
// ids, uploads recorded and replaced by their storage path.
func (s *Store) normalize(ctx context.Context, q querier, es *schema.EntitySchema, id string, fields map[string]any) error {
	errs := fieldErrors{}
	for name := range fields {
		if _, ok := es.Field(name); !ok {
			errs.add(name, "is not a field of %s", es.Type)
		}
	}

	var uploads []pendingUpload
	for _, f := range es.Fields {
		v, present := fields[f.Name]
		if !present || schema.IsEmpty(v) && f.Kind != schema.KindBool {
			if f.Required {
				errs.add(f.Name, "%s is required", fieldLabel(f))
			}
			if present && v == "" {
				fields[f.Name] = nil
			}
			continue
		}

		var (
			out any
			msg string
		)
		switch {
		case f.Kind == schema.KindRelation:
			out, msg = s.relation(ctx, q, f, v)
		case f.Kind.IsMedia():
			out, msg, uploads = media(f, v, es.Type, id, uploads)
		case f.Many() && f.Kind != schema.KindMultiChoice && f.Kind != schema.KindJSON:
			out, msg = each(v, func(x any) (any, string) { return scalar(f, x) })
		default:
			out, msg = scalar(f, v)
		}
		if msg != "" {
			errs.add(f.Name, "%s", msg)
			continue
		}
		fields[f.Name] = out
	}

	if len(errs) > 0 {
		return &edit.ValidationError{Fields: errs, Message: fmt.Sprintf("invalid %s", es.Type)}
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	for _, u := range uploads {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO uploads (id, entity_type, entity_id, field, filename, content_type, size, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			u.id, string(es.Type), id, u.field, u.upload.Filename, u.upload.ContentType, len(u.upload.Data), now); err != nil {
			return fmt.Errorf("recording upload %s: %w", u.upload.Filename, err)
		}
	}
	return nil
}

// scalar validates one non-relation, non-media value.
func scalar(f schema.FieldDefinition, v any) (any, string) {
	switch f.Kind {
	case schema.KindText, schema.KindLongText:
		s, ok := v.(string)
		if !ok {
			return nil, "must be text"
		}
		return s, ""
	case schema.KindEmail:
		s, ok := v.(string)
		if !ok {
			return nil, "must be an email address"
		}
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Name != "" {
			return nil, fmt.Sprintf("%q is not a valid email address", s)
		}
		return addr.Address, ""
	case schema.KindEnum:
		s := fmt.Sprint(v)
		if !hasOption(f, s) {
			return nil, fmt.Sprintf("%q is not one of %s", s, optionList(f))
		}
		return s, ""
	case schema.KindMultiChoice:
		vals, ok := splitChoices(v)
		if !ok {
			return nil, "must be a list of choices"
		}
		for _, c := range vals {
			if !hasOption(f, c) {
				return nil, fmt.Sprintf("%q is not one of %s", c, optionList(f))
			}
		}
		return strings.Join(vals, ","), ""
	case schema.KindBool:
		switch x := v.(type) {
		case bool:
			return x, ""
		case string:
			if x == "" {
				return false, ""
			}
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, "must be true or false"
			}
			return b, ""
		case nil:
			return false, ""
		default:
			return nil, "must be true or false"
		}
	case schema.KindInt:
		n, ok := toFloat(v)
		if !ok || n != math.Trunc(n) {
			return nil, "must be a whole number"
		}
		if n >= math.MaxInt64 || n < math.MinInt64 {
			return nil, "is out of range"
		}
		return int64(n), ""
	case schema.KindDecimal:
		n, ok := toFloat(v)
		if !ok {
			return nil, "must be a number"
		}
		return n, ""
	case schema.KindDate:
		t, ok := toTime(v)
		if !ok {
			return nil, "must be a date (YYYY-MM-DD)"
		}
		return t.Format(edit.DateLayout), ""
	case schema.KindDateTime:
		t, ok := toTime(v)
		if !ok {
			return nil, "must be a timestamp (RFC 3339)"
		}
		return t.UTC().Format(time.RFC3339), ""
	case schema.KindJSON:
		return v, ""
	case schema.KindImage, schema.KindAudio, schema.KindVideo, schema.KindRelation:
		return nil, fmt.Sprintf("%s values are not scalar", f.Kind)
	default:
		panic(fmt.Sprintf("store: unhandled field kind %s", f.Kind))
	}
}

// relation reduces references to ids and checks that every target exists.
func (s *Store) relation(ctx context.Context, q querier, f schema.FieldDefinition, v any) (any, string) {
	if f.Many() {
		refs, ok := types.RefsOf(v)
		if !ok {
			return nil, "must be a list of references"
		}
		ids := make([]string, 0, len(refs))
		for _, ref := range refs {
			if msg := s.checkTarget(ctx, q, f, ref.ID); msg != "" {
				return nil, msg
			}
			ids = append(ids, ref.ID)
		}
		return ids, ""
	}
	ref, ok := types.RefOf(v)
	if !ok {
		return nil, "must be a reference"
	}
	if msg := s.checkTarget(ctx, q, f, ref.ID); msg != "" {
		return nil, msg
	}
	return ref.ID, ""
}

func (s *Store) checkTarget(ctx context.Context, q querier, f schema.FieldDefinition, id string) string {
	found, err := s.exists(ctx, q, f.Target, id)
	if err != nil {
		s.log.Error("checking relation target", "field", f.Name, "target", f.Target, "error", err)
		return "could not be checked"
	}
	if !found {
		return fmt.Sprintf("%s %s does not exist", f.Target, id)
	}
	return ""
}

type pendingUpload struct {
	id     string
	field  string
	upload types.Upload
}

// media keeps URLs and stored paths as they are and turns uploads into
// "uploads/<id>/<filename>" paths, queueing their metadata for recording.
func media(f schema.FieldDefinition, v any, t types.EntityType, id string, pending []pendingUpload) (any, string, []pendingUpload) {
	one := func(x any) (any, string) {
		var up types.Upload
		switch m := x.(type) {
		case string:
			return m, ""
		case types.Upload:
			up = m
		case *types.Upload:
			if m == nil {
				return nil, ""
			}
			up = *m
		case map[string]any:
			return m, ""
		default:
			return nil, fmt.Sprintf("must be a %s file or URL", f.Kind)
		}
		if up.Filename == "" {
			return nil, "upload has no file name"
		}
		uid := uuid.NewString()
		pending = append(pending, pendingUpload{id: uid, field: f.Name, upload: up})
		return "uploads/" + uid + "/" + up.Filename, ""
	}
	if f.Many() {
		out, msg := each(v, one)
		return out, msg, pending
	}
	out, msg := one(v)
	return out, msg, pending
}

// each applies fn to every element of a list value.
func each(v any, fn func(any) (any, string)) (any, string) {
	var list []any
	switch x := v.(type) {
	case []any:
		list = x
	case []string:
		for _, s := range x {
			list = append(list, s)
		}
	case []types.Upload:
		for _, u := range x {
			list = append(list, u)
		}
	default:
		list = []any{v}
	}
	out := make([]any, 0, len(list))
	for _, x := range list {
		if schema.IsEmpty(x) {
			continue
		}
		y, msg := fn(x)
		if msg != "" {
			return nil, msg
		}
		out = append(out, y)
	}
	return out, ""
}

func hasOption(f schema.FieldDefinition, value string) bool {
	for _, o := range f.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

func optionList(f schema.FieldDefinition) string {
	vals := make([]string, len(f.Options))
	for i, o := range f.Options {
		vals[i] = strconv.Quote(o.Value)
	}
	return strings.Join(vals, ", ")
}

func splitChoices(v any) ([]string, bool) {
	var raw []string
	switch x := v.(type) {
	case string:
		raw = strings.Split(x, ",")
	case []string:
		raw = x
	case []any:
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			raw = append(raw, s)
		}
	default:
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		n, err := x.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return n, err == nil
	default:
		return 0, false
	}
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", edit.DateLayout}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func fieldLabel(f schema.FieldDefinition) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}
