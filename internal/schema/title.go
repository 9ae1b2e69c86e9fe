package schema

import (
	"reflect"
	"strconv"
	"strings"
)

// titleProbe is the preference order for picking an instance's title.
// first_name and last_name are probed together.
var titleProbe = []string{"title", "name", "first_name", "slug", "id"}

// subtitleProbe lists the timestamp fields used as a subtitle.
var subtitleProbe = []string{"created_at", "published_at", "updated_at", "date"}

// Heading is the title and subtitle chosen for one instance, plus the field
// names they consumed so a field walk can skip them.
type Heading struct {
	Title         string
	Subtitle      any
	SubtitleField string
	Consumed      []string
}

// HeadingOf probes an instance's fields for a title and a subtitle. The id is
// used as the title of last resort.
func HeadingOf(id string, fields map[string]any) Heading {
	var h Heading
	for _, name := range titleProbe {
		switch name {
		case "first_name":
			first, last := scalarString(fields["first_name"]), scalarString(fields["last_name"])
			full := strings.TrimSpace(first + " " + last)
			if full == "" {
				continue
			}
			h.Title = full
			for _, n := range []string{"first_name", "last_name"} {
				if _, ok := fields[n]; ok {
					h.Consumed = append(h.Consumed, n)
				}
			}
		default:
			s := scalarString(fields[name])
			if s == "" {
				continue
			}
			h.Title = s
			h.Consumed = append(h.Consumed, name)
		}
		break
	}
	if h.Title == "" {
		h.Title = id
	}

	for _, name := range subtitleProbe {
		v, ok := fields[name]
		if !ok || IsEmpty(v) {
			continue
		}
		h.Subtitle = v
		h.SubtitleField = name
		h.Consumed = append(h.Consumed, name)
		break
	}
	return h
}

// IsEmpty reports whether a value counts as empty or falsy for display.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case int:
		return x == 0
	case int64:
		return x == 0
	case float64:
		return x == 0
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Map:
			return rv.Len() == 0
		case reflect.Pointer:
			return rv.IsNil()
		}
		return false
	}
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}
