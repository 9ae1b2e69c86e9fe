package schema

import (
	"net/url"
	"strings"
)

// RouteMatch is the result of resolving a path back to an entity type.
type RouteMatch struct {
	Nav NavDescriptor
	ID  string // "" for list endpoints
	// Rest holds path segments after the id, e.g. ["display"].
	Rest []string
}

// ResolveByRoute identifies the entity type a screen path or API endpoint
// belongs to. It matches the list endpoint (optionally followed by an id and
// sub-resources) and the detail route template. When several descriptors
// match, the one with the longest literal prefix wins.
func (r *Registry) ResolveByRoute(pathOrEndpoint string) (RouteMatch, bool) {
	segs := splitPath(pathOrEndpoint)

	var (
		best      RouteMatch
		bestScore = -1
	)
	for _, t := range r.order {
		nav := r.entities[t].Nav
		if m, score, ok := matchEndpoint(nav, segs); ok && score > bestScore {
			best, bestScore = m, score
		}
		if m, score, ok := matchTemplate(nav, segs); ok && score > bestScore {
			best, bestScore = m, score
		}
	}
	return best, bestScore >= 0
}

func matchEndpoint(nav NavDescriptor, segs []string) (RouteMatch, int, bool) {
	ep := splitPath(nav.Endpoint)
	if len(ep) == 0 || len(segs) < len(ep) {
		return RouteMatch{}, 0, false
	}
	for i := range ep {
		if ep[i] != segs[i] {
			return RouteMatch{}, 0, false
		}
	}
	m := RouteMatch{Nav: nav}
	if len(segs) > len(ep) {
		m.ID = segs[len(ep)]
		m.Rest = segs[len(ep)+1:]
	}
	return m, len(ep), true
}

func matchTemplate(nav NavDescriptor, segs []string) (RouteMatch, int, bool) {
	tpl := splitPath(nav.DetailRoute)
	if len(tpl) == 0 || len(tpl) != len(segs) {
		return RouteMatch{}, 0, false
	}
	m := RouteMatch{Nav: nav}
	literal := 0
	for i, part := range tpl {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			if part == "{id}" {
				m.ID = segs[i]
			}
			continue
		}
		if part != segs[i] {
			return RouteMatch{}, 0, false
		}
		literal++
	}
	return m, literal, true
}

func splitPath(p string) []string {
	if u, err := url.Parse(p); err == nil {
		p = u.Path
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
