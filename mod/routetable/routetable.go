// Package routetable implements the longest-prefix route table edgegate
// matches every inbound request against. Matching is backed by
// github.com/armon/go-radix, the same library the teacher's plugin
// router uses for static path capture.
package routetable

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/armon/go-radix"
)

// Route is one entry in a snapshot: a path prefix and the upstream it
// forwards to.
type Route struct {
	ID           string
	PathPrefix   string
	UpstreamBase *url.URL
	StripPath    bool // strip PathPrefix from the forwarded request path
}

// entry is what actually gets stored in the radix tree, with the route's
// insertion index alongside it. Match does not consult the index: From
// rejects a prefix that appears twice, so no two entries share a key.
type entry struct {
	route *Route
	index int
}

// Snapshot is an immutable, longest-prefix-matched collection of routes.
// Once built it is safe for concurrent read access by any number of
// goroutines: the radix tree underneath is never mutated after From
// returns.
type Snapshot struct {
	tree   *radix.Tree
	routes []*Route
}

// From validates and compiles routes into an immutable Snapshot. Every
// prefix must start with "/"; duplicate prefixes are rejected because a
// silent shadow would break the config loader's determinism guarantee.
func From(routes []*Route) (*Snapshot, error) {
	tree := radix.New()
	seen := make(map[string]bool, len(routes))
	compiled := make([]*Route, 0, len(routes))

	for i, r := range routes {
		if r.PathPrefix == "" || !strings.HasPrefix(r.PathPrefix, "/") {
			return nil, fmt.Errorf("routetable: prefix %q must start with /", r.PathPrefix)
		}
		if seen[r.PathPrefix] {
			return nil, fmt.Errorf("routetable: duplicate prefix %q", r.PathPrefix)
		}
		if r.UpstreamBase == nil {
			return nil, fmt.Errorf("routetable: route for %q has no upstream", r.PathPrefix)
		}
		seen[r.PathPrefix] = true

		tree.Insert(r.PathPrefix, &entry{route: r, index: i})
		compiled = append(compiled, r)
	}

	return &Snapshot{tree: tree, routes: compiled}, nil
}

// ErrNoMatch is returned by Match when no route's prefix matches path.
var ErrNoMatch = errors.New("routetable: no matching route")

// Match returns the route whose prefix is the longest prefix of path.
// Ties are impossible in the underlying tree (keys are unique strings),
// so insertion order only matters at construction time via From's
// duplicate check.
func (s *Snapshot) Match(path string) (*Route, error) {
	_, v, ok := s.tree.LongestPrefix(path)
	if !ok {
		return nil, ErrNoMatch
	}
	return v.(*entry).route, nil
}

// Routes returns the compiled routes in insertion order.
func (s *Snapshot) Routes() []*Route {
	out := make([]*Route, len(s.routes))
	copy(out, s.routes)
	return out
}

// Len reports how many routes the snapshot holds.
func (s *Snapshot) Len() int {
	return len(s.routes)
}
