package tree

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned for paths that are too deep or point past the end of a child list.
var ErrInvalidPath = errors.New("invalid path")

// MaxDepth is the deepest addressable level: section, item, item inside a container.
const MaxDepth = 3

// Path addresses a node. The empty path is the root, [t] a section, [t, i] child i
// of section t and [t, i, j] child j of container i.
type Path []int

// ParsePath reads the dotted form produced by [Path.String]. "" and "/" are the root.
func ParsePath(s string) (Path, error) {
	s = strings.Trim(strings.TrimSpace(s), "/")
	if s == "" {
		return Path{}, nil
	}

	parts := strings.Split(s, ".")
	if len(parts) > MaxDepth {
		return nil, fmt.Errorf("%w: %q is deeper than %d", ErrInvalidPath, s, MaxDepth)
	}

	p := make(Path, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, s)
		}
		p[i] = n
	}
	return p, nil
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, n := range p {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Child returns a new path one level below p.
func (p Path) Child(i int) Path {
	child := make(Path, len(p)+1)
	copy(child, p)
	child[len(p)] = i
	return child
}

// key identifies p in the load-state table.
func (p Path) key() string { return "/" + p.String() }
