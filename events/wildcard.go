package events

import (
	"strings"

	"github.com/roadrunner-server/errors"
)

type wildcard struct {
	exact  string
	prefix string
	suffix string
}

func newWildcard(pattern string) (*wildcard, error) {
	origin := strings.ToLower(pattern)

	if !strings.Contains(origin, "*") {
		return &wildcard{exact: origin}, nil
	}

	parts := strings.Split(origin, "*")
	if len(parts) != 2 {
		return nil, errors.Str("pattern can contain a single wildcard only")
	}

	return &wildcard{prefix: parts[0], suffix: parts[1]}, nil
}

func (w *wildcard) match(s string) bool {
	s = strings.ToLower(s)

	if w.exact != "" {
		return w.exact == s
	}

	return len(s) >= len(w.prefix)+len(w.suffix) &&
		strings.HasPrefix(s, w.prefix) &&
		strings.HasSuffix(s, w.suffix)
}
