package synctree

import (
	"fmt"
	"regexp"
	"strings"
)

// URLParameters is a string-to-string map of named route parameters.
type URLParameters map[string]string

// Route matches request paths to parameter maps and back.
type Route interface {
	Name() string
	// CanHandle reports whether path matches this route, returning the
	// extracted parameters on success.
	CanHandle(path string) (URLParameters, bool)
	// PathFor renders path for the given parameters, the inverse of
	// CanHandle.
	PathFor(params URLParameters) (string, error)
}

// ExactRoute matches a path by string equality.
type ExactRoute struct {
	name string
	path string
}

// NewExactRoute builds a Route matching exactly path.
func NewExactRoute(name, path string) *ExactRoute {
	return &ExactRoute{name: name, path: path}
}

func (r *ExactRoute) Name() string { return r.name }

func (r *ExactRoute) CanHandle(path string) (URLParameters, bool) {
	if path == r.path {
		return URLParameters{}, true
	}
	return nil, false
}

func (r *ExactRoute) PathFor(URLParameters) (string, error) { return r.path, nil }

// RegexRoute matches a path against a compiled regular expression, mapping
// declared capture-group indices to named parameters, and supports reverse
// templating via a "{name}" placeholder template.
type RegexRoute struct {
	name     string
	pattern  string
	rx       *regexp.Regexp
	groups   map[int]string // capture index -> param name
	template string
}

// NewRegexRoute compiles pattern and binds groups (capture index -> name) and
// the reverse template used by PathFor.
func NewRegexRoute(name, pattern string, groups map[int]string, template string) (*RegexRoute, error) {
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling route pattern %q: %w", pattern, err)
	}
	return &RegexRoute{
		name:     name,
		pattern:  pattern,
		rx:       rx,
		groups:   groups,
		template: template,
	}, nil
}

func (r *RegexRoute) Name() string     { return r.name }
func (r *RegexRoute) Pattern() string  { return r.pattern }
func (r *RegexRoute) Template() string { return r.template }

// Groups returns the declared capture-index -> parameter-name map.
func (r *RegexRoute) Groups() map[int]string { return r.groups }

func (r *RegexRoute) CanHandle(path string) (URLParameters, bool) {
	m := r.rx.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}

	params := URLParameters{}
	for idx, name := range r.groups {
		if idx >= len(m) {
			// Declared capture index exceeds what the pattern actually
			// captured; treat as non-match rather than panicking.
			return nil, false
		}
		params[name] = m[idx]
	}
	return params, true
}

var rxPlaceholder = regexp.MustCompile(`\{[A-Za-z0-9_]+\}`)

// PathFor substitutes every "{name}" in the reverse template with the
// supplied parameter, iterating until no placeholder remains resolvable.
// Any residual "{" or "}" after substitution is an error.
func (r *RegexRoute) PathFor(params URLParameters) (string, error) {
	s := r.template
	for {
		replaced := false
		s = rxPlaceholder.ReplaceAllStringFunc(s, func(tok string) string {
			name := tok[1 : len(tok)-1]
			if v, ok := params[name]; ok {
				replaced = true
				return v
			}
			return tok
		})
		if !replaced {
			break
		}
	}

	if strings.ContainsAny(s, "{}") {
		return "", fmt.Errorf("unresolved placeholder(s) in path template: %q", s)
	}
	return s, nil
}
