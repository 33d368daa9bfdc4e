package guard

import (
	"strings"

	"nutri-auth/internal/domain"
)

// DefaultRules is the front end's route table
func DefaultRules() []Rule {
	protected := func(path string, types ...domain.UserType) Rule {
		return Rule{Path: path, RequireAuth: true, AllowedUserTypes: types}
	}
	return []Rule{
		{Path: AuthPath, GuestOnly: true},
		{Path: "/register", GuestOnly: true},
		protected("/community"),
		protected("/aicoach"),
		protected("/grocery-list"),
		protected("/thank-you"),
		protected("/details"),
		protected("/user-dashboard"),
		protected("/test-redirect"),
		protected("/expert-dashboard", domain.UserTypeExpert),
		protected("/admin/panel", domain.UserTypeAdmin),
	}
}

// Table matches request paths against rules. A segment starting with ':'
// matches any single segment. Paths without a rule are public.
type Table struct {
	exact    map[string]Rule
	patterns []Rule
}

// NewTable builds a table; later rules win over earlier ones for the same path
func NewTable(rules []Rule) *Table {
	t := &Table{exact: make(map[string]Rule)}
	for _, r := range rules {
		r.Path = cleanPath(r.Path)
		if strings.Contains(r.Path, "/:") {
			t.patterns = append(t.patterns, r)
			continue
		}
		t.exact[r.Path] = r
	}
	return t
}

// Match returns the rule for path
func (t *Table) Match(path string) Rule {
	path = cleanPath(path)
	if r, ok := t.exact[path]; ok {
		return r
	}
	for i := len(t.patterns) - 1; i >= 0; i-- {
		if matchPattern(t.patterns[i].Path, path) {
			return t.patterns[i]
		}
	}
	return Rule{Path: path}
}

// Rules returns every rule in the table
func (t *Table) Rules() []Rule {
	rules := make([]Rule, 0, len(t.exact)+len(t.patterns))
	for _, r := range t.exact {
		rules = append(rules, r)
	}
	return append(rules, t.patterns...)
}

func cleanPath(p string) string {
	p = strings.SplitN(p, "?", 2)[0]
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}

func matchPattern(pattern, path string) bool {
	ps := strings.Split(pattern, "/")
	xs := strings.Split(path, "/")
	if len(ps) != len(xs) {
		return false
	}
	for i := range ps {
		if strings.HasPrefix(ps[i], ":") {
			if xs[i] == "" {
				return false
			}
			continue
		}
		if ps[i] != xs[i] {
			return false
		}
	}
	return true
}
