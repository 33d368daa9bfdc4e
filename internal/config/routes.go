package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"nutri-auth/internal/domain"
	"nutri-auth/internal/guard"
)

// routesFile is the YAML layout of a route table override
type routesFile struct {
	Routes []guard.Rule `yaml:"routes"`
}

// LoadRoutes returns the built-in route table, with the rules in path
// appended when path is set. File rules override built-in ones for the same
// path.
func LoadRoutes(path string) (*guard.Table, error) {
	rules := guard.DefaultRules()
	if path == "" {
		return guard.NewTable(rules), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}
	extra, err := ParseRoutes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return guard.NewTable(append(rules, extra...)), nil
}

// ParseRoutes decodes and validates a YAML route table
func ParseRoutes(data []byte) ([]guard.Rule, error) {
	var f routesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid routes YAML: %w", err)
	}

	for i, r := range f.Routes {
		if r.Path == "" || r.Path[0] != '/' {
			return nil, fmt.Errorf("route %d: path must start with /", i)
		}
		if r.GuestOnly && r.RequireAuth {
			return nil, fmt.Errorf("route %s: guestOnly and requireAuth are exclusive", r.Path)
		}
		for j, t := range r.AllowedUserTypes {
			parsed := domain.ParseUserType(string(t))
			if !parsed.Known() {
				return nil, fmt.Errorf("route %s: unknown user type %q", r.Path, t)
			}
			f.Routes[i].AllowedUserTypes[j] = parsed
		}
		if len(r.AllowedUserTypes) > 0 {
			f.Routes[i].RequireAuth = true
		}
	}
	return f.Routes, nil
}
